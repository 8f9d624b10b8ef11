// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS mirrors the teacher's wildcard-reflecting CORS middleware: operators
// running the admin surface behind a separate dashboard origin still need
// credentialed cross-origin requests to work.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		allowCredentials := false
		for _, allowedOrigin := range allowedOrigins {
			if allowedOrigin == "*" {
				allowed = true
				if origin != "" {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					allowCredentials = true
				} else {
					c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				}
				break
			} else if allowedOrigin == origin {
				allowed = true
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
				allowCredentials = true
				break
			}
		}

		if allowed {
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if allowCredentials {
				c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// CORSWithOrigins builds CORS middleware from a comma-separated origin list,
// defaulting to wildcard when empty.
func CORSWithOrigins(originsCSV string) gin.HandlerFunc {
	var origins []string
	for _, part := range strings.Split(originsCSV, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return CORS(origins)
}
