// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nessorch/orchestrator/internal/orchestrator"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
)

// Router wires the admin/metrics HTTP surface over an orchestrator.API,
// in the same handler-holding shape as the teacher's router.Router.
type Router struct {
	handler  *Handler
	registry *prometheus.Registry
}

// New constructs a Router. registry may be nil to use the default
// prometheus registry.
func New(api *orchestrator.API, log logger.Logger, registry *prometheus.Registry) *Router {
	return &Router{handler: NewHandler(api, log), registry: registry}
}

// Setup configures a gin.Engine with CORS, recovery, and every route.
func (r *Router) Setup(allowedOrigins []string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger())
	engine.Use(gin.Recovery())
	engine.Use(CORS(allowedOrigins))
	engine.SetTrustedProxies(nil)

	engine.GET("/health", r.handler.Health)
	if r.registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	} else {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := engine.Group("/api/v1")
	{
		api.POST("/scans", r.handler.SubmitScan)
		api.GET("/tasks", r.handler.ListTasks)
		api.GET("/pools", r.handler.ListPools)
		api.GET("/pools/:pool/scanners", r.handler.ListScanners)
		api.GET("/pools/:pool/queue", r.handler.GetQueueStatus)
		api.GET("/pools/:pool/tasks/:id", r.handler.GetTaskStatus)
		api.GET("/pools/:pool/tasks/:id/results", r.handler.GetTaskResults)
		api.GET("/pools/:pool/dlq", r.handler.ListDeadLetters)
		api.GET("/pools/:pool/dlq/:id", r.handler.GetDeadLetter)
		api.POST("/pools/:pool/dlq/:id/retry", r.handler.RetryDeadLetter)
		api.DELETE("/pools/:pool/dlq", r.handler.PurgeDeadLetters)
	}

	return engine
}
