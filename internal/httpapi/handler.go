// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package httpapi exposes the orchestrator's operability surface: an admin
// HTTP API for submitting and inspecting scans, and a metrics endpoint. It is
// explicitly not the MCP transport — tool dispatch lives elsewhere — this is
// the surface an operator's dashboard or curl talks to.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nessorch/orchestrator/internal/models"
	"github.com/nessorch/orchestrator/internal/orchestrator"
	orcherrors "github.com/nessorch/orchestrator/internal/pkg/errors"
	"github.com/nessorch/orchestrator/internal/pkg/logger"
	"github.com/nessorch/orchestrator/internal/pkg/validator"
	"github.com/nessorch/orchestrator/internal/results"
)

// Handler binds HTTP requests to the orchestrator API facade.
type Handler struct {
	api    *orchestrator.API
	log    logger.Logger
	valid  *validator.Validator
}

// NewHandler constructs a Handler over an orchestrator.API.
func NewHandler(api *orchestrator.API, log logger.Logger) *Handler {
	return &Handler{api: api, log: log, valid: validator.New()}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	kind := orcherrors.KindInternal
	if ae, ok := err.(*orcherrors.AppError); ok {
		kind = ae.Kind
	}
	status := orcherrors.HTTPStatus(kind)
	h.log.Error("request failed: %v", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

// SubmitScan handles POST /api/v1/scans.
func (h *Handler) SubmitScan(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if err := h.valid.Targets(req.Targets); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.api.SubmitScan(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTaskStatus handles GET /api/v1/pools/:pool/tasks/:id.
func (h *Handler) GetTaskStatus(c *gin.Context) {
	task, err := h.api.GetTaskStatus(c.Param("pool"), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetTaskResults handles GET /api/v1/pools/:pool/tasks/:id/results, streaming
// NDJSON results directly to the response body.
func (h *Handler) GetTaskResults(c *gin.Context) {
	q := results.Query{
		ProfileRaw: c.Query("profile"),
		Page:       queryInt(c, "page", 0),
		PageSize:   queryInt(c, "page_size", 0),
	}
	if fields := c.Query("fields"); fields != "" {
		q.CustomFields = splitCSV(fields)
	}
	filters, err := parseFilters(c.Query("filters"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q.Filters = filters

	c.Header("Content-Type", "application/x-ndjson")
	total, err := h.api.GetTaskResults(c.Param("pool"), c.Param("id"), q, c.Writer)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("X-Total-Matches", fmt.Sprintf("%d", total))
}

// ListTasks handles GET /api/v1/tasks.
func (h *Handler) ListTasks(c *gin.Context) {
	req := &models.TaskListRequest{
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "pageSize", 20),
		Pool:      c.Query("pool"),
		Status:    c.Query("status"),
		CIDR:      c.Query("cidr"),
		SortOrder: c.DefaultQuery("sortOrder", "desc"),
	}
	resp, err := h.api.ListTasks(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListScanners handles GET /api/v1/pools/:pool/scanners.
func (h *Handler) ListScanners(c *gin.Context) {
	snaps, err := h.api.ListScanners(c.Param("pool"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scanners": snaps})
}

// ListPools handles GET /api/v1/pools.
func (h *Handler) ListPools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pools": h.api.ListPools()})
}

// GetQueueStatus handles GET /api/v1/pools/:pool/queue.
func (h *Handler) GetQueueStatus(c *gin.Context) {
	status, err := h.api.GetQueueStatus(c.Request.Context(), c.Param("pool"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListDeadLetters handles GET /api/v1/pools/:pool/dlq.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit := int64(queryInt(c, "limit", 0))
	entries, err := h.api.ListDeadLetters(c.Request.Context(), c.Param("pool"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GetDeadLetter handles GET /api/v1/pools/:pool/dlq/:id.
func (h *Handler) GetDeadLetter(c *gin.Context) {
	entry, err := h.api.GetDeadLetter(c.Request.Context(), c.Param("pool"), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RetryDeadLetter handles POST /api/v1/pools/:pool/dlq/:id/retry, the
// deliberate administrative action that moves a dead-lettered task back
// onto its pool's main queue.
func (h *Handler) RetryDeadLetter(c *gin.Context) {
	entry, err := h.api.RetryDeadLetter(c.Request.Context(), c.Param("pool"), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// PurgeDeadLetters handles DELETE /api/v1/pools/:pool/dlq.
func (h *Handler) PurgeDeadLetters(c *gin.Context) {
	purged, err := h.api.PurgeDeadLetters(c.Request.Context(), c.Param("pool"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func queryInt(c *gin.Context, key string, def int) int {
	var v int
	if _, err := fmt.Sscanf(c.Query(key), "%d", &v); err != nil {
		return def
	}
	return v
}

// parseFilters decodes the "filters" query parameter, a JSON object mapping
// field name to a filter expression (e.g. {"severity":">=3","host":"~10.0"}).
// A leading ">=" or "<=" selects a numeric comparison, "~" selects a
// substring match, and a bare value selects exact equality.
func parseFilters(raw string) ([]results.Filter, error) {
	if raw == "" {
		return nil, nil
	}
	var exprs map[string]string
	if err := json.Unmarshal([]byte(raw), &exprs); err != nil {
		return nil, orcherrors.NewInvalidInput("filters must be a JSON object of field to expression")
	}
	filters := make([]results.Filter, 0, len(exprs))
	for field, expr := range exprs {
		switch {
		case strings.HasPrefix(expr, ">="):
			filters = append(filters, results.Filter{Field: field, Op: "gte", Value: strings.TrimPrefix(expr, ">=")})
		case strings.HasPrefix(expr, "<="):
			filters = append(filters, results.Filter{Field: field, Op: "lte", Value: strings.TrimPrefix(expr, "<=")})
		case strings.HasPrefix(expr, "~"):
			filters = append(filters, results.Filter{Field: field, Op: "contains", Value: strings.TrimPrefix(expr, "~")})
		default:
			filters = append(filters, results.Filter{Field: field, Op: "eq", Value: expr})
		}
	}
	return filters, nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
