package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/bakery_api/internal/utils"
)

var startTime = time.Now()

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler provides health endpoint.
type HealthHandler struct {
	storage string
	checks  map[string]HealthCheck
}

// NewHealthHandler creates a new HealthHandler. storage names the active
// store driver; checks are probed on every request.
func NewHealthHandler(storage string, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{storage: storage, checks: checks}
}

// GetHealth responds with service and dependency status. The service is
// reported degraded, with 503, when any dependency is unreachable.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "healthy", http.StatusOK
	deps := gin.H{}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = gin.H{"status": "disconnected", "error": err.Error()}
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = gin.H{"status": "connected"}
	}

	data := gin.H{
		"status":       status,
		"version":      "1.0.0",
		"uptime":       int(time.Since(startTime).Seconds()),
		"storage":      h.storage,
		"dependencies": deps,
	}
	if code != http.StatusOK {
		c.JSON(code, utils.Response{
			Success: false,
			Code:    code,
			Message: "Service is degraded",
			Data:    data,
			Error:   &utils.ErrorInfo{Code: "SERVICE_DEGRADED", Message: "One or more dependencies are unreachable"},
			Meta:    utils.Meta{RequestID: c.GetString("request_id"), Timestamp: utils.NowISO()},
		})
		return
	}
	utils.Success(c, code, "Service is healthy", data)
}
