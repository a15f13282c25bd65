package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/infrastructure/logger"
)

// HealthCheck is one dependency probe. A failing critical check makes the
// service unhealthy (503); other failures only degrade it.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Critical bool
}

// HealthHandler serves the liveness and dependency probe
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler running checks in order
func NewHealthHandler(timeout time.Duration, checks ...HealthCheck) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout, now: time.Now}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string            `json:"status" example:"healthy" enums:"healthy,degraded,unhealthy"`
	Time   string            `json:"time" example:"2026-01-23T12:00:00Z"`
	Checks map[string]string `json:"checks"`
}

// Health godoc
// @ID           health
// @Summary      Service health
// @Description  Pings the counter database and, when configured, ERPNext and the SSH tunnels
// @Tags         system
// @Produce      json
// @Success      200 {object} HealthResponse
// @Failure      503 {object} HealthResponse
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status: "healthy",
		Time:   h.now().UTC().Format(time.RFC3339),
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			logger.GetGinLogger(c).Warn("Health check failed",
				zap.String("check", chk.Name),
				zap.Error(err),
			)
			resp.Checks[chk.Name] = "error: " + err.Error()
			if chk.Critical {
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[chk.Name] = "ok"
	}

	c.JSON(status, resp)
}
