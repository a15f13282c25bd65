package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okCheck(context.Context) error { return nil }

func failCheck(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name: "all ok",
			checks: []HealthCheck{
				{Name: "database", Check: okCheck, Critical: true},
				{Name: "erpnext", Check: okCheck},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{"database": "ok", "erpnext": "ok"},
		},
		{
			name: "non critical failure degrades",
			checks: []HealthCheck{
				{Name: "database", Check: okCheck, Critical: true},
				{Name: "erpnext", Check: failCheck("401 Unauthorized")},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"database": "ok", "erpnext": "error: 401 Unauthorized"},
		},
		{
			name: "database down",
			checks: []HealthCheck{
				{Name: "database", Check: failCheck("connection refused"), Critical: true},
				{Name: "erpnext", Check: failCheck("timeout")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
			wantChecks: map[string]string{"database": "error: connection refused", "erpnext": "error: timeout"},
		},
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantChecks: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(time.Second, tt.checks...)
			h.now = func() time.Time { return handlerNow }
			r := gin.New()
			r.GET("/health", h.Health)

			w := performRequest(r, http.MethodGet, "/health", nil)

			require.Equal(t, tt.wantCode, w.Code)
			var resp HealthResponse
			decodeInto(t, w, &resp)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "2026-02-10T11:00:00Z", resp.Time)
			assert.Equal(t, tt.wantChecks, resp.Checks)
		})
	}
}

func TestHealthHandler_CheckDeadline(t *testing.T) {
	var deadline time.Time
	h := NewHealthHandler(50*time.Millisecond, HealthCheck{
		Name: "database",
		Check: func(ctx context.Context) error {
			deadline, _ = ctx.Deadline()
			return nil
		},
		Critical: true,
	})
	r := gin.New()
	r.GET("/health", h.Health)

	w := performRequest(r, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, deadline.IsZero())
}
