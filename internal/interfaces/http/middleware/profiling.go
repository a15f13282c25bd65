package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/o2o/erpsync/internal/infrastructure/telemetry"
)

// Pyroscope label names set on request goroutines
const (
	ProfilingLabelMethod   = "http_method"
	ProfilingLabelRoute    = "http_route"
	ProfilingLabelResource = "resource"
	ProfilingLabelSubject  = "subject"
)

// ProfilingConfig holds configuration for the profiling middleware.
type ProfilingConfig struct {
	Enabled   bool
	SkipPaths []string
}

// DefaultProfilingConfig returns default profiling middleware configuration.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health", "/api/v1/system/ping"},
	}
}

// ProfilingWithConfig tags the request goroutine with pyroscope labels
// (method, route, resource and token subject) so CPU profiles can be split
// by endpoint. Place it after JWTAuth to get the subject.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}
		telemetry.WithLabels(c.Request.Context(), profilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	route := c.FullPath()
	return map[string]string{
		ProfilingLabelMethod:   c.Request.Method,
		ProfilingLabelRoute:    route,
		ProfilingLabelResource: resourceFromRoute(route),
		ProfilingLabelSubject:  GetJWTSubject(c),
	}
}

// resourceFromRoute returns the first path segment after /api/vN.
// "/api/v1/invoice-numbers/counters/:prefix/:fy" gives "invoice-numbers".
func resourceFromRoute(route string) string {
	rest, ok := strings.CutPrefix(route, "/api/")
	if !ok {
		return strings.Trim(route, "/")
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
