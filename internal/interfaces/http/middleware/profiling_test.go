package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime/pprof"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestProfilingWithConfig_SetsLabels(t *testing.T) {
	labels := map[string]string{}
	router := gin.New()
	router.Use(ProfilingWithConfig(DefaultProfilingConfig()))
	router.GET("/api/v1/sync/jobs/:id", func(c *gin.Context) {
		pprof.ForLabels(c.Request.Context(), func(k, v string) bool {
			labels[k] = v
			return true
		})
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs/abc", nil))

	assert.Equal(t, map[string]string{
		ProfilingLabelMethod:   http.MethodGet,
		ProfilingLabelRoute:    "/api/v1/sync/jobs/:id",
		ProfilingLabelResource: "sync",
	}, labels)
}

func TestProfilingWithConfig_SkipsAndDisabled(t *testing.T) {
	for name, cfg := range map[string]ProfilingConfig{
		"skip path": DefaultProfilingConfig(),
		"disabled":  {Enabled: false},
	} {
		t.Run(name, func(t *testing.T) {
			var labelled bool
			router := gin.New()
			router.Use(ProfilingWithConfig(cfg))
			router.GET("/health", func(c *gin.Context) {
				_, labelled = pprof.Label(c.Request.Context(), ProfilingLabelRoute)
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.False(t, labelled)
		})
	}
}

func TestResourceFromRoute(t *testing.T) {
	tests := map[string]string{
		"/api/v1/invoice-numbers/counters/:prefix/:fy": "invoice-numbers",
		"/api/v1/tunnels":                               "tunnels",
		"/api/v1":                                       "",
		"/health":                                       "health",
		"":                                              "",
	}
	for route, want := range tests {
		assert.Equal(t, want, resourceFromRoute(route), route)
	}
}
