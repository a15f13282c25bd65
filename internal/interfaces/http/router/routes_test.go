package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	numberingapp "github.com/o2o/erpsync/internal/application/numbering"
	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/infrastructure/auth"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/tunnel"
	"github.com/o2o/erpsync/internal/interfaces/http/handler"
	"github.com/o2o/erpsync/internal/interfaces/http/middleware"
)

func init() {
	middleware.SetupValidator()
}

type stubAllocator struct{}

func (stubAllocator) Allocate(_ context.Context, prefix, fy string) (*numbering.Allocation, error) {
	return &numbering.Allocation{Code: prefix + "/" + fy + "/0001", Prefix: prefix, FinancialYear: numbering.FiscalYear(fy), Number: 1}, nil
}

func (s stubAllocator) AllocateOrFallback(ctx context.Context, prefix, fy string) (*numbering.Allocation, error) {
	return s.Allocate(ctx, prefix, fy)
}

func (stubAllocator) Counter(context.Context, string, string) (*numbering.Counter, error) {
	return nil, numbering.ErrCounterNotFound
}

func (stubAllocator) Counters(context.Context, string) ([]numbering.Counter, error) {
	return nil, nil
}

func (stubAllocator) Config() numberingapp.Config { return numberingapp.DefaultConfig() }

type stubTunnels struct{}

func (stubTunnels) HealthCheck(context.Context) []tunnel.Status {
	return []tunnel.Status{{Name: "procure", Healthy: true}}
}

func (stubTunnels) Reconnect(context.Context, string) error { return nil }

func newHandlers() Handlers {
	return Handlers{
		Health:    handler.NewHealthHandler(time.Second),
		System:    handler.NewSystemHandler(),
		Numbering: handler.NewNumberingHandler(stubAllocator{}),
		Tunnels:   handler.NewTunnelHandler(stubTunnels{}),
	}
}

func request(engine *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	body := ""
	if method == http.MethodPost {
		body = "{}"
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestMountWithoutAuth(t *testing.T) {
	engine := gin.New()
	Mount(engine, newHandlers(), Options{})

	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/system/ping", "").Code)
	assert.Equal(t, http.StatusCreated, request(engine, http.MethodPost, "/api/v1/invoice-numbers", "").Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/invoice-numbers/counters", "").Code)
	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v1/tunnels", "").Code)

	// No sync handler configured
	assert.Equal(t, http.StatusNotFound, request(engine, http.MethodGet, "/api/v1/sync/jobs", "").Code)
}

func TestMountWithAuth(t *testing.T) {
	tokens, err := auth.NewTokenService(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "routes-test-secret-0123456789abcdef",
		Issuer:    "erpsync",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)

	engine := gin.New()
	Mount(engine, newHandlers(), Options{
		Auth: middleware.JWTAuth(middleware.DefaultJWTConfig(tokens)),
	})

	reader, err := tokens.Issue("dashboard", []auth.Scope{auth.ScopeCounters}, 0)
	require.NoError(t, err)
	allocator, err := tokens.Issue("frappe-procure", []auth.Scope{auth.ScopeAllocate}, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"ping is public", http.MethodGet, "/api/v1/system/ping", "", http.StatusOK},
		{"info needs a token", http.MethodGet, "/api/v1/system/info", "", http.StatusUnauthorized},
		{"allocate needs a token", http.MethodPost, "/api/v1/invoice-numbers", "", http.StatusUnauthorized},
		{"allocate needs the allocate scope", http.MethodPost, "/api/v1/invoice-numbers", reader.Token, http.StatusForbidden},
		{"allocate with scope", http.MethodPost, "/api/v1/invoice-numbers", allocator.Token, http.StatusCreated},
		{"counters with read scope", http.MethodGet, "/api/v1/invoice-numbers/counters", reader.Token, http.StatusOK},
		{"counters without read scope", http.MethodGet, "/api/v1/invoice-numbers/counters", allocator.Token, http.StatusForbidden},
		{"fiscal year needs only a token", http.MethodGet, "/api/v1/invoice-numbers/fiscal-year", allocator.Token, http.StatusOK},
		{"tunnels need admin scope", http.MethodGet, "/api/v1/tunnels", reader.Token, http.StatusForbidden},
		{"garbage token", http.MethodGet, "/api/v1/invoice-numbers/counters", "not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, request(engine, tt.method, tt.path, tt.token).Code)
		})
	}
}

func TestMountAPIVersion(t *testing.T) {
	engine := gin.New()
	Mount(engine, newHandlers(), Options{APIVersion: "v2"})

	assert.Equal(t, http.StatusOK, request(engine, http.MethodGet, "/api/v2/system/ping", "").Code)
	assert.Equal(t, http.StatusNotFound, request(engine, http.MethodGet, "/api/v1/system/ping", "").Code)
}
