package router

import (
	"github.com/gin-gonic/gin"

	"github.com/o2o/erpsync/internal/infrastructure/auth"
	"github.com/o2o/erpsync/internal/interfaces/http/handler"
	"github.com/o2o/erpsync/internal/interfaces/http/middleware"
)

// Handlers are the endpoint groups served by the API. Sync and Tunnels
// are optional; their routes are omitted when nil.
type Handlers struct {
	Health    *handler.HealthHandler
	System    *handler.SystemHandler
	Numbering *handler.NumberingHandler
	Sync      *handler.SyncHandler
	Tunnels   *handler.TunnelHandler
}

// Options controls how the API is mounted
type Options struct {
	APIVersion string
	// Auth authenticates every /api request. Nil serves the API without
	// authentication and without scope checks.
	Auth gin.HandlerFunc
}

// Mount registers /health on the engine and every API group under
// /api/<version>.
func Mount(engine *gin.Engine, h Handlers, opts Options) *Router {
	if h.Health != nil {
		engine.GET("/health", h.Health.Health)
	}

	version := opts.APIVersion
	if version == "" {
		version = "v1"
	}
	r := NewRouter(engine, WithAPIVersion(version))
	if opts.Auth != nil {
		r.Use(opts.Auth)
	}

	scope := func(s auth.Scope) []gin.HandlerFunc {
		if opts.Auth == nil {
			return nil
		}
		return []gin.HandlerFunc{middleware.RequireScope(s)}
	}
	with := func(s auth.Scope, fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(scope(s), fn)
	}

	if h.System != nil {
		r.Register(NewDomainGroup("system", "/system").
			GET("/info", h.System.GetSystemInfo).
			GET("/ping", h.System.Ping))
	}

	if h.Numbering != nil {
		r.Register(NewDomainGroup("invoice-numbers", "/invoice-numbers").
			POST("", with(auth.ScopeAllocate, h.Numbering.Allocate)...).
			GET("/fiscal-year", h.Numbering.FiscalYear).
			GET("/counters", with(auth.ScopeCounters, h.Numbering.ListCounters)...).
			GET("/counters/:prefix/:fy", with(auth.ScopeCounters, h.Numbering.GetCounter)...))
	}

	if h.Sync != nil {
		r.Register(NewDomainGroup("sync", "/sync").
			POST("/jobs", with(auth.ScopeSyncRun, h.Sync.TriggerJob)...).
			GET("/jobs", with(auth.ScopeSyncRead, h.Sync.ListJobs)...).
			GET("/jobs/:id", with(auth.ScopeSyncRead, h.Sync.GetJob)...).
			GET("/records", with(auth.ScopeSyncRead, h.Sync.ListRecords)...))
	}

	if h.Tunnels != nil {
		r.Register(NewDomainGroup("tunnels", "/tunnels").
			Use(scope(auth.ScopeTunnels)...).
			GET("", h.Tunnels.ListTunnels).
			POST("/:name/reconnect", h.Tunnels.Reconnect))
	}

	r.Setup()
	return r
}
