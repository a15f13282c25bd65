package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	invoicesyncapp "github.com/o2o/erpsync/internal/application/invoicesync"
	numberingapp "github.com/o2o/erpsync/internal/application/numbering"
	"github.com/o2o/erpsync/internal/bootstrap"
	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/auth"
	"github.com/o2o/erpsync/internal/infrastructure/cache"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/erpnext"
	"github.com/o2o/erpsync/internal/infrastructure/logger"
	"github.com/o2o/erpsync/internal/infrastructure/persistence"
	"github.com/o2o/erpsync/internal/infrastructure/scheduler"
	"github.com/o2o/erpsync/internal/infrastructure/telemetry"
	"github.com/o2o/erpsync/internal/interfaces/http/handler"
	"github.com/o2o/erpsync/internal/interfaces/http/middleware"
	"github.com/o2o/erpsync/internal/interfaces/http/router"
)

const (
	maxRequestBody  = 1 << 20
	shutdownTimeout = 30 * time.Second
)

//	@title			erpsync API
//	@version		1.0
//	@description	Invoice number allocation and Purchase Invoice sync between ERPNext and ProcureUAT
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token minted with the token command. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := bootstrap.Logger(cfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync(baseLog)

	if err := run(cfg, baseLog); err != nil {
		baseLog.Fatal("Server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, baseLog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, baseLog)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			baseLog.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	log := tel.Logs.Bridge(baseLog)

	log.Info("Starting erpsync",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", telemetry.Version),
	)

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", zap.Error(err))
		}
	}()
	if cfg.Tunnel.Enabled {
		go store.Tunnels.Keepalive(ctx, cfg.Tunnel.KeepaliveInterval)
	}
	log.Info("Database connected", zap.String("driver", store.DB.Driver()))

	meter := tel.Meter.Meter(telemetry.TracerName)

	erp, err := bootstrap.ERPNextClient(cfg, log)
	if err != nil {
		return err
	}
	var gateway integration.PurchaseInvoiceGateway
	if erp != nil {
		gateway = erp
	}

	numberingMetrics, err := telemetry.NewNumberingMetrics(meter)
	if err != nil {
		return err
	}
	allocator := bootstrap.Allocator(cfg, store, gateway, log, numberingapp.WithMetrics(numberingMetrics))

	handlers := router.Handlers{
		Health:    handler.NewHealthHandler(5*time.Second, healthChecks(cfg, store, erp)...),
		System:    handler.NewSystemHandler(),
		Numbering: handler.NewNumberingHandler(allocator),
	}
	if cfg.Tunnel.Enabled {
		handlers.Tunnels = handler.NewTunnelHandler(store.Tunnels)
	}

	if cfg.Sync.Enabled && erp != nil {
		syncSvc, sched, closeSync, err := startSync(ctx, cfg, store, erp, allocator, meter, log)
		if err != nil {
			return err
		}
		defer closeSync()
		handlers.Sync = handler.NewSyncHandler(sched, syncSvc)
	} else if cfg.Sync.Enabled {
		log.Warn("Sync enabled but ERPNext is disabled, sync endpoints are not served")
	}

	engine, err := newEngine(cfg, meter, tel.Profiler.IsEnabled(), log)
	if err != nil {
		return err
	}

	opts := router.Options{APIVersion: "v1"}
	if cfg.Auth.Enabled {
		tokens, err := auth.NewTokenService(cfg.Auth)
		if err != nil {
			return err
		}
		jwtCfg := middleware.DefaultJWTConfig(tokens)
		jwtCfg.Logger = log
		opts.Auth = middleware.JWTAuth(jwtCfg)
	} else {
		log.Warn("API authentication is disabled")
	}
	router.Mount(engine, handlers, opts)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	log.Info("Server exited gracefully")
	return nil
}

func newEngine(cfg *config.Config, meter metric.Meter, profiling bool, log *zap.Logger) (*gin.Engine, error) {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
		return nil, err
	}

	quiet := []string{"/health", "/api/v1/system/ping"}
	engine.Use(
		logger.Recovery(log),
		middleware.RequestID(),
		logger.GinMiddleware(log, quiet...),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		}),
		middleware.SpanEnricher(),
		middleware.HTTPMetrics(meter, log),
		middleware.CORS(cfg.HTTP.CORSAllowOrigins...),
		middleware.Secure(),
		middleware.BodyLimit(maxRequestBody),
		middleware.Timeout(cfg.HTTP.WriteTimeout),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{
			Enabled:   profiling,
			SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
		}),
	)
	return engine, nil
}

func healthChecks(cfg *config.Config, store *bootstrap.Store, erp *erpnext.Client) []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "database", Check: store.DB.Ping, Critical: true},
	}
	if cfg.Tunnel.Enabled {
		checks = append(checks, handler.HealthCheck{
			Name: "tunnel",
			Check: func(ctx context.Context) error {
				for _, st := range store.Tunnels.HealthCheck(ctx) {
					if !st.Healthy {
						return errors.New(st.Name + ": " + st.Error)
					}
				}
				return nil
			},
			Critical: true,
		})
	}
	if erp != nil {
		checks = append(checks, handler.HealthCheck{Name: "erpnext", Check: erp.Ping})
	}
	return checks
}

func startSync(
	ctx context.Context,
	cfg *config.Config,
	store *bootstrap.Store,
	erp *erpnext.Client,
	allocator *numberingapp.Allocator,
	meter metric.Meter,
	log *zap.Logger,
) (*invoicesyncapp.Service, *scheduler.SyncScheduler, func(), error) {
	stores, err := cache.NewStoreFactory(cfg.Redis, cache.WithLogger(log)).Create(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	mapper, err := integration.NewMapper(integration.MapperConfig{
		Mappings: integration.DefaultFieldMappings(cfg.ERPNext.InvoiceCodeField),
		TaxAccounts: integration.TaxAccounts{
			CGST: cfg.ERPNext.CGSTAccount,
			SGST: cfg.ERPNext.SGSTAccount,
			IGST: cfg.ERPNext.IGSTAccount,
		},
		ExternalIDField: cfg.ERPNext.ExternalIDField,
		DefaultItemCode: cfg.ERPNext.DefaultItemCode,
	})
	if err != nil {
		_ = stores.Close()
		return nil, nil, nil, err
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		_ = stores.Close()
		return nil, nil, nil, err
	}

	svc := invoicesyncapp.NewService(
		erp,
		persistence.NewGormExternalInvoiceRepository(store.DB.DB, cfg.Sync.ExternalTable),
		persistence.NewGormSyncStateRepository(store.DB.DB),
		mapper,
		allocator,
		invoicesyncapp.Config{
			Prefix:         cfg.Numbering.Prefix,
			CodeField:      cfg.ERPNext.InvoiceCodeField,
			PageSize:       cfg.Sync.PageSize,
			Lookback:       cfg.Sync.Lookback,
			IdempotencyTTL: cfg.Sync.IdempotencyTTL,
		},
		log,
		invoicesyncapp.WithIdempotencyStore(stores.Idempotency),
		invoicesyncapp.WithMetrics(syncMetrics),
	)

	sched, err := scheduler.NewSyncScheduler(scheduler.FromConfig(cfg.Sync), svc, stores.Locker, log)
	if err != nil {
		_ = stores.Close()
		return nil, nil, nil, err
	}
	if err := sched.Start(ctx); err != nil {
		_ = stores.Close()
		return nil, nil, nil, err
	}

	directions := make([]integration.Direction, 0, len(cfg.Sync.Directions))
	for _, d := range cfg.Sync.Directions {
		directions = append(directions, integration.Direction(d))
	}
	trigger, err := scheduler.NewIntervalTrigger(sched, directions, cfg.Sync.Interval, true, log)
	if err != nil {
		_ = sched.Stop(ctx)
		_ = stores.Close()
		return nil, nil, nil, err
	}
	if err := trigger.Start(ctx); err != nil {
		_ = sched.Stop(ctx)
		_ = stores.Close()
		return nil, nil, nil, err
	}

	log.Info("Invoice sync started",
		zap.Strings("directions", cfg.Sync.Directions),
		zap.Duration("interval", cfg.Sync.Interval),
		zap.String("coordination", stores.Backend),
	)

	closeSync := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := trigger.Stop(sctx); err != nil {
			log.Warn("Sync trigger stop failed", zap.Error(err))
		}
		if err := sched.Stop(sctx); err != nil {
			log.Warn("Sync scheduler stop failed", zap.Error(err))
		}
		if err := stores.Close(); err != nil {
			log.Warn("Closing sync stores failed", zap.Error(err))
		}
	}
	return svc, sched, closeSync, nil
}
