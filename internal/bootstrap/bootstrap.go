// Package bootstrap wires configuration into the components shared by the
// server and the command line tools.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	numberingapp "github.com/o2o/erpsync/internal/application/numbering"
	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/erpnext"
	"github.com/o2o/erpsync/internal/infrastructure/logger"
	"github.com/o2o/erpsync/internal/infrastructure/persistence"
	"github.com/o2o/erpsync/internal/infrastructure/telemetry"
	"github.com/o2o/erpsync/internal/infrastructure/tunnel"
)

// Logger builds the process logger from the log settings
func Logger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
		Fields: map[string]string{
			"service": cfg.App.Name,
			"env":     cfg.App.Env,
		},
	})
}

// Store is the counter database, reached directly or through an SSH tunnel.
type Store struct {
	DB       *persistence.Database
	Tunnels  *tunnel.Manager
	Counters *persistence.GormInvoiceCounterRepository
	dbConfig config.DatabaseConfig
}

// OpenStore opens the tunnel when enabled, then connects to the database
// through its local endpoint.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	s := &Store{Tunnels: tunnel.NewManager(log), dbConfig: cfg.Database}

	if cfg.Tunnel.Enabled {
		tcfg, err := tunnel.FromConfig(cfg.Tunnel)
		if err != nil {
			return nil, err
		}
		t, err := s.Tunnels.Open(ctx, cfg.Tunnel.Name, tcfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", numbering.ErrStoreUnavailable, err)
		}
		s.dbConfig = cfg.Database.WithAddress("127.0.0.1", t.LocalPort())
		log.Info("Database reached through SSH tunnel",
			zap.String("tunnel", cfg.Tunnel.Name),
			zap.String("local_addr", t.LocalAddr()),
		)
	}

	gormLog := logger.NewGormLogger(log.Named("gorm"), logger.MapGormLogLevel(cfg.Log.GormLevel),
		logger.WithSlowThreshold(200*time.Millisecond))
	db, err := persistence.NewDatabase(ctx, &s.dbConfig, persistence.WithGormLogger(gormLog))
	if err != nil {
		return nil, errors.Join(err, s.Tunnels.CloseAll())
	}
	s.DB = db

	tracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
		Enabled:  cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBSystem: s.dbConfig.Driver,
	}, log)
	if err := tracing.RegisterOtelGorm(db.DB); err != nil {
		return nil, errors.Join(fmt.Errorf("register database tracing: %w", err), s.Close())
	}

	s.Counters = persistence.NewGormInvoiceCounterRepository(db.DB,
		persistence.WithCounterTable(cfg.Numbering.CounterTable))
	return s, nil
}

// DatabaseConfig returns the settings the store connected with. The
// address is the tunnel's local endpoint when a tunnel is in use.
func (s *Store) DatabaseConfig() config.DatabaseConfig {
	return s.dbConfig
}

// Close closes the database and every tunnel
func (s *Store) Close() error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	errs = append(errs, s.Tunnels.CloseAll())
	return errors.Join(errs...)
}

// ERPNextClient builds the Frappe client, or returns nil when ERPNext is disabled.
func ERPNextClient(cfg *config.Config, log *zap.Logger) (*erpnext.Client, error) {
	if !cfg.ERPNext.Enabled {
		return nil, nil
	}
	return erpnext.NewClient(erpnext.FromConfig(cfg.ERPNext), erpnext.WithLogger(log))
}

// HistorySources returns the configured tables, plus ERPNext when enabled
// and gateway is set, in the order they are consulted.
func HistorySources(cfg *config.Config, s *Store, gateway integration.PurchaseInvoiceGateway) []numbering.HistorySource {
	sources := make([]numbering.HistorySource, 0, len(cfg.Numbering.History)+1)
	for _, h := range cfg.Numbering.History {
		sources = append(sources, persistence.NewSQLHistorySource(s.DB.DB, h.Table, h.Column))
	}
	if cfg.Numbering.ERPNextHistory && gateway != nil {
		sources = append(sources, erpnext.NewHistorySource(gateway, cfg.ERPNext.InvoiceCodeField))
	}
	return sources
}

// AllocatorConfig maps the numbering settings onto the allocator
func AllocatorConfig(cfg *config.Config) numberingapp.Config {
	return numberingapp.Config{
		DefaultPrefix:  cfg.Numbering.Prefix,
		PadWidth:       cfg.Numbering.PadWidth,
		AllowFallback:  cfg.Numbering.AllowFallback,
		FallbackMarker: cfg.Numbering.FallbackMarker,
	}
}

// Allocator builds the invoice number allocator on s
func Allocator(cfg *config.Config, s *Store, gateway integration.PurchaseInvoiceGateway, log *zap.Logger, opts ...numberingapp.Option) *numberingapp.Allocator {
	opts = append([]numberingapp.Option{
		numberingapp.WithHistorySources(HistorySources(cfg, s, gateway)...),
	}, opts...)
	return numberingapp.NewAllocator(s.Counters, AllocatorConfig(cfg), log, opts...)
}
