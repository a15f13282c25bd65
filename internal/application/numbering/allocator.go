package numbering

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/numbering"
)

const tracerName = "github.com/o2o/erpsync/internal/application/numbering"

// Config holds allocator settings
type Config struct {
	// DefaultPrefix is used when a caller passes an empty prefix through the
	// convenience entry points (HTTP, sync). Allocate itself always requires one.
	DefaultPrefix string
	// PadWidth is the zero-padded width of the sequence part.
	PadWidth int
	// AllowFallback permits AllocateOrFallback to issue provisional names.
	AllowFallback bool
	// FallbackMarker prefixes provisional names.
	FallbackMarker string
}

// DefaultConfig returns the default allocator configuration
func DefaultConfig() Config {
	return Config{
		DefaultPrefix:  "AGO2O",
		PadWidth:       numbering.DefaultPadWidth,
		AllowFallback:  false,
		FallbackMarker: numbering.DefaultFallbackMarker,
	}
}

// Metrics receives allocation outcomes. The default implementation discards them.
type Metrics interface {
	AllocationIssued(ctx context.Context, prefix string, seeded bool)
	AllocationFailed(ctx context.Context, prefix string, err error)
	FallbackIssued(ctx context.Context, prefix string)
}

type nopMetrics struct{}

func (nopMetrics) AllocationIssued(context.Context, string, bool) {}
func (nopMetrics) AllocationFailed(context.Context, string, error) {}
func (nopMetrics) FallbackIssued(context.Context, string)         {}

// Allocator issues invoice codes from the persisted counter.
//
// The allocator itself holds no lock around allocation; uniqueness comes from
// the store's single-statement increment. The only in-process state is whether
// the counter table has been bootstrapped.
type Allocator struct {
	repo     numbering.CounterRepository
	history  []numbering.HistorySource
	cfg      Config
	fallback *numbering.FallbackNamer
	metrics  Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	schemaMu    sync.Mutex
	schemaReady atomic.Bool
}

// Option configures an Allocator
type Option func(*Allocator)

// WithHistorySources sets the sources consulted when seeding a new counter
func WithHistorySources(sources ...numbering.HistorySource) Option {
	return func(a *Allocator) {
		a.history = append(a.history, sources...)
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(a *Allocator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClock overrides the time source used for date based allocation
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// WithFallbackNamer overrides the provisional name builder
func WithFallbackNamer(f *numbering.FallbackNamer) Option {
	return func(a *Allocator) {
		a.fallback = f
	}
}

// NewAllocator creates a new Allocator
func NewAllocator(repo numbering.CounterRepository, cfg Config, logger *zap.Logger, opts ...Option) *Allocator {
	if cfg.PadWidth <= 0 {
		cfg.PadWidth = numbering.DefaultPadWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Allocator{
		repo:     repo,
		cfg:      cfg,
		fallback: numbering.NewFallbackNamer(cfg.FallbackMarker),
		metrics:  nopMetrics{},
		logger:   logger.Named("allocator"),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the allocator configuration
func (a *Allocator) Config() Config {
	return a.cfg
}

// Allocate issues the next code for (prefix, financialYear).
//
// Input is validated before any store access. The counter row is created on
// first use, seeded from history. Store connectivity failures surface as
// ErrStoreUnavailable and are not retried here.
func (a *Allocator) Allocate(ctx context.Context, prefix, financialYear string) (*numbering.Allocation, error) {
	key, err := numbering.NewCounterKey(prefix, financialYear)
	if err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "numbering.Allocate", trace.WithAttributes(
		attribute.String("numbering.prefix", key.Prefix),
		attribute.String("numbering.financial_year", key.FinancialYear.String()),
	))
	defer span.End()

	n, seeded, err := a.next(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.AllocationFailed(ctx, key.Prefix, err)
		a.logger.Error("Invoice number allocation failed",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return nil, err
	}

	code := numbering.Code{Key: key, Number: n}.Format(a.cfg.PadWidth)
	span.SetAttributes(attribute.Int64("numbering.number", n))
	a.metrics.AllocationIssued(ctx, key.Prefix, seeded)
	a.logger.Debug("Invoice number allocated",
		zap.String("code", code),
		zap.Int64("number", n),
		zap.Bool("seeded", seeded),
	)

	return &numbering.Allocation{
		Code:          code,
		Prefix:        key.Prefix,
		FinancialYear: key.FinancialYear,
		Number:        n,
	}, nil
}

// AllocateForDate issues the next code in the financial year containing t
func (a *Allocator) AllocateForDate(ctx context.Context, prefix string, t time.Time) (*numbering.Allocation, error) {
	return a.Allocate(ctx, prefix, numbering.FiscalYearOf(t).String())
}

// AllocateNow issues the next code in the current financial year
func (a *Allocator) AllocateNow(ctx context.Context, prefix string) (*numbering.Allocation, error) {
	return a.AllocateForDate(ctx, prefix, a.now())
}

// AllocateOrFallback behaves like Allocate, but when the store is unavailable
// and fallback is enabled it returns a visibly marked provisional name with
// Fallback set and a warning. Every other error is returned unchanged.
func (a *Allocator) AllocateOrFallback(ctx context.Context, prefix, financialYear string) (*numbering.Allocation, error) {
	alloc, err := a.Allocate(ctx, prefix, financialYear)
	if err == nil {
		return alloc, nil
	}
	if !a.cfg.AllowFallback || !errors.Is(err, numbering.ErrStoreUnavailable) {
		return nil, err
	}

	// Allocate only fails with ErrStoreUnavailable after validating the key
	key, _ := numbering.NewCounterKey(prefix, financialYear)
	fb := a.fallback.Name(key, err)
	a.metrics.FallbackIssued(ctx, key.Prefix)
	a.logger.Warn("Issued provisional invoice name",
		zap.String("code", fb.Code),
		zap.String("key", key.String()),
		zap.Error(err),
	)
	return &fb, nil
}

// Counter returns the current state of the counter for (prefix, financialYear).
// Reads never create the counter table.
func (a *Allocator) Counter(ctx context.Context, prefix, financialYear string) (*numbering.Counter, error) {
	key, err := numbering.NewCounterKey(prefix, financialYear)
	if err != nil {
		return nil, err
	}
	return a.repo.Get(ctx, key)
}

// Counters lists counters, optionally filtered by prefix
func (a *Allocator) Counters(ctx context.Context, prefix string) ([]numbering.Counter, error) {
	return a.repo.List(ctx, prefix)
}

// next increments the counter, creating and seeding it when missing.
func (a *Allocator) next(ctx context.Context, key numbering.CounterKey) (int64, bool, error) {
	if err := a.ensureSchema(ctx); err != nil {
		return 0, false, err
	}

	n, ok, err := a.repo.Increment(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return n, false, nil
	}

	// Ensure the row, then increment. If the increment still misses the row,
	// ensure once more and retry a single time.
	for attempt := 0; attempt < 2; attempt++ {
		if err := a.ensureCounter(ctx, key); err != nil {
			return 0, false, err
		}
		n, ok, err = a.repo.Increment(ctx, key)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return n, true, nil
		}
		a.logger.Warn("Counter row missing after ensure",
			zap.String("key", key.String()),
			zap.Int("attempt", attempt+1),
		)
	}

	return 0, false, fmt.Errorf("%w: no counter row for %s after retry", numbering.ErrAllocationFailed, key)
}

func (a *Allocator) ensureCounter(ctx context.Context, key numbering.CounterKey) error {
	seed, err := a.seed(ctx, key)
	if err != nil {
		return err
	}
	created, err := a.repo.EnsureCounter(ctx, key, seed)
	if err != nil {
		return err
	}
	if created {
		a.logger.Info("Invoice counter created",
			zap.String("key", key.String()),
			zap.Int64("seed", seed),
		)
	}
	return nil
}

// seed returns the highest sequence already used for key across history sources.
func (a *Allocator) seed(ctx context.Context, key numbering.CounterKey) (int64, error) {
	var maxSeq int64
	for _, src := range a.history {
		n, err := src.MaxSequence(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("seed %s from %s: %w", key, src.Name(), err)
		}
		if n > maxSeq {
			maxSeq = n
		}
	}
	return maxSeq, nil
}

// ensureSchema bootstraps the counter table once per allocator.
// A failed attempt is retried on the next call.
func (a *Allocator) ensureSchema(ctx context.Context) error {
	if a.schemaReady.Load() {
		return nil
	}
	a.schemaMu.Lock()
	defer a.schemaMu.Unlock()
	if a.schemaReady.Load() {
		return nil
	}
	if err := a.repo.EnsureSchema(ctx); err != nil {
		return err
	}
	a.schemaReady.Store(true)
	return nil
}
