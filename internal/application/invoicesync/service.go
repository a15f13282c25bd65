// Package invoicesync moves Purchase Invoices between ERPNext and the
// ProcureUAT po_invoices table, allocating invoice codes on the way.
package invoicesync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/invoice"
	"github.com/o2o/erpsync/internal/domain/numbering"
	"github.com/o2o/erpsync/internal/domain/shared"
	"github.com/o2o/erpsync/internal/infrastructure/logger"
)

const tracerName = "github.com/o2o/erpsync/internal/application/invoicesync"

// ErrUnsupportedDirection is returned by Run for an unknown direction
var ErrUnsupportedDirection = shared.NewDomainError("UNSUPPORTED_DIRECTION", "Unsupported sync direction")

// Skip reasons written to sync records
const (
	reasonDraft     = "draft document"
	reasonCancelled = "cancelled before a code was assigned"
	reasonUnchanged = "unchanged"
	reasonSubmitted = "submitted document cannot be edited"
)

const (
	defaultPageSize    = 100
	defaultKeyTTL      = 7 * 24 * time.Hour
	maxErrorMessageLen = 1000
)

// NumberAllocator issues invoice codes. Satisfied by *numbering.Allocator
// from the application layer.
type NumberAllocator interface {
	AllocateForDate(ctx context.Context, prefix string, t time.Time) (*numbering.Allocation, error)
}

// Config holds sync settings
type Config struct {
	// Prefix for codes allocated during sync
	Prefix string
	// CodeField is the ERPNext custom field holding the invoice code
	CodeField string
	PageSize  int
	// Lookback re-reads documents modified shortly before the push cursor,
	// covering clock skew between ERPNext and this service.
	Lookback       time.Duration
	IdempotencyTTL time.Duration
}

// Service runs push and pull passes
type Service struct {
	gateway   integration.PurchaseInvoiceGateway
	invoices  invoice.ExternalInvoiceRepository
	state     integration.SyncStateRepository
	mapper    *integration.Mapper
	allocator NumberAllocator
	idem      shared.IdempotencyStore
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   Metrics
	now       func() time.Time
}

// Metrics receives the counts of every completed pass
type Metrics interface {
	RunFinished(ctx context.Context, result *integration.SyncResult)
}

type nopMetrics struct{}

func (nopMetrics) RunFinished(context.Context, *integration.SyncResult) {}

// Option configures a Service
type Option func(*Service)

// WithIdempotencyStore sets the store used to skip already applied records
func WithIdempotencyStore(store shared.IdempotencyStore) Option {
	return func(s *Service) {
		s.idem = store
	}
}

// WithMetrics sets the recorder for pass outcomes
func WithMetrics(m Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new sync Service
func NewService(
	gateway integration.PurchaseInvoiceGateway,
	invoices invoice.ExternalInvoiceRepository,
	state integration.SyncStateRepository,
	mapper *integration.Mapper,
	allocator NumberAllocator,
	cfg Config,
	l *zap.Logger,
	opts ...Option,
) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultKeyTTL
	}
	if l == nil {
		l = zap.NewNop()
	}
	s := &Service{
		gateway:   gateway,
		invoices:  invoices,
		state:     state,
		mapper:    mapper,
		allocator: allocator,
		cfg:       cfg,
		logger:    l.Named("invoicesync"),
		tracer:    otel.Tracer(tracerName),
		metrics:   nopMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one pass in direction
func (s *Service) Run(ctx context.Context, jobID string, direction integration.Direction) (*integration.SyncResult, error) {
	switch direction {
	case integration.DirectionPush:
		return s.Push(ctx, jobID)
	case integration.DirectionPull:
		return s.Pull(ctx, jobID)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDirection, direction)
	}
}

// Records lists per-document outcomes
func (s *Service) Records(ctx context.Context, filter integration.SyncRecordFilter) ([]integration.SyncRecord, error) {
	return s.state.ListRecords(ctx, filter)
}

// Push copies ERPNext Purchase Invoices modified since the push cursor into
// po_invoices. Submitted documents without a code are numbered first and the
// code is written back to ERPNext.
func (s *Service) Push(ctx context.Context, jobID string) (*integration.SyncResult, error) {
	ctx, span, result := s.begin(ctx, jobID, integration.DirectionPush)
	defer span.End()
	log := logger.Enrich(ctx, s.logger)

	cursor, err := s.state.GetCursor(ctx, integration.DirectionPush)
	if err != nil {
		return nil, s.abort(span, "load push cursor", err)
	}
	since := cursor.LastSyncedAt
	if !since.IsZero() && s.cfg.Lookback > 0 {
		since = since.Add(-s.cfg.Lookback)
	}

	// Write-backs change "modified", which reorders the listing, so every
	// page is read before anything is written.
	var docs []invoice.PurchaseInvoice
	for offset := 0; ; offset += s.cfg.PageSize {
		page, err := s.gateway.ListPurchaseInvoices(ctx, integration.ListQuery{
			ModifiedAfter: since,
			Limit:         s.cfg.PageSize,
			Offset:        offset,
		})
		if err != nil {
			return nil, s.abort(span, "list purchase invoices", err)
		}
		docs = append(docs, page...)
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	next := cursor.LastSyncedAt
	blocked := false
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return nil, s.abort(span, "push interrupted", err)
		}
		doc := &docs[i]
		status := s.pushOne(ctx, jobID, doc)
		result.Record(status)

		modified, err := doc.ModifiedAt(time.UTC)
		if err != nil {
			blocked = true
			continue
		}
		if status == integration.RecordFailed {
			blocked = true
		}
		if !blocked && modified.After(next) {
			next = modified
		}
	}

	if err := s.advance(ctx, cursor, next); err != nil {
		return nil, s.abort(span, "save push cursor", err)
	}
	s.finish(ctx, span, result, next)
	log.Info("Push finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Time("cursor", next),
	)
	return result, nil
}

func (s *Service) pushOne(ctx context.Context, jobID string, doc *invoice.PurchaseInvoice) integration.RecordStatus {
	log := logger.Enrich(ctx, s.logger).With(zap.String("document", doc.Name))
	key := "push:" + doc.Name + ":" + doc.Modified
	if s.alreadyProcessed(ctx, key) {
		return integration.RecordSkipped
	}

	rec := integration.NewSyncRecord(jobID, integration.DirectionPush, doc.Name, s.now().UTC())
	status := s.applyPush(ctx, doc, rec)
	if status == integration.RecordFailed {
		log.Warn("Push failed", zap.String("error", rec.ErrorMessage))
	} else {
		s.markProcessed(ctx, key)
	}
	s.saveRecord(ctx, rec)
	return status
}

func (s *Service) applyPush(ctx context.Context, doc *invoice.PurchaseInvoice, rec *integration.SyncRecord) integration.RecordStatus {
	switch doc.DocStatus {
	case invoice.DocStatusDraft:
		rec.Skip(reasonDraft)
		return rec.Status
	case invoice.DocStatusCancelled:
		if doc.CustomString(s.cfg.CodeField) == "" {
			rec.Skip(reasonCancelled)
			return rec.Status
		}
	}

	full, err := s.gateway.GetPurchaseInvoice(ctx, doc.Name)
	if err != nil {
		return s.fail(rec, fmt.Errorf("fetch document: %w", err))
	}

	code := full.CustomString(s.cfg.CodeField)
	if code == "" && full.IsSubmitted() {
		if code, err = s.assignCode(ctx, full); err != nil {
			return s.fail(rec, err)
		}
	}

	ext, err := s.mapper.ToExternal(full)
	if err != nil {
		return s.fail(rec, err)
	}
	ext.ERPReference = full.Name
	if err := ext.Validate(); err != nil {
		return s.fail(rec, err)
	}

	changed, err := s.invoices.Upsert(ctx, ext)
	if err != nil {
		return s.fail(rec, fmt.Errorf("upsert po invoice: %w", err))
	}
	if !changed {
		rec.Skip(reasonUnchanged)
		rec.TargetKey = strconv.FormatInt(ext.ID, 10)
		rec.InvoiceCode = code
		return rec.Status
	}
	rec.Succeed(strconv.FormatInt(ext.ID, 10), code)
	return rec.Status
}

// assignCode allocates a code for a submitted document in the financial year of
// its posting date and writes it back to ERPNext.
func (s *Service) assignCode(ctx context.Context, pi *invoice.PurchaseInvoice) (string, error) {
	posting, err := pi.PostingTime(time.UTC)
	if err != nil {
		return "", err
	}
	alloc, err := s.allocator.AllocateForDate(ctx, s.cfg.Prefix, posting)
	if err != nil {
		return "", fmt.Errorf("allocate invoice code: %w", err)
	}
	if _, err := s.gateway.UpdatePurchaseInvoice(ctx, pi.Name, map[string]any{s.cfg.CodeField: alloc.Code}); err != nil {
		// The number is consumed; the next run allocates a fresh one.
		logger.Enrich(ctx, s.logger).Warn("Allocated invoice code was not written back",
			zap.String("document", pi.Name),
			zap.String("code", alloc.Code),
			zap.Error(err),
		)
		return "", fmt.Errorf("write invoice code: %w", err)
	}
	pi.SetCustom(s.cfg.CodeField, alloc.Code)
	return alloc.Code, nil
}

// Pull copies po_invoices rows updated since the pull cursor into ERPNext.
// Rows without an ERPNext reference become new draft documents; linked draft
// documents are updated in place.
func (s *Service) Pull(ctx context.Context, jobID string) (*integration.SyncResult, error) {
	ctx, span, result := s.begin(ctx, jobID, integration.DirectionPull)
	defer span.End()
	log := logger.Enrich(ctx, s.logger)

	cursor, err := s.state.GetCursor(ctx, integration.DirectionPull)
	if err != nil {
		return nil, s.abort(span, "load pull cursor", err)
	}

	next := cursor.LastSyncedAt
	blocked := false
	for offset := 0; ; offset += s.cfg.PageSize {
		rows, err := s.invoices.ListUpdatedSince(ctx, cursor.LastSyncedAt, s.cfg.PageSize, offset)
		if err != nil {
			return nil, s.abort(span, "list po invoices", err)
		}
		for i := range rows {
			if err := ctx.Err(); err != nil {
				return nil, s.abort(span, "pull interrupted", err)
			}
			row := &rows[i]
			status := s.pullOne(ctx, jobID, row)
			result.Record(status)
			if status == integration.RecordFailed {
				if !blocked {
					next = holdBefore(next, row.UpdatedAt, cursor.LastSyncedAt)
				}
				blocked = true
			}
			if !blocked && row.UpdatedAt.After(next) {
				next = row.UpdatedAt
			}
		}
		if len(rows) < s.cfg.PageSize {
			break
		}
	}

	if err := s.advance(ctx, cursor, next); err != nil {
		return nil, s.abort(span, "save pull cursor", err)
	}
	s.finish(ctx, span, result, next)
	log.Info("Pull finished",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Time("cursor", next),
	)
	return result, nil
}

// holdBefore keeps the pull cursor strictly below a failed row's timestamp so
// the next "updated_at > cursor" query returns it again, even when rows that
// share the timestamp already moved the cursor onto it. It never drops below
// floor.
func holdBefore(next, failed, floor time.Time) time.Time {
	limit := failed.Add(-time.Microsecond)
	if limit.Before(floor) {
		limit = floor
	}
	if next.After(limit) {
		return limit
	}
	return next
}

func (s *Service) pullOne(ctx context.Context, jobID string, row *invoice.ExternalInvoice) integration.RecordStatus {
	id := strconv.FormatInt(row.ID, 10)
	key := "pull:" + id + ":" + row.UpdatedAt.UTC().Format(time.RFC3339Nano)
	if s.alreadyProcessed(ctx, key) {
		return integration.RecordSkipped
	}

	rec := integration.NewSyncRecord(jobID, integration.DirectionPull, id, s.now().UTC())
	status := s.applyPull(ctx, row, rec)
	if status == integration.RecordFailed {
		logger.Enrich(ctx, s.logger).Warn("Pull failed",
			zap.Int64("po_invoice_id", row.ID),
			zap.String("error", rec.ErrorMessage),
		)
	} else {
		s.markProcessed(ctx, key)
	}
	s.saveRecord(ctx, rec)
	return status
}

func (s *Service) applyPull(ctx context.Context, row *invoice.ExternalInvoice, rec *integration.SyncRecord) integration.RecordStatus {
	if err := row.Validate(); err != nil {
		return s.fail(rec, err)
	}

	if row.InvoiceNumber == "" {
		alloc, err := s.allocator.AllocateForDate(ctx, s.cfg.Prefix, row.InvoiceDate)
		if err != nil {
			return s.fail(rec, fmt.Errorf("allocate invoice code: %w", err))
		}
		if err := s.invoices.SetInvoiceNumber(ctx, row.ID, alloc.Code); err != nil {
			return s.fail(rec, fmt.Errorf("store invoice code: %w", err))
		}
		row.InvoiceNumber = alloc.Code
	}

	if row.ERPReference == "" {
		pi, err := s.mapper.ToERP(row)
		if err != nil {
			return s.fail(rec, err)
		}
		created, err := s.gateway.CreatePurchaseInvoice(ctx, pi)
		if err != nil {
			return s.fail(rec, fmt.Errorf("create purchase invoice: %w", err))
		}
		if err := s.invoices.SetERPReference(ctx, row.ID, created.Name); err != nil {
			return s.fail(rec, fmt.Errorf("store erp reference: %w", err))
		}
		row.ERPReference = created.Name
		rec.Succeed(created.Name, row.InvoiceNumber)
		return rec.Status
	}

	current, err := s.gateway.GetPurchaseInvoice(ctx, row.ERPReference)
	if err != nil {
		return s.fail(rec, fmt.Errorf("fetch document: %w", err))
	}
	changes, err := s.mapper.ERPChanges(current, row)
	if err != nil {
		return s.fail(rec, err)
	}
	if len(changes) == 0 {
		rec.Skip(reasonUnchanged)
		rec.TargetKey = current.Name
		return rec.Status
	}
	if current.DocStatus != invoice.DocStatusDraft {
		rec.Skip(reasonSubmitted)
		rec.TargetKey = current.Name
		return rec.Status
	}
	if _, err := s.gateway.UpdatePurchaseInvoice(ctx, current.Name, changes); err != nil {
		return s.fail(rec, fmt.Errorf("update purchase invoice: %w", err))
	}
	rec.Succeed(current.Name, row.InvoiceNumber)
	return rec.Status
}

func (s *Service) begin(ctx context.Context, jobID string, direction integration.Direction) (context.Context, trace.Span, *integration.SyncResult) {
	ctx = logger.WithJobID(ctx, jobID)
	ctx, span := s.tracer.Start(ctx, "invoicesync."+direction.String(), trace.WithAttributes(
		attribute.String("sync.job_id", jobID),
		attribute.String("sync.direction", direction.String()),
	))
	return ctx, span, &integration.SyncResult{
		JobID:     jobID,
		Direction: direction,
		StartedAt: s.now().UTC(),
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, result *integration.SyncResult, cursor time.Time) {
	result.Cursor = cursor
	result.FinishedAt = s.now().UTC()
	span.SetAttributes(
		attribute.Int("sync.processed", result.Processed),
		attribute.Int("sync.failed", result.Failed),
	)
	s.metrics.RunFinished(ctx, result)
}

func (s *Service) abort(span trace.Span, op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// advance moves the cursor forward. It never moves backwards.
func (s *Service) advance(ctx context.Context, cursor *integration.Cursor, next time.Time) error {
	if !next.After(cursor.LastSyncedAt) {
		return nil
	}
	cursor.LastSyncedAt = next
	return s.state.SaveCursor(ctx, cursor)
}

func (s *Service) fail(rec *integration.SyncRecord, err error) integration.RecordStatus {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		err = errors.New(msg[:maxErrorMessageLen])
	}
	rec.Fail(err)
	return rec.Status
}

func (s *Service) alreadyProcessed(ctx context.Context, key string) bool {
	if s.idem == nil {
		return false
	}
	done, err := s.idem.IsProcessed(ctx, key)
	if err != nil {
		logger.Enrich(ctx, s.logger).Warn("Idempotency check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return done
}

func (s *Service) markProcessed(ctx context.Context, key string) {
	if s.idem == nil {
		return
	}
	if _, err := s.idem.MarkProcessed(ctx, key, s.cfg.IdempotencyTTL); err != nil {
		logger.Enrich(ctx, s.logger).Warn("Failed to mark record processed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) saveRecord(ctx context.Context, rec *integration.SyncRecord) {
	if err := s.state.SaveRecord(ctx, rec); err != nil {
		logger.Enrich(ctx, s.logger).Warn("Failed to save sync record",
			zap.String("source", rec.SourceKey),
			zap.Error(err),
		)
	}
}
