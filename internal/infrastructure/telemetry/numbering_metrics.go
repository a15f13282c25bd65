package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/domain/shared"
)

// NumberingMetrics records invoice number allocations.
type NumberingMetrics struct {
	issued    *Counter
	failed    *Counter
	fallbacks *Counter
}

// NewNumberingMetrics registers the allocation instruments on meter
func NewNumberingMetrics(meter metric.Meter) (*NumberingMetrics, error) {
	issued, err := NewCounter(meter, "erpsync.numbering.issued", "Invoice codes issued from the counter", "{code}")
	if err != nil {
		return nil, err
	}
	failed, err := NewCounter(meter, "erpsync.numbering.failed", "Allocations that returned an error", "{error}")
	if err != nil {
		return nil, err
	}
	fallbacks, err := NewCounter(meter, "erpsync.numbering.fallbacks", "Fallback names issued instead of codes", "{name}")
	if err != nil {
		return nil, err
	}
	return &NumberingMetrics{issued: issued, failed: failed, fallbacks: fallbacks}, nil
}

// AllocationIssued counts one issued code. seeded is true when the counter
// row was created from history during this call.
func (m *NumberingMetrics) AllocationIssued(ctx context.Context, prefix string, seeded bool) {
	m.issued.Inc(ctx, AttrPrefix.String(prefix), AttrSeeded.Bool(seeded))
}

// AllocationFailed counts one failed allocation by error code
func (m *NumberingMetrics) AllocationFailed(ctx context.Context, prefix string, err error) {
	m.failed.Inc(ctx, AttrPrefix.String(prefix), AttrErrorKind.String(ErrorKind(err)))
}

// FallbackIssued counts one fallback name
func (m *NumberingMetrics) FallbackIssued(ctx context.Context, prefix string) {
	m.fallbacks.Inc(ctx, AttrPrefix.String(prefix))
}

// ErrorKind returns the domain error code wrapped in err, or UNKNOWN.
func ErrorKind(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "UNKNOWN"
}

// SyncMetrics records invoice sync passes.
type SyncMetrics struct {
	runs     *Counter
	records  *Counter
	duration *Histogram
}

// NewSyncMetrics registers the sync instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	runs, err := NewCounter(meter, "erpsync.sync.runs", "Completed sync passes", "{run}")
	if err != nil {
		return nil, err
	}
	records, err := NewCounter(meter, "erpsync.sync.records", "Documents handled by sync passes", "{record}")
	if err != nil {
		return nil, err
	}
	duration, err := NewHistogram(meter, HistogramOpts{
		Name:        "erpsync.sync.duration",
		Description: "Duration of a sync pass",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return &SyncMetrics{runs: runs, records: records, duration: duration}, nil
}

// RunFinished records the counts of one completed pass
func (m *SyncMetrics) RunFinished(ctx context.Context, result *integration.SyncResult) {
	dir := AttrDirection.String(result.Direction.String())
	m.runs.Inc(ctx, dir)
	for outcome, n := range map[string]int{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	} {
		if n > 0 {
			m.records.Add(ctx, int64(n), dir, AttrOutcome.String(outcome))
		}
	}
	if !result.FinishedAt.IsZero() {
		m.duration.RecordDuration(ctx, result.FinishedAt.Sub(result.StartedAt), dir)
	}
}
