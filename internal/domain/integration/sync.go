package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/o2o/erpsync/internal/domain/invoice"
)

var (
	ErrGatewayUnavailable     = errors.New("integration: ERPNext temporarily unavailable")
	ErrGatewayRequestFailed   = errors.New("integration: ERPNext request failed")
	ErrGatewayAuthFailed      = errors.New("integration: ERPNext authentication failed")
	ErrGatewayInvalidResponse = errors.New("integration: invalid ERPNext response")
	ErrDocumentNotFound       = errors.New("integration: ERPNext document not found")
	ErrUnknownField           = errors.New("integration: unknown mapped field")
)

// ---------------------------------------------------------------------------
// Direction
// ---------------------------------------------------------------------------

// Direction is the direction of a sync run
type Direction string

const (
	// DirectionPush copies ERPNext documents into ProcureUAT
	DirectionPush Direction = "push"
	// DirectionPull copies ProcureUAT rows into ERPNext
	DirectionPull Direction = "pull"
)

// IsValid returns true if the direction is valid
func (d Direction) IsValid() bool {
	return d == DirectionPush || d == DirectionPull
}

// String returns the string representation of Direction
func (d Direction) String() string {
	return string(d)
}

// ---------------------------------------------------------------------------
// Sync records and cursors
// ---------------------------------------------------------------------------

// RecordStatus is the outcome of synchronizing one document
type RecordStatus string

const (
	RecordSucceeded RecordStatus = "succeeded"
	RecordFailed    RecordStatus = "failed"
	RecordSkipped   RecordStatus = "skipped"
)

// SyncRecord is the persisted outcome for one document in one run
type SyncRecord struct {
	ID           uuid.UUID
	JobID        string
	Direction    Direction
	SourceKey    string // ERPNext docname for push, po_invoices.id for pull
	TargetKey    string
	InvoiceCode  string
	Status       RecordStatus
	ErrorMessage string
	SyncedAt     time.Time
}

// NewSyncRecord creates a record stamped with now
func NewSyncRecord(jobID string, direction Direction, sourceKey string, now time.Time) *SyncRecord {
	return &SyncRecord{
		ID:        uuid.New(),
		JobID:     jobID,
		Direction: direction,
		SourceKey: sourceKey,
		SyncedAt:  now,
	}
}

// Succeed marks the record succeeded
func (r *SyncRecord) Succeed(targetKey, invoiceCode string) {
	r.Status = RecordSucceeded
	r.TargetKey = targetKey
	r.InvoiceCode = invoiceCode
	r.ErrorMessage = ""
}

// Fail marks the record failed
func (r *SyncRecord) Fail(err error) {
	r.Status = RecordFailed
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// Skip marks the record skipped with a reason
func (r *SyncRecord) Skip(reason string) {
	r.Status = RecordSkipped
	r.ErrorMessage = reason
}

// Cursor is the high-water mark of a direction
type Cursor struct {
	Direction    Direction
	LastSyncedAt time.Time
	UpdatedAt    time.Time
}

// SyncRecordFilter defines filter criteria for sync records
type SyncRecordFilter struct {
	JobID     string
	Direction Direction
	Status    RecordStatus
	Limit     int
}

// SyncStateRepository persists cursors and per-record outcomes
type SyncStateRepository interface {
	// GetCursor returns the zero cursor when none was saved yet
	GetCursor(ctx context.Context, direction Direction) (*Cursor, error)
	SaveCursor(ctx context.Context, cursor *Cursor) error
	SaveRecord(ctx context.Context, record *SyncRecord) error
	ListRecords(ctx context.Context, filter SyncRecordFilter) ([]SyncRecord, error)
}

// SyncResult summarizes one run
type SyncResult struct {
	JobID      string
	Direction  Direction
	Processed  int
	Succeeded  int
	Failed     int
	Skipped    int
	Cursor     time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Record counts a finished record
func (r *SyncResult) Record(status RecordStatus) {
	r.Processed++
	switch status {
	case RecordSucceeded:
		r.Succeeded++
	case RecordFailed:
		r.Failed++
	case RecordSkipped:
		r.Skipped++
	}
}

// ---------------------------------------------------------------------------
// PurchaseInvoiceGateway Port Interface
// ---------------------------------------------------------------------------

// ListQuery selects Purchase Invoices, ordered by modified ascending
type ListQuery struct {
	// ModifiedAfter filters by modified > ModifiedAfter when non-zero
	ModifiedAfter time.Time
	// CodeField and CodeLike filter CodeField LIKE CodeLike when both are set
	CodeField string
	CodeLike  string
	// Fields limits the returned fields; empty means all
	Fields []string
	Limit  int
	Offset int
}

// PurchaseInvoiceGateway defines the port interface for the ERPNext REST API
type PurchaseInvoiceGateway interface {
	// ListPurchaseInvoices returns one page of documents
	ListPurchaseInvoices(ctx context.Context, q ListQuery) ([]invoice.PurchaseInvoice, error)

	// GetPurchaseInvoice returns ErrDocumentNotFound when name does not exist
	GetPurchaseInvoice(ctx context.Context, name string) (*invoice.PurchaseInvoice, error)

	// CreatePurchaseInvoice inserts a draft and returns it with its assigned name
	CreatePurchaseInvoice(ctx context.Context, pi *invoice.PurchaseInvoice) (*invoice.PurchaseInvoice, error)

	// UpdatePurchaseInvoice writes the given fields
	UpdatePurchaseInvoice(ctx context.Context, name string, fields map[string]any) (*invoice.PurchaseInvoice, error)
}
