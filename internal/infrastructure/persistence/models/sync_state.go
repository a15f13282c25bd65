package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/o2o/erpsync/internal/domain/integration"
)

// SyncCursorModel stores the high-water mark of one direction
type SyncCursorModel struct {
	Direction    string    `gorm:"primaryKey;type:varchar(16)"`
	LastSyncedAt time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName returns the table name
func (SyncCursorModel) TableName() string {
	return "sync_cursors"
}

// ToDomain converts the model to a domain cursor
func (m *SyncCursorModel) ToDomain() *integration.Cursor {
	return &integration.Cursor{
		Direction:    integration.Direction(m.Direction),
		LastSyncedAt: m.LastSyncedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// SyncRecordModel stores the outcome for one document in one run
type SyncRecordModel struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	JobID        string    `gorm:"type:varchar(64);not null;index"`
	Direction    string    `gorm:"type:varchar(16);not null"`
	SourceKey    string    `gorm:"type:varchar(140);not null;index"`
	TargetKey    string    `gorm:"type:varchar(140)"`
	InvoiceCode  string    `gorm:"type:varchar(64)"`
	Status       string    `gorm:"type:varchar(16);not null"`
	ErrorMessage string    `gorm:"type:text"`
	SyncedAt     time.Time `gorm:"not null;index"`
}

// TableName returns the table name
func (SyncRecordModel) TableName() string {
	return "sync_records"
}

// ToDomain converts the model to a domain record
func (m *SyncRecordModel) ToDomain() integration.SyncRecord {
	return integration.SyncRecord{
		ID:           m.ID,
		JobID:        m.JobID,
		Direction:    integration.Direction(m.Direction),
		SourceKey:    m.SourceKey,
		TargetKey:    m.TargetKey,
		InvoiceCode:  m.InvoiceCode,
		Status:       integration.RecordStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		SyncedAt:     m.SyncedAt,
	}
}

// SyncRecordModelFromDomain converts a domain record to a model
func SyncRecordModelFromDomain(r *integration.SyncRecord) *SyncRecordModel {
	return &SyncRecordModel{
		ID:           r.ID,
		JobID:        r.JobID,
		Direction:    string(r.Direction),
		SourceKey:    r.SourceKey,
		TargetKey:    r.TargetKey,
		InvoiceCode:  r.InvoiceCode,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		SyncedAt:     r.SyncedAt,
	}
}
