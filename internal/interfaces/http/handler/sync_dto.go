package handler

import (
	"time"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/scheduler"
)

// TriggerSyncRequest queues a sync run
type TriggerSyncRequest struct {
	Direction string `json:"direction" binding:"required,sync_direction" example:"push" enums:"push,pull"`
}

// SyncJobResponse is a snapshot of one sync run
type SyncJobResponse struct {
	ID          string     `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Direction   string     `json:"direction" example:"push"`
	Trigger     string     `json:"trigger" example:"manual"`
	Status      string     `json:"status" example:"PENDING"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Processed   int        `json:"processed"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Cursor      *time.Time `json:"cursor,omitempty"`
}

func toSyncJobResponse(j scheduler.SyncJob) SyncJobResponse {
	resp := SyncJobResponse{
		ID:          j.ID.String(),
		Direction:   j.Direction.String(),
		Trigger:     string(j.Trigger),
		Status:      string(j.Status),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		RetryCount:  j.RetryCount,
		NextRetryAt: j.NextRetryAt,
		Processed:   j.Processed,
		Succeeded:   j.Succeeded,
		Failed:      j.Failed,
		Skipped:     j.Skipped,
	}
	if !j.Cursor.IsZero() {
		cursor := j.Cursor
		resp.Cursor = &cursor
	}
	return resp
}

// SyncRecordResponse is the outcome for one document in one run
type SyncRecordResponse struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Direction    string    `json:"direction" example:"pull"`
	SourceKey    string    `json:"source_key" example:"ACC-PINV-2025-00042"`
	TargetKey    string    `json:"target_key,omitempty"`
	InvoiceCode  string    `json:"invoice_code,omitempty" example:"AGO2O/25-26/0013"`
	Status       string    `json:"status" example:"succeeded"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SyncedAt     time.Time `json:"synced_at"`
}

func toSyncRecordResponse(r integration.SyncRecord) SyncRecordResponse {
	return SyncRecordResponse{
		ID:           r.ID.String(),
		JobID:        r.JobID,
		Direction:    r.Direction.String(),
		SourceKey:    r.SourceKey,
		TargetKey:    r.TargetKey,
		InvoiceCode:  r.InvoiceCode,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		SyncedAt:     r.SyncedAt,
	}
}
