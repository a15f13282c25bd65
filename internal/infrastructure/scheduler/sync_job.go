package scheduler

import (
	"time"

	"github.com/google/uuid"

	"github.com/o2o/erpsync/internal/domain/integration"
)

// maxRetryDelay caps the exponential retry backoff
const maxRetryDelay = 30 * time.Minute

// JobStatus represents the status of a sync job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSuccess   JobStatus = "SUCCESS"
	JobStatusPartial   JobStatus = "PARTIAL"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job will not run again
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Trigger tells how a job was created
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// SyncJob is one run of one sync direction
type SyncJob struct {
	ID          uuid.UUID
	Direction   integration.Direction
	Trigger     Trigger
	Status      JobStatus
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
	NextRetryAt *time.Time

	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Cursor    time.Time
}

// NewSyncJob creates a pending job
func NewSyncJob(direction integration.Direction, trigger Trigger, maxRetries int, now time.Time) *SyncJob {
	return &SyncJob{
		ID:         uuid.New(),
		Direction:  direction,
		Trigger:    trigger,
		Status:     JobStatusPending,
		CreatedAt:  now,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *SyncJob) Start(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete records the result. Any failed record makes the run partial or failed.
func (j *SyncJob) Complete(result *integration.SyncResult, now time.Time) {
	j.CompletedAt = &now
	if result != nil {
		j.Processed = result.Processed
		j.Succeeded = result.Succeeded
		j.Failed = result.Failed
		j.Skipped = result.Skipped
		j.Cursor = result.Cursor
	}

	switch {
	case j.Failed == 0:
		j.Status = JobStatusSuccess
	case j.Succeeded > 0:
		j.Status = JobStatusPartial
	default:
		j.Status = JobStatusFailed
	}
}

// Fail marks the job as failed
func (j *SyncJob) Fail(err error, now time.Time) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
}

// Cancel marks the job as cancelled
func (j *SyncJob) Cancel(now time.Time) {
	j.Status = JobStatusCancelled
	j.CompletedAt = &now
}

// ShouldRetry returns true if the failed job has retries left
func (j *SyncJob) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// ScheduleRetry schedules the job again with exponential backoff: baseDelay * 2^(retryCount-1).
// The last error is kept until the retry starts.
func (j *SyncJob) ScheduleRetry(baseDelay time.Duration, now time.Time) time.Duration {
	j.RetryCount++
	j.Status = JobStatusPending
	j.CompletedAt = nil

	delay := baseDelay * time.Duration(1<<(j.RetryCount-1))
	if delay > maxRetryDelay || delay < 0 {
		delay = maxRetryDelay
	}
	next := now.Add(delay)
	j.NextRetryAt = &next
	return delay
}
