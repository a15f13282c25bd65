package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/scheduler"
	"github.com/o2o/erpsync/internal/interfaces/http/dto"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SyncTrigger queues and reports sync jobs. *scheduler.SyncScheduler implements it.
type SyncTrigger interface {
	Trigger(direction integration.Direction, trigger scheduler.Trigger) (scheduler.SyncJob, error)
	Job(id uuid.UUID) (scheduler.SyncJob, error)
	History(direction integration.Direction, limit int) []scheduler.SyncJob
}

// SyncRecordReader lists per-document outcomes. *invoicesync.Service implements it.
type SyncRecordReader interface {
	Records(ctx context.Context, filter integration.SyncRecordFilter) ([]integration.SyncRecord, error)
}

// SyncHandler exposes manual sync triggers and run history
type SyncHandler struct {
	BaseHandler
	scheduler SyncTrigger
	records   SyncRecordReader
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(s SyncTrigger, records SyncRecordReader) *SyncHandler {
	return &SyncHandler{scheduler: s, records: records}
}

// TriggerJob godoc
// @ID           triggerSyncJob
// @Summary      Queue a sync run
// @Description  Queues a push (ERPNext to ProcureUAT) or pull run. Only one run per
// @Description  direction may be pending or running at a time.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        request body TriggerSyncRequest true "Direction"
// @Success      202 {object} APIResponse[SyncJobResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      409 {object} ErrorResponse
// @Failure      503 {object} ErrorResponse
// @Router       /sync/jobs [post]
func (h *SyncHandler) TriggerJob(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	job, err := h.scheduler.Trigger(integration.Direction(req.Direction), scheduler.TriggerManual)
	if err != nil {
		h.handleSchedulerError(c, err)
		return
	}
	h.Accepted(c, toSyncJobResponse(job))
}

// ListJobs godoc
// @ID           listSyncJobs
// @Summary      Recent sync runs, newest first
// @Tags         sync
// @Produce      json
// @Param        direction query string false "push or pull"
// @Param        limit query int false "Maximum jobs returned"
// @Success      200 {object} APIResponse[[]SyncJobResponse]
// @Router       /sync/jobs [get]
func (h *SyncHandler) ListJobs(c *gin.Context) {
	dir, ok := h.directionQuery(c)
	if !ok {
		return
	}
	limit, ok := h.limitQuery(c)
	if !ok {
		return
	}

	jobs := h.scheduler.History(dir, limit)
	out := make([]SyncJobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toSyncJobResponse(j))
	}
	h.List(c, out, len(out), limit)
}

// GetJob godoc
// @ID           getSyncJob
// @Summary      One sync run
// @Tags         sync
// @Produce      json
// @Param        id path string true "Job ID"
// @Success      200 {object} APIResponse[SyncJobResponse]
// @Failure      404 {object} ErrorResponse
// @Router       /sync/jobs/{id} [get]
func (h *SyncHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "job id must be a UUID")
		return
	}
	job, err := h.scheduler.Job(id)
	if err != nil {
		h.handleSchedulerError(c, err)
		return
	}
	h.Success(c, toSyncJobResponse(job))
}

// ListRecords godoc
// @ID           listSyncRecords
// @Summary      Per-document sync outcomes
// @Tags         sync
// @Produce      json
// @Param        job_id query string false "Only records of this job"
// @Param        direction query string false "push or pull"
// @Param        status query string false "succeeded, failed or skipped"
// @Param        limit query int false "Maximum records returned"
// @Success      200 {object} APIResponse[[]SyncRecordResponse]
// @Router       /sync/records [get]
func (h *SyncHandler) ListRecords(c *gin.Context) {
	dir, ok := h.directionQuery(c)
	if !ok {
		return
	}
	limit, ok := h.limitQuery(c)
	if !ok {
		return
	}
	status := integration.RecordStatus(c.Query("status"))
	switch status {
	case "", integration.RecordSucceeded, integration.RecordFailed, integration.RecordSkipped:
	default:
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "status must be succeeded, failed or skipped")
		return
	}

	records, err := h.records.Records(c.Request.Context(), integration.SyncRecordFilter{
		JobID:     c.Query("job_id"),
		Direction: dir,
		Status:    status,
		Limit:     limit,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]SyncRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toSyncRecordResponse(r))
	}
	h.List(c, out, len(out), limit)
}

func (h *SyncHandler) directionQuery(c *gin.Context) (integration.Direction, bool) {
	dir := integration.Direction(c.Query("direction"))
	if dir != "" && !dir.IsValid() {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "direction must be push or pull")
		return "", false
	}
	return dir, true
}

func (h *SyncHandler) limitQuery(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > maxListLimit {
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}

func (h *SyncHandler) handleSchedulerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrSyncAlreadyInProgress):
		h.ErrorWithCode(c, dto.ErrCodeSyncInProgress, err.Error())
	case errors.Is(err, scheduler.ErrJobQueueFull):
		h.ErrorWithCode(c, dto.ErrCodeQueueFull, err.Error())
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.ErrorWithCode(c, dto.ErrCodeSchedulerStopped, err.Error())
	case errors.Is(err, scheduler.ErrJobNotFound):
		h.ErrorWithCode(c, dto.ErrCodeNotFound, err.Error())
	case errors.Is(err, scheduler.ErrInvalidDirection):
		h.ErrorWithCode(c, dto.ErrCodeInvalidInput, err.Error())
	default:
		h.HandleError(c, err)
	}
}
