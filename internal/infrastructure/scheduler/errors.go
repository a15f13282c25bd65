package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned when a job is not in the history
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidDirection is returned for a direction other than push or pull
	ErrInvalidDirection = errors.New("invalid sync direction")

	// ErrSyncAlreadyInProgress is returned when a run of the same direction is queued or running
	ErrSyncAlreadyInProgress = errors.New("sync already in progress for this direction")
)
