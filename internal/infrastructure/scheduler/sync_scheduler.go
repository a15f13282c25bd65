package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/cache"
	"github.com/o2o/erpsync/internal/infrastructure/config"
	"github.com/o2o/erpsync/internal/infrastructure/logger"
)

const lockReleaseTimeout = 5 * time.Second

// SyncExecutor runs one sync direction
type SyncExecutor interface {
	Run(ctx context.Context, jobID string, direction integration.Direction) (*integration.SyncResult, error)
}

// Config holds configuration for the sync scheduler
type Config struct {
	// Workers is the maximum number of concurrent sync jobs
	Workers int
	// QueueSize bounds the number of queued jobs
	QueueSize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// RetryAttempts is the number of retry attempts for failed jobs
	RetryAttempts int
	// RetryDelay is the base delay between retries (with exponential backoff)
	RetryDelay time.Duration
	// LockTTL is how long a direction lock is held at most
	LockTTL time.Duration
	// MaxHistory bounds the in-memory job history
	MaxHistory int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Workers:       2,
		QueueSize:     16,
		JobTimeout:    15 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    time.Minute,
		LockTTL:       20 * time.Minute,
		MaxHistory:    100,
	}
}

// FromConfig overlays the application sync settings on the defaults
func FromConfig(c config.SyncConfig) Config {
	cfg := DefaultConfig()
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.JobTimeout > 0 {
		cfg.JobTimeout = c.JobTimeout
	}
	if c.RetryAttempts >= 0 {
		cfg.RetryAttempts = c.RetryAttempts
	}
	if c.RetryDelay > 0 {
		cfg.RetryDelay = c.RetryDelay
	}
	if c.LockTTL > 0 {
		cfg.LockTTL = c.LockTTL
	}
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 || c.MaxHistory <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 || c.RetryAttempts < 0 || c.RetryDelay < 0 {
		return ErrInvalidConfig
	}
	if c.LockTTL < c.JobTimeout {
		return fmt.Errorf("%w: lock TTL %s shorter than job timeout %s", ErrInvalidConfig, c.LockTTL, c.JobTimeout)
	}
	return nil
}

// SyncScheduler runs sync jobs on a worker pool. At most one job per
// direction is queued or running, across instances when the locker is shared.
type SyncScheduler struct {
	config   Config
	executor SyncExecutor
	locker   cache.Locker
	logger   *zap.Logger
	now      func() time.Time

	jobs      chan *SyncJob
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    map[integration.Direction]*SyncJob

	// historyMu guards history and every field of the jobs it holds
	historyMu sync.RWMutex
	history   []*SyncJob
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(cfg Config, executor SyncExecutor, locker cache.Locker, l *zap.Logger) (*SyncScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &SyncScheduler{
		config:   cfg,
		executor: executor,
		locker:   locker,
		logger:   l,
		now:      time.Now,
		jobs:     make(chan *SyncJob, cfg.QueueSize),
		active:   make(map[integration.Direction]*SyncJob),
		history:  make([]*SyncJob, 0, cfg.MaxHistory),
	}, nil
}

// Start starts the worker pool
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop cancels running jobs and waits for the workers to exit
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}

	for {
		select {
		case job := <-s.jobs:
			s.cancelJob(job)
		default:
			s.logger.Info("Sync scheduler stopped gracefully")
			return nil
		}
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Trigger queues a run of direction and returns a snapshot of the new job
func (s *SyncScheduler) Trigger(direction integration.Direction, trigger Trigger) (SyncJob, error) {
	if !direction.IsValid() {
		return SyncJob{}, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return SyncJob{}, ErrSchedulerNotRunning
	}
	if cur, ok := s.active[direction]; ok {
		return SyncJob{}, fmt.Errorf("%w: job %s", ErrSyncAlreadyInProgress, cur.ID)
	}

	job := NewSyncJob(direction, trigger, s.config.RetryAttempts, s.now())
	select {
	case s.jobs <- job:
	default:
		return SyncJob{}, ErrJobQueueFull
	}
	s.active[direction] = job
	s.addToHistory(job)

	s.logger.Debug("Sync job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("direction", direction.String()),
		zap.String("trigger", string(trigger)),
	)
	return *job, nil
}

// Job returns a snapshot of a job from the history
func (s *SyncScheduler) Job(id uuid.UUID) (SyncJob, error) {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	for _, job := range s.history {
		if job.ID == id {
			return *job, nil
		}
	}
	return SyncJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// History returns snapshots of recent jobs, newest first. An empty direction matches all.
func (s *SyncScheduler) History(direction integration.Direction, limit int) []SyncJob {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]SyncJob, 0, limit)
	for _, job := range s.history {
		if direction != "" && job.Direction != direction {
			continue
		}
		result = append(result, *job)
		if len(result) == limit {
			break
		}
	}
	return result
}

func (s *SyncScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.processJob(ctx, job, workerID)
		}
	}
}

func (s *SyncScheduler) processJob(ctx context.Context, job *SyncJob, workerID int) {
	log := s.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("direction", job.Direction.String()),
	)

	if ctx.Err() != nil {
		s.cancelJob(job)
		return
	}

	lock, err := s.locker.Obtain(ctx, "sync:"+job.Direction.String(), s.config.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotObtained) {
			err = fmt.Errorf("%w: held by another instance", ErrSyncAlreadyInProgress)
			log.Info("Sync job skipped, direction locked elsewhere")
			s.update(job, func(j *SyncJob) { j.Fail(err, s.now()) })
			s.release(job)
			return
		}
		log.Error("Failed to obtain sync lock", zap.Error(err))
		s.failed(ctx, job, err, log)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Warn("Failed to release sync lock", zap.Error(err))
		}
	}()

	s.update(job, func(j *SyncJob) { j.Start(s.now()) })
	log.Info("Processing sync job", zap.Int("retry_count", job.RetryCount))

	jobCtx, cancel := context.WithTimeout(logger.WithJobID(ctx, job.ID.String()), s.config.JobTimeout)
	defer cancel()

	result, err := s.executor.Run(jobCtx, job.ID.String(), job.Direction)
	switch {
	case err != nil && ctx.Err() != nil:
		s.cancelJob(job)
		log.Warn("Sync job cancelled", zap.Error(err))
	case err != nil:
		log.Error("Sync job failed", zap.Error(err))
		s.failed(ctx, job, err, log)
	default:
		s.update(job, func(j *SyncJob) { j.Complete(result, s.now()) })
		s.release(job)
		snap, _ := s.Job(job.ID)
		log.Info("Sync job completed",
			zap.String("status", string(snap.Status)),
			zap.Int("processed", snap.Processed),
			zap.Int("succeeded", snap.Succeeded),
			zap.Int("failed", snap.Failed),
			zap.Int("skipped", snap.Skipped),
		)
	}
}

// failed marks job failed and schedules a retry when attempts remain
func (s *SyncScheduler) failed(ctx context.Context, job *SyncJob, err error, log *zap.Logger) {
	var (
		retry bool
		delay time.Duration
	)
	s.update(job, func(j *SyncJob) {
		j.Fail(err, s.now())
		if j.ShouldRetry() {
			retry = true
			delay = j.ScheduleRetry(s.config.RetryDelay, s.now())
		}
	})
	if !retry {
		s.release(job)
		return
	}

	log.Info("Sync job scheduled for retry",
		zap.Int("retry_count", job.RetryCount),
		zap.Duration("delay", delay),
	)
	s.wg.Add(1)
	go s.retryLater(ctx, job, delay)
}

func (s *SyncScheduler) retryLater(ctx context.Context, job *SyncJob, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.cancelJob(job)
	case <-timer.C:
		select {
		case s.jobs <- job:
		default:
			s.logger.Warn("Failed to re-queue sync job for retry", zap.String("job_id", job.ID.String()))
			s.update(job, func(j *SyncJob) { j.Fail(ErrJobQueueFull, s.now()) })
			s.release(job)
		}
	}
}

func (s *SyncScheduler) cancelJob(job *SyncJob) {
	s.update(job, func(j *SyncJob) { j.Cancel(s.now()) })
	s.release(job)
}

// release frees the direction slot held by job
func (s *SyncScheduler) release(job *SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[job.Direction] == job {
		delete(s.active, job.Direction)
	}
}

func (s *SyncScheduler) update(job *SyncJob, fn func(*SyncJob)) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	fn(job)
}

func (s *SyncScheduler) addToHistory(job *SyncJob) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]*SyncJob{job}, s.history...)
	if len(s.history) > s.config.MaxHistory {
		s.history = s.history[:s.config.MaxHistory]
	}
}
