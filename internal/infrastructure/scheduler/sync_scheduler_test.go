package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/o2o/erpsync/internal/domain/integration"
	"github.com/o2o/erpsync/internal/infrastructure/cache"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type fakeExecutor struct {
	calls atomic.Int32
	run   func(ctx context.Context, call int32) (*integration.SyncResult, error)
}

func (f *fakeExecutor) Run(ctx context.Context, jobID string, direction integration.Direction) (*integration.SyncResult, error) {
	call := f.calls.Add(1)
	if f.run == nil {
		return &integration.SyncResult{JobID: jobID, Direction: direction}, nil
	}
	return f.run(ctx, call)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.JobTimeout = 5 * time.Second
	cfg.LockTTL = 10 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	return cfg
}

func startScheduler(t *testing.T, cfg Config, exec SyncExecutor, locker cache.Locker) *SyncScheduler {
	t.Helper()
	s, err := NewSyncScheduler(cfg, exec, locker, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitForStatus(t *testing.T, s *SyncScheduler, id uuid.UUID, want JobStatus) SyncJob {
	t.Helper()
	var job SyncJob
	require.Eventually(t, func() bool {
		var err error
		job, err = s.Job(id)
		return err == nil && job.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s", want)
	return job
}

// ---------------------------------------------------------------------------
// SyncJob Tests
// ---------------------------------------------------------------------------

func TestSyncJob_Complete(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		result integration.SyncResult
		want   JobStatus
	}{
		{"all succeeded", integration.SyncResult{Processed: 5, Succeeded: 5}, JobStatusSuccess},
		{"nothing to do", integration.SyncResult{}, JobStatusSuccess},
		{"only skipped", integration.SyncResult{Processed: 2, Skipped: 2}, JobStatusSuccess},
		{"some failed", integration.SyncResult{Processed: 5, Succeeded: 3, Failed: 2}, JobStatusPartial},
		{"all failed", integration.SyncResult{Processed: 2, Failed: 2}, JobStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewSyncJob(integration.DirectionPush, TriggerManual, 3, now)
			job.Start(now)
			job.Complete(&tt.result, now.Add(time.Second))

			assert.Equal(t, tt.want, job.Status)
			assert.True(t, job.Status.IsTerminal())
			assert.Equal(t, tt.result.Processed, job.Processed)
			require.NotNil(t, job.CompletedAt)
		})
	}
}

func TestSyncJob_ScheduleRetry(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	job := NewSyncJob(integration.DirectionPull, TriggerSchedule, 10, now)

	var delays []time.Duration
	for i := 0; i < 7; i++ {
		job.Fail(errors.New("boom"), now)
		require.True(t, job.ShouldRetry())
		delays = append(delays, job.ScheduleRetry(5*time.Minute, now))
	}

	assert.Equal(t, []time.Duration{
		5 * time.Minute, 10 * time.Minute, 20 * time.Minute,
		30 * time.Minute, 30 * time.Minute, 30 * time.Minute, 30 * time.Minute,
	}, delays)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, "boom", job.Error)
	assert.Equal(t, now.Add(30*time.Minute), *job.NextRetryAt)
}

func TestSyncJob_ShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		status     JobStatus
		retryCount int
		maxRetries int
		expected   bool
	}{
		{"Failed with retries available", JobStatusFailed, 0, 3, true},
		{"Failed max retries reached", JobStatusFailed, 3, 3, false},
		{"Success should not retry", JobStatusSuccess, 0, 3, false},
		{"Partial should not retry", JobStatusPartial, 0, 3, false},
		{"Cancelled should not retry", JobStatusCancelled, 0, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &SyncJob{Status: tt.status, RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			assert.Equal(t, tt.expected, job.ShouldRetry())
		})
	}
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"no queue", func(c *Config) { c.QueueSize = 0 }},
		{"no timeout", func(c *Config) { c.JobTimeout = 0 }},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }},
		{"lock shorter than job", func(c *Config) { c.LockTTL = c.JobTimeout - time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// ---------------------------------------------------------------------------
// SyncScheduler Tests
// ---------------------------------------------------------------------------

func TestSyncScheduler_RunsJob(t *testing.T) {
	exec := &fakeExecutor{run: func(ctx context.Context, _ int32) (*integration.SyncResult, error) {
		return &integration.SyncResult{Processed: 3, Succeeded: 2, Skipped: 1}, nil
	}}
	s := startScheduler(t, testConfig(), exec, nil)

	queued, err := s.Trigger(integration.DirectionPush, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, queued.Status)
	assert.Equal(t, TriggerManual, queued.Trigger)

	job := waitForStatus(t, s, queued.ID, JobStatusSuccess)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 2, job.Succeeded)
	assert.Equal(t, 1, job.Skipped)
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestSyncScheduler_OneJobPerDirection(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{run: func(ctx context.Context, _ int32) (*integration.SyncResult, error) {
		<-release
		return &integration.SyncResult{}, nil
	}}
	s := startScheduler(t, testConfig(), exec, nil)

	first, err := s.Trigger(integration.DirectionPush, TriggerSchedule)
	require.NoError(t, err)

	_, err = s.Trigger(integration.DirectionPush, TriggerManual)
	assert.ErrorIs(t, err, ErrSyncAlreadyInProgress)

	pull, err := s.Trigger(integration.DirectionPull, TriggerManual)
	require.NoError(t, err)

	close(release)
	waitForStatus(t, s, first.ID, JobStatusSuccess)
	waitForStatus(t, s, pull.ID, JobStatusSuccess)

	require.Eventually(t, func() bool {
		_, err := s.Trigger(integration.DirectionPush, TriggerManual)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSyncScheduler_RetriesFailedJob(t *testing.T) {
	exec := &fakeExecutor{run: func(ctx context.Context, call int32) (*integration.SyncResult, error) {
		if call == 1 {
			return nil, errors.New("store unavailable")
		}
		return &integration.SyncResult{Processed: 1, Succeeded: 1}, nil
	}}
	s := startScheduler(t, testConfig(), exec, nil)

	queued, err := s.Trigger(integration.DirectionPull, TriggerManual)
	require.NoError(t, err)

	job := waitForStatus(t, s, queued.ID, JobStatusSuccess)
	assert.Equal(t, 1, job.RetryCount)
	assert.Empty(t, job.Error)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestSyncScheduler_GivesUpAfterRetries(t *testing.T) {
	exec := &fakeExecutor{run: func(ctx context.Context, _ int32) (*integration.SyncResult, error) {
		return nil, errors.New("gateway down")
	}}
	cfg := testConfig()
	cfg.RetryAttempts = 1
	s := startScheduler(t, cfg, exec, nil)

	queued, err := s.Trigger(integration.DirectionPush, TriggerManual)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, _ := s.Job(queued.ID)
		return job.Status == JobStatusFailed && job.RetryCount == 1
	}, 5*time.Second, 5*time.Millisecond)

	job, err := s.Job(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "gateway down", job.Error)
	assert.Equal(t, int32(2), exec.calls.Load())

	require.Eventually(t, func() bool {
		_, err := s.Trigger(integration.DirectionPush, TriggerManual)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSyncScheduler_LockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	locker := cache.NewLocalLocker()
	other, err := locker.Obtain(ctx, "sync:push", time.Minute)
	require.NoError(t, err)
	defer other.Release(ctx)

	exec := &fakeExecutor{}
	s := startScheduler(t, testConfig(), exec, locker)

	queued, err := s.Trigger(integration.DirectionPush, TriggerManual)
	require.NoError(t, err)

	job := waitForStatus(t, s, queued.ID, JobStatusFailed)
	assert.Contains(t, job.Error, ErrSyncAlreadyInProgress.Error())
	assert.Zero(t, job.RetryCount)
	assert.Zero(t, exec.calls.Load())
}

func TestSyncScheduler_StopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	exec := &fakeExecutor{run: func(ctx context.Context, _ int32) (*integration.SyncResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s, err := NewSyncScheduler(testConfig(), exec, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	queued, err := s.Trigger(integration.DirectionPush, TriggerManual)
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())

	job, err := s.Job(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCancelled, job.Status)

	_, err = s.Trigger(integration.DirectionPush, TriggerManual)
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestSyncScheduler_Errors(t *testing.T) {
	s, err := NewSyncScheduler(testConfig(), &fakeExecutor{}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = s.Trigger(integration.DirectionPush, TriggerManual)
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	_, err = s.Trigger("sideways", TriggerManual)
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = s.Job(uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = NewSyncScheduler(Config{}, &fakeExecutor{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSyncScheduler_History(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistory = 3
	s := startScheduler(t, cfg, &fakeExecutor{}, nil)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		d := integration.DirectionPush
		if i%2 == 1 {
			d = integration.DirectionPull
		}
		require.Eventually(t, func() bool {
			job, err := s.Trigger(d, TriggerManual)
			if err != nil {
				return false
			}
			ids = append(ids, job.ID)
			return true
		}, time.Second, 5*time.Millisecond)
		waitForStatus(t, s, ids[len(ids)-1], JobStatusSuccess)
	}

	all := s.History("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, ids[3], all[0].ID)

	pushes := s.History(integration.DirectionPush, 10)
	require.Len(t, pushes, 1)
	assert.Equal(t, ids[2], pushes[0].ID)

	_, err := s.Job(ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// ---------------------------------------------------------------------------
// IntervalTrigger Tests
// ---------------------------------------------------------------------------

func TestIntervalTrigger(t *testing.T) {
	exec := &fakeExecutor{}
	s := startScheduler(t, testConfig(), exec, nil)

	trigger, err := NewIntervalTrigger(s,
		[]integration.Direction{integration.DirectionPush, integration.DirectionPull},
		20*time.Millisecond, true, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, trigger.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(s.History(integration.DirectionPush, 0)) >= 2 &&
			len(s.History(integration.DirectionPull, 0)) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, trigger.Stop(context.Background()))
	assert.NoError(t, trigger.Stop(context.Background()))

	for _, job := range s.History("", 0) {
		assert.Equal(t, TriggerSchedule, job.Trigger)
	}
}

func TestNewIntervalTrigger_Validation(t *testing.T) {
	s, err := NewSyncScheduler(testConfig(), &fakeExecutor{}, nil, nil)
	require.NoError(t, err)

	_, err = NewIntervalTrigger(s, nil, time.Minute, false, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewIntervalTrigger(s, []integration.Direction{integration.DirectionPush}, 0, false, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewIntervalTrigger(s, []integration.Direction{"both"}, time.Minute, false, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrInvalidDirection)
}
