package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/o2o/erpsync/internal/domain/integration"
)

// IntervalTrigger queues a run of each direction every interval
type IntervalTrigger struct {
	scheduler  *SyncScheduler
	directions []integration.Direction
	interval   time.Duration
	runOnStart bool
	logger     *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewIntervalTrigger creates a trigger. With runOnStart every direction is
// queued as soon as the trigger starts.
func NewIntervalTrigger(
	scheduler *SyncScheduler,
	directions []integration.Direction,
	interval time.Duration,
	runOnStart bool,
	logger *zap.Logger,
) (*IntervalTrigger, error) {
	if interval <= 0 || len(directions) == 0 {
		return nil, ErrInvalidConfig
	}
	for _, d := range directions {
		if !d.IsValid() {
			return nil, ErrInvalidDirection
		}
	}
	return &IntervalTrigger{
		scheduler:  scheduler,
		directions: directions,
		interval:   interval,
		runOnStart: runOnStart,
		logger:     logger,
	}, nil
}

// Start starts one ticker per direction
func (t *IntervalTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunning {
		return nil
	}
	t.isRunning = true

	ctx, t.cancel = context.WithCancel(ctx)
	for _, d := range t.directions {
		t.wg.Add(1)
		go t.runLoop(ctx, d)
	}

	t.logger.Info("Sync interval trigger started",
		zap.Duration("interval", t.interval),
		zap.Int("directions", len(t.directions)),
	)
	return nil
}

// Stop stops the tickers
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.cancel()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *IntervalTrigger) runLoop(ctx context.Context, direction integration.Direction) {
	defer t.wg.Done()

	if t.runOnStart {
		t.fire(direction)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(direction)
		}
	}
}

func (t *IntervalTrigger) fire(direction integration.Direction) {
	_, err := t.scheduler.Trigger(direction, TriggerSchedule)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncAlreadyInProgress):
		t.logger.Debug("Previous sync still active, skipping tick",
			zap.String("direction", direction.String()))
	default:
		t.logger.Warn("Failed to schedule sync",
			zap.String("direction", direction.String()),
			zap.Error(err))
	}
}
