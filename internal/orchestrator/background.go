package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/logging"
)

// Scheduler runs post-response jobs under a completion guarantee: every
// scheduled job is tracked in a WaitGroup the daemon drains on shutdown, so
// jobs finish rather than dying with the process. Jobs are decoupled from
// request cancellation; a disconnecting client does not abort them.
type Scheduler struct {
	logger *logging.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{logger: logger.Named("background")}
}

// Go schedules fn to run asynchronously. The job inherits the request's
// values (tenant scope, log fields) but not its cancellation. Failures and
// panics are logged per job and never affect the already-sent response.
func (s *Scheduler) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn(ctx, "job rejected, scheduler draining", zap.String("job", name))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	jobCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		s.run(jobCtx, name, fn)
	}()
}

// Run executes fn synchronously with the scheduler's recovery and logging.
// Used for the session commit, which must complete before control returns.
func (s *Scheduler) Run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.run(context.WithoutCancel(ctx), name, fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "background job panicked",
				zap.String("job", name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error(ctx, "background job failed",
			zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Debug(ctx, "background job done",
		zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Drain stops accepting jobs and waits for in-flight ones, up to ctx's
// deadline.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining background jobs: %w", ctx.Err())
	}
}
