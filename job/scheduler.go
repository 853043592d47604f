package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"hlsvault/logger"
	"hlsvault/metrics"
	"hlsvault/models"
)

var (
	ErrAlreadyScheduled = errors.New("asset already has a running job")
	ErrShuttingDown     = errors.New("scheduler is shutting down")
)

// Runner executes one job. *Pipeline is the production Runner.
type Runner interface {
	Run(ctx context.Context, j models.TranscodeJob) error
}

// Scheduler runs each job on its own goroutine. Schedule never waits for the
// job; a panic inside a job is recovered and reported on that job's channel
// only.
type Scheduler struct {
	runner Runner
	slots  chan struct{} // nil when unbounded

	mu       sync.Mutex
	active   map[string]context.CancelFunc // asset id -> cancel
	closed   bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopJobs context.CancelFunc
}

// NewScheduler returns a scheduler. maxConcurrent bounds how many jobs run at
// once; zero or less means no bound, extra jobs wait for a slot on their own
// goroutine.
func NewScheduler(r Runner, maxConcurrent int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:   r,
		active:   make(map[string]context.CancelFunc),
		baseCtx:  ctx,
		stopJobs: cancel,
	}
	if maxConcurrent > 0 {
		s.slots = make(chan struct{}, maxConcurrent)
	}
	return s
}

// Schedule starts j in the background and returns at once. The returned
// channel receives the job's result and is closed; reading it is optional.
// Call Schedule only after the asset's PROCESSING record is committed.
func (s *Scheduler) Schedule(j models.TranscodeJob) <-chan error {
	result := make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- ErrShuttingDown
		close(result)
		return result
	}
	if _, running := s.active[j.AssetID]; running {
		s.mu.Unlock()
		result <- fmt.Errorf("%w: %s", ErrAlreadyScheduled, j.AssetID)
		close(result)
		return result
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active[j.AssetID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.JobsInFlight.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.JobsInFlight.Dec()
		defer func() {
			s.mu.Lock()
			delete(s.active, j.AssetID)
			s.mu.Unlock()
			cancel()
		}()
		defer close(result)

		result <- s.run(ctx, j)
	}()
	return result
}

func (s *Scheduler) run(ctx context.Context, j models.TranscodeJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic in job for asset %s: %v\n%s", j.AssetID, r, debug.Stack())
			err = fmt.Errorf("job for asset %s panicked: %v", j.AssetID, r)
		}
	}()

	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			// Still handed to the runner, which fails the asset and removes
			// the staged files under the cancelled ctx.
			logger.Warnf("job for asset %s cancelled while waiting for a slot", j.AssetID)
		}
	}
	return s.runner.Run(ctx, j)
}

// InFlight returns the asset ids with a job that has not finished.
func (s *Scheduler) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops accepting jobs and waits for running ones. If ctx ends
// first, running jobs are cancelled and Shutdown returns ctx.Err() once they
// have returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
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
		s.stopJobs()
		return nil
	case <-ctx.Done():
		logger.Warnf("shutdown deadline reached; cancelling %d running jobs", len(s.InFlight()))
		s.stopJobs()
		<-done
		return ctx.Err()
	}
}
