package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jzx17/retryq/internal/logging"
	"github.com/jzx17/retryq/internal/safe"
	"github.com/jzx17/retryq/pkg/types"
)

// WorkerState defines the state of a Worker
type WorkerState int32

const (
	// WorkerStateIdle represents idle worker state
	WorkerStateIdle WorkerState = iota
	// WorkerStateWorking represents working worker state
	WorkerStateWorking
	// WorkerStateStopped represents stopped worker state
	WorkerStateStopped
)

// String returns the string representation of WorkerState
func (ws WorkerState) String() string {
	switch ws {
	case WorkerStateIdle:
		return "idle"
	case WorkerStateWorking:
		return "working"
	case WorkerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker represents a single worker goroutine
type Worker struct {
	id    int
	state int32 // atomic state
	jobs  <-chan types.Job
	quit  chan struct{}
	done  chan struct{}

	// statistics
	totalProcessed int64
	totalFailed    int64
	lastJobTime    int64 // Unix nanosecond timestamp

	logger zerolog.Logger

	// time operations
	clock types.Clock
}

// NewWorkerWithClock creates a new Worker with specified clock and logger
func NewWorkerWithClock(id int, jobs <-chan types.Job, clock types.Clock, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:     id,
		state:  int32(WorkerStateIdle),
		jobs:   jobs,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logging.OrNop(logger).With().Int("callback_worker", id).Logger(),
		clock:  types.OrRealClock(clock),
	}
}

// ID returns the Worker ID
func (w *Worker) ID() int {
	return w.id
}

// State returns the current Worker state
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

// Start runs the Worker until ctx ends, Stop is called, or the job channel is closed.
// Closing the channel lets the worker finish every job already queued.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)
	defer atomic.StoreInt32(&w.state, int32(WorkerStateStopped))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.processJob(ctx, job)
		}
	}
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, job types.Job) {
	atomic.StoreInt32(&w.state, int32(WorkerStateWorking))
	defer atomic.StoreInt32(&w.state, int32(WorkerStateIdle))

	startTime := w.clock.Now()
	atomic.StoreInt64(&w.lastJobTime, startTime.UnixNano())

	err := w.executeJob(ctx, job)
	if err == nil {
		atomic.AddInt64(&w.totalProcessed, 1)
		return
	}

	atomic.AddInt64(&w.totalFailed, 1)
	event := w.logger.Error().
		Str("job", job.ID()).
		Dur("elapsed", w.clock.Since(startTime)).
		Err(err)
	var panicErr *types.PanicError
	if errors.As(err, &panicErr) {
		event = event.Str("stack", string(panicErr.Stack))
	}
	event.Msg("callback failed")
}

// executeJob executes a job with panic recovery support
func (w *Worker) executeJob(ctx context.Context, job types.Job) error {
	var jobErr error
	if err := safe.Run(func() { jobErr = job.Execute(ctx) }); err != nil {
		return err
	}
	return jobErr
}

// Stop stops the Worker and waits for the current job to complete
func (w *Worker) Stop() error {
	select {
	case <-w.quit:
		// already stopped
	default:
		close(w.quit)
	}

	select {
	case <-w.done:
		return nil
	case <-w.clock.After(5 * time.Second):
		return fmt.Errorf("worker %d stop timeout", w.id)
	}
}

// Done returns a channel closed once the worker goroutine has exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Stats gets Worker statistics
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		ID:             w.id,
		State:          w.State(),
		TotalProcessed: atomic.LoadInt64(&w.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&w.totalFailed),
		LastJobTime:    time.Unix(0, atomic.LoadInt64(&w.lastJobTime)),
	}
}

// WorkerStats defines Worker statistics
type WorkerStats struct {
	ID             int
	State          WorkerState
	TotalProcessed int64
	TotalFailed    int64
	LastJobTime    time.Time
}

// IsActive checks if Worker is active
func (ws WorkerStats) IsActive() bool {
	return ws.State == WorkerStateWorking
}

