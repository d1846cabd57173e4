// Package scheduler runs retrying tasks at their due instants on a pool of consumer goroutines
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jzx17/retryq/internal/logging"
	"github.com/jzx17/retryq/pkg/queue"
	"github.com/jzx17/retryq/pkg/types"
	"github.com/jzx17/retryq/pkg/worker"
)

// pressureLogInterval limits how often overflow and abandonment are reported
const pressureLogInterval = 10 * time.Second

// Scheduler owns the deadline queue, the overflow buffer, the consumer
// goroutines and the callback dispatcher.
//
// Lifecycle: New, Start, any number of Submit calls, then Shutdown or Close.
// A stopped scheduler cannot be restarted.
type Scheduler struct {
	cfg Config

	queue    *queue.DeadlineQueue[types.Schedulable]
	overflow *queue.Overflow[types.Schedulable]
	headroom int

	dispatcher *worker.CallbackDispatcher
	clock      types.Clock
	logger     zerolog.Logger

	// lifecycle
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	group  *errgroup.Group

	pending  atomic.Int64
	counters counters

	overflowLog rate.Sometimes
	abandonLog  rate.Sometimes
}

// New validates cfg and creates a scheduler in the Created state
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := types.OrRealClock(cfg.Clock)
	logger := logging.OrNop(cfg.Logger)
	if cfg.LogLevel != "" {
		logger = logger.Level(logging.ParseLevel(cfg.LogLevel, logger.GetLevel()))
	}
	logger = logger.With().Str("component", "scheduler").Logger()

	q, err := queue.NewDeadlineQueue[types.Schedulable](cfg.QueueCapacity, clock)
	if err != nil {
		return nil, err
	}
	threshold := queue.OverflowThreshold(cfg.Workers)

	dispatcher, err := worker.NewCallbackDispatcher(&worker.FixedWorkerPoolConfig{
		PoolSize:  cfg.CallbackWorkers,
		QueueSize: cfg.CallbackQueueSize,
		Clock:     clock,
		Logger:    &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create callback dispatcher: %w", err)
	}

	return &Scheduler{
		cfg:         cfg,
		queue:       q,
		overflow:    queue.NewOverflow[types.Schedulable](threshold),
		headroom:    Headroom(cfg.QueueCapacity, threshold),
		dispatcher:  dispatcher,
		clock:       clock,
		logger:      logger,
		overflowLog: rate.Sometimes{First: 1, Interval: pressureLogInterval},
		abandonLog:  rate.Sometimes{First: 1, Interval: pressureLogInterval},
	}, nil
}

// Headroom is the queue size below which consumers may put tasks back.
// It keeps THRESHOLD slots free for producers, but never drops below one.
func Headroom(capacity, threshold int) int {
	if h := capacity - threshold; h > 1 {
		return h
	}
	return 1
}

// Start launches the callback pool and the consumer goroutines
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case types.StateCreated:
	case types.StateRunning:
		return fmt.Errorf("scheduler is already running")
	default:
		return types.ErrSchedulerClosed
	}

	// Consumers and callback workers outlive ctx; only Shutdown and Close stop them
	base := context.WithoutCancel(ctx)
	if err := s.dispatcher.Start(base); err != nil {
		return fmt.Errorf("start callback dispatcher: %w", err)
	}

	runCtx, cancel := context.WithCancel(base)
	group, groupCtx := errgroup.WithContext(runCtx)
	for i := 0; i < s.cfg.Workers; i++ {
		id := i
		group.Go(func() error {
			return s.consume(groupCtx, id)
		})
	}

	s.cancel = cancel
	s.group = group
	s.state.Store(int32(types.StateRunning))

	s.logger.Info().
		Int("workers", s.cfg.Workers).
		Int("queue_capacity", s.queue.Cap()).
		Int("overflow_threshold", s.overflow.Threshold()).
		Msg("scheduler started")
	return nil
}

// Submit hands a task to the scheduler, blocking while the queue is full.
// The task must already have been attempted once; its NextRun decides when
// the next attempt happens.
func (s *Scheduler) Submit(ctx context.Context, task types.Schedulable) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	// Count the task before checking the state so Shutdown never misses it
	s.pending.Add(1)
	switch s.State() {
	case types.StateRunning:
	case types.StateCreated:
		s.pending.Add(-1)
		return types.ErrSchedulerNotRunning
	default:
		s.pending.Add(-1)
		return types.ErrSchedulerClosed
	}

	if err := s.queue.Insert(ctx, task); err != nil {
		s.pending.Add(-1)
		if errors.Is(err, types.ErrQueueClosed) {
			return types.ErrSchedulerClosed
		}
		return err
	}

	s.counters.submitted.Add(1)
	s.logger.Debug().
		Str("task", task.Name()).
		Time("next_run", task.NextRun()).
		Msg("task submitted")
	return nil
}

// Shutdown stops accepting tasks and waits until every pending task has been
// released or ctx ends. Consumers are then stopped, tasks still queued are
// discarded and the callback pool is drained.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case types.StateStopped:
		return nil
	case types.StateCreated:
		s.state.Store(int32(types.StateStopped))
		s.queue.Close()
		s.discardRemaining()
		return s.dispatcher.Shutdown(ctx)
	}

	s.state.Store(int32(types.StateDraining))
	drainErr := s.waitIdle(ctx)
	if drainErr != nil {
		s.logger.Warn().
			Int64("pending", s.pending.Load()).
			Err(drainErr).
			Msg("shutdown deadline reached with tasks pending")
	}

	s.cancel()
	s.queue.Close()
	groupErr := s.group.Wait()

	dropped := s.discardRemaining()
	s.state.Store(int32(types.StateStopped))

	dispatchErr := s.dispatcher.Shutdown(ctx)

	s.logger.Info().Int("dropped", dropped).Msg("scheduler stopped")
	return errors.Join(drainErr, groupErr, dispatchErr)
}

// Close stops the scheduler without waiting for pending tasks
func (s *Scheduler) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Shutdown(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// waitIdle polls the pending counter until it reaches zero. It runs on wall
// time so a paused Config.Clock cannot stall Shutdown.
func (s *Scheduler) waitIdle(ctx context.Context) error {
	if s.pending.Load() == 0 {
		return nil
	}

	ticker := time.NewTicker(s.cfg.DrainPollInterval)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain pending tasks: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// discardRemaining empties the queue and the overflow buffer once consumers are gone
func (s *Scheduler) discardRemaining() int {
	left := append(s.queue.Drain(), s.overflow.Drain()...)
	for _, task := range left {
		task.Discard()
		s.release()
		s.counters.dropped.Add(1)
	}
	return len(left)
}

// release marks one pending task as handled
func (s *Scheduler) release() {
	s.pending.Add(-1)
}

// State returns the lifecycle state
func (s *Scheduler) State() types.SchedulerState {
	return types.SchedulerState(s.state.Load())
}

// Dispatcher returns the callback dispatcher tasks should deliver through
func (s *Scheduler) Dispatcher() types.Dispatcher {
	return s.dispatcher
}

// Clock returns the scheduler clock
func (s *Scheduler) Clock() types.Clock {
	return s.clock
}

// Logger returns the scheduler logger
func (s *Scheduler) Logger() *zerolog.Logger {
	return &s.logger
}
