// Package task implements the schedulable unit of work handled by the retry scheduler
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jzx17/retryq/internal/logging"
	"github.com/jzx17/retryq/internal/safe"
	"github.com/jzx17/retryq/pkg/types"
)

// WorkFunc is the function attempted by a task
type WorkFunc[T any] func(ctx context.Context) (T, error)

// Predicate decides from the latest result and error whether another attempt is needed
type Predicate[T any] func(result T, err error) bool

// Callback receives the task and the error of the attempt that triggered it
type Callback[T any] func(t *Task[T], err error)

// Hook receives the task on a terminal event that carries no error
type Hook[T any] func(t *Task[T])

// Config holds the immutable part of a task
type Config[T any] struct {
	// Label is prepended to the generated task name when set
	Label string

	// MaxAttempts is the attempt budget, at least 1
	MaxAttempts int

	// Delays holds one delay per attempt; Delays[i] separates attempt i+1 from the next one
	Delays []time.Duration

	// Func is the work function
	Func WorkFunc[T]

	// Again is the continuation predicate
	Again Predicate[T]

	// OnAttempt fires after every attempt
	OnAttempt Callback[T]

	// OnFinished fires when the predicate stops the task
	OnFinished Callback[T]

	// OnExhausted fires once when the attempt budget is used up
	OnExhausted Hook[T]

	// OnAbandoned fires when the task is dropped under queue pressure
	OnAbandoned Hook[T]
}

// Validate checks the configuration before any attempt is made
func (c *Config[T]) Validate() error {
	if c.MaxAttempts < 1 {
		return types.NewConfigError("maxAttempts", "must be at least 1, got %d", c.MaxAttempts)
	}
	if len(c.Delays) != c.MaxAttempts {
		return types.NewConfigError("delays", "expected %d entries to match maxAttempts, got %d",
			c.MaxAttempts, len(c.Delays))
	}
	for i, d := range c.Delays {
		if d < 0 {
			return types.NewConfigError("delays", "entry %d is negative (%v)", i, d)
		}
	}
	if c.Func == nil {
		return types.NewConfigError("func", "work function is required")
	}
	if c.Again == nil {
		return types.NewConfigError("again", "continuation predicate is required")
	}
	return nil
}

// Task is one schedulable unit of work. The scheduler hands a task to one
// goroutine at a time, so the execution state is written by a single owner;
// the accessors are still safe to call from callbacks running concurrently
// with the next attempt.
type Task[T any] struct {
	name   string
	config Config[T]
	delays []time.Duration

	dispatcher types.Dispatcher
	clock      types.Clock
	logger     zerolog.Logger

	attempts atomic.Int32
	status   atomic.Int32

	mu      sync.RWMutex
	nextRun time.Time
	result  T
	err     error

	exhaustOnce sync.Once
	doneOnce    sync.Once
	done        chan struct{}
}

// Options carries the collaborators a task needs at runtime
type Options struct {
	Dispatcher types.Dispatcher
	Clock      types.Clock
	Logger     *zerolog.Logger
}

// New validates cfg and creates a task
func New[T any](cfg Config[T], opts Options) (*Task[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Dispatcher == nil {
		return nil, types.NewConfigError("dispatcher", "callback dispatcher is required")
	}

	name := uuid.NewString()[:8]
	if cfg.Label != "" {
		name = cfg.Label + "-" + name
	}

	delays := make([]time.Duration, len(cfg.Delays))
	copy(delays, cfg.Delays)

	clock := types.OrRealClock(opts.Clock)
	logger := logging.OrNop(opts.Logger).With().Str("task", name).Logger()

	return &Task[T]{
		name:       name,
		config:     cfg,
		delays:     delays,
		dispatcher: opts.Dispatcher,
		clock:      clock,
		logger:     logger,
		nextRun:    clock.Now(),
		done:       make(chan struct{}),
	}, nil
}

// Name returns the task label
func (t *Task[T]) Name() string {
	return t.name
}

// Attempts returns how many attempts have started
func (t *Task[T]) Attempts() int {
	return int(t.attempts.Load())
}

// MaxAttempts returns the attempt budget
func (t *Task[T]) MaxAttempts() int {
	return t.config.MaxAttempts
}

// NextRun returns the instant the next attempt is due
func (t *Task[T]) NextRun() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextRun
}

// Result returns the result of the latest attempt
func (t *Task[T]) Result() T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Err returns the error of the latest attempt
func (t *Task[T]) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Status returns the lifecycle status
func (t *Task[T]) Status() Status {
	return Status(t.status.Load())
}

// Execute runs one attempt and reports whether another attempt is needed.
//
// The next run instant is computed before the work function starts, so the
// configured delay is measured from the beginning of the attempt.
func (t *Task[T]) Execute(ctx context.Context) bool {
	index := int(t.attempts.Load())
	var delay time.Duration
	if index < len(t.delays) {
		delay = t.delays[index]
	}
	next := t.clock.Now().Add(delay)

	t.mu.Lock()
	t.nextRun = next
	t.mu.Unlock()

	attempt := t.attempts.Add(1)

	result, err := safe.Call(func() (T, error) {
		return t.config.Func(ctx)
	})

	t.mu.Lock()
	t.result = result
	t.err = err
	t.mu.Unlock()

	t.logger.Debug().
		Int32("attempt", attempt).
		Int("max_attempts", t.config.MaxAttempts).
		Time("next_run", next).
		Err(err).
		Msg("attempt finished")

	if cb := t.config.OnAttempt; cb != nil {
		t.dispatcher.Dispatch(t.name, func() { cb(t, err) })
	}

	again, panicErr := safe.Bool(func() bool {
		return t.config.Again(result, err)
	})
	if panicErr != nil {
		t.logger.Error().Err(panicErr).Msg("continuation predicate panicked, stopping task")
		err = panicErr
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}

	if !again {
		t.resolve(StatusFinished)
		if cb := t.config.OnFinished; cb != nil {
			t.dispatcher.Dispatch(t.name, func() { cb(t, err) })
		}
	}
	return again
}

// IsExhausted reports whether another execution would exceed the attempt budget.
// The exhaustion callback fires the first time this becomes true.
func (t *Task[T]) IsExhausted() bool {
	if int(t.attempts.Load()) < t.config.MaxAttempts {
		return false
	}

	t.exhaustOnce.Do(func() {
		t.resolve(StatusExhausted)
		t.logger.Debug().Int32("attempts", t.attempts.Load()).Msg("attempts exhausted")
		if hook := t.config.OnExhausted; hook != nil {
			t.dispatcher.Dispatch(t.name, func() { hook(t) })
		}
	})
	return true
}

// IsDue reports whether the next attempt may start
func (t *Task[T]) IsDue() bool {
	return !t.clock.Now().Before(t.NextRun())
}

// TimeUntilDue returns how long until the next attempt may start, never negative
func (t *Task[T]) TimeUntilDue() time.Duration {
	d := t.clock.Until(t.NextRun())
	if d < 0 {
		return 0
	}
	return d
}

// OnAbandoned marks the task abandoned and fires the abandonment callback
func (t *Task[T]) OnAbandoned() {
	if !t.resolve(StatusAbandoned) {
		return
	}
	if hook := t.config.OnAbandoned; hook != nil {
		t.dispatcher.Dispatch(t.name, func() { hook(t) })
	}
}

// Discard marks a task left behind by a stopped scheduler as dropped
func (t *Task[T]) Discard() {
	t.resolve(StatusDropped)
}

// Done returns a channel closed once the task reaches a terminal status
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task reaches a terminal status or ctx ends
func (t *Task[T]) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		return t.Status(), nil
	case <-ctx.Done():
		return t.Status(), ctx.Err()
	}
}

// resolve moves a pending task to a terminal status; later calls are no-ops
func (t *Task[T]) resolve(s Status) bool {
	if !t.status.CompareAndSwap(int32(StatusPending), int32(s)) {
		return false
	}
	t.doneOnce.Do(func() { close(t.done) })
	return true
}
