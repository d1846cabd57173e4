package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jzx17/retryq/pkg/task"
	"github.com/jzx17/retryq/pkg/types"
)

// Engine is what a Retry needs from a scheduler. *scheduler.Scheduler implements it.
type Engine interface {
	Submit(ctx context.Context, t types.Schedulable) error
	Dispatcher() types.Dispatcher
	Clock() types.Clock
	Logger() *zerolog.Logger
}

// Retry configures one retrying operation. A Retry may be executed many
// times; every Execute call creates an independent task.
type Retry[T any] struct {
	engine Engine
	config task.Config[T]
}

// Option configures a Retry
type Option[T any] func(*Retry[T])

// New creates a Retry bound to engine
func New[T any](engine Engine, opts ...Option[T]) *Retry[T] {
	r := &Retry[T]{engine: engine}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithMaxAttempts sets the attempt budget
func WithMaxAttempts[T any](n int) Option[T] {
	return func(r *Retry[T]) {
		r.config.MaxAttempts = n
	}
}

// WithDelays sets the delay schedule, one entry per attempt
func WithDelays[T any](delays ...time.Duration) Option[T] {
	return func(r *Retry[T]) {
		r.config.Delays = append([]time.Duration(nil), delays...)
	}
}

// WithFunc sets the work function
func WithFunc[T any](fn task.WorkFunc[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.Func = fn
	}
}

// WithPlainFunc sets a work function that ignores the context
func WithPlainFunc[T any](fn func() (T, error)) Option[T] {
	return func(r *Retry[T]) {
		if fn == nil {
			r.config.Func = nil
			return
		}
		r.config.Func = func(context.Context) (T, error) { return fn() }
	}
}

// WithPredicate sets the continuation predicate
func WithPredicate[T any](again task.Predicate[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.Again = again
	}
}

// WithName sets a label prepended to generated task names
func WithName[T any](label string) Option[T] {
	return func(r *Retry[T]) {
		r.config.Label = label
	}
}

// OnAttempt registers a callback fired after every attempt
func OnAttempt[T any](cb task.Callback[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.OnAttempt = cb
	}
}

// OnFinished registers a callback fired when the predicate stops the task
func OnFinished[T any](cb task.Callback[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.OnFinished = cb
	}
}

// OnExhausted registers a callback fired once the attempt budget is used up
func OnExhausted[T any](hook task.Hook[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.OnExhausted = hook
	}
}

// OnAbandoned registers a callback fired when the task is dropped under queue pressure
func OnAbandoned[T any](hook task.Hook[T]) Option[T] {
	return func(r *Retry[T]) {
		r.config.OnAbandoned = hook
	}
}

// Execute validates the configuration and runs the first attempt on the
// calling goroutine.
//
// If no further attempt is needed it returns the attempt's result and error
// and a nil task. Otherwise the task is handed to the engine, blocking while
// its queue is full, and Execute returns the zero value with the task as a
// handle; later outcomes are reported only through the callbacks and the
// task's Done channel. When the first attempt already used the whole budget
// the task is returned exhausted without being scheduled. A non-nil error together with a nil task means either
// invalid configuration or a first attempt that finished with an error; if
// the engine refuses the task it is discarded and returned with the error.
func (r *Retry[T]) Execute(ctx context.Context) (T, *task.Task[T], error) {
	var zero T

	if r.engine == nil {
		return zero, nil, types.NewConfigError("engine", "scheduler is required")
	}
	t, err := task.New(r.config, task.Options{
		Dispatcher: r.engine.Dispatcher(),
		Clock:      r.engine.Clock(),
		Logger:     r.engine.Logger(),
	})
	if err != nil {
		return zero, nil, err
	}

	if !t.Execute(ctx) {
		return t.Result(), nil, t.Err()
	}
	// A single attempt budget is spent already; nothing to schedule
	if t.IsExhausted() {
		return zero, t, nil
	}

	if err := r.engine.Submit(ctx, t); err != nil {
		t.Discard()
		return zero, t, fmt.Errorf("submit task %s: %w", t.Name(), err)
	}
	return zero, t, nil
}
