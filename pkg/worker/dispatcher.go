package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jzx17/retryq/internal/logging"
	"github.com/jzx17/retryq/internal/safe"
	"github.com/jzx17/retryq/pkg/types"
)

// saturationLogInterval limits how often a saturated pool is reported
const saturationLogInterval = 10 * time.Second

// DispatcherStats describes callback delivery
type DispatcherStats struct {
	types.WorkerPoolStats

	// Dispatched counts callbacks accepted by Dispatch
	Dispatched int64

	// Fallback counts callbacks run on a detached goroutine because the pool was saturated or closed
	Fallback int64

	// Failed counts callbacks that panicked
	Failed int64
}

// CallbackDispatcher delivers task callbacks on a FixedWorkerPool kept apart
// from the scheduling goroutines. Dispatch never blocks: when the pool queue is
// full, or the pool has already been shut down, the callback runs on its own
// goroutine instead of being dropped.
type CallbackDispatcher struct {
	pool   *FixedWorkerPool
	logger zerolog.Logger

	dispatched     int64
	fallback       int64
	fallbackFailed int64
	inFlight       int64

	saturated rate.Sometimes
}

// NewCallbackDispatcher creates a dispatcher over a new fixed pool
func NewCallbackDispatcher(config *FixedWorkerPoolConfig) (*CallbackDispatcher, error) {
	if config == nil {
		config = DefaultFixedWorkerPoolConfig()
	}

	pool, err := NewFixedWorkerPool(config)
	if err != nil {
		return nil, err
	}

	return &CallbackDispatcher{
		pool:      pool,
		logger:    logging.OrNop(config.Logger).With().Str("component", "callbacks").Logger(),
		saturated: rate.Sometimes{First: 1, Interval: saturationLogInterval},
	}, nil
}

// Start starts the callback workers
func (d *CallbackDispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Dispatch schedules fn for asynchronous execution
func (d *CallbackDispatcher) Dispatch(name string, fn func()) {
	if fn == nil {
		return
	}
	atomic.AddInt64(&d.dispatched, 1)

	err := d.pool.TrySubmit(NewCallbackJob(name, fn))
	if err == nil {
		return
	}

	if errors.Is(err, types.ErrWorkerPoolFull) {
		d.saturated.Do(func() {
			d.logger.Warn().
				Int("queue_capacity", d.pool.Stats().QueueCapacity).
				Msg("callback pool saturated, running callbacks on detached goroutines")
		})
	}
	d.detach(name, fn)
}

// detach runs fn on a new goroutine with panic recovery
func (d *CallbackDispatcher) detach(name string, fn func()) {
	atomic.AddInt64(&d.fallback, 1)
	atomic.AddInt64(&d.inFlight, 1)

	go func() {
		defer atomic.AddInt64(&d.inFlight, -1)

		if err := safe.Run(fn); err != nil {
			atomic.AddInt64(&d.fallbackFailed, 1)
			event := d.logger.Error().Str("job", name).Err(err)
			var panicErr *types.PanicError
			if errors.As(err, &panicErr) {
				event = event.Str("stack", string(panicErr.Stack))
			}
			event.Msg("callback failed")
		}
	}()
}

// Shutdown runs queued callbacks to completion and waits for detached ones,
// giving up when ctx ends
func (d *CallbackDispatcher) Shutdown(ctx context.Context) error {
	if err := d.pool.Shutdown(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for atomic.LoadInt64(&d.inFlight) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns pool statistics and delivery counters
func (d *CallbackDispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		WorkerPoolStats: d.pool.Stats(),
		Dispatched:      atomic.LoadInt64(&d.dispatched),
		Fallback:        atomic.LoadInt64(&d.fallback),
		Failed:          d.pool.TotalFailed() + atomic.LoadInt64(&d.fallbackFailed),
	}
}
