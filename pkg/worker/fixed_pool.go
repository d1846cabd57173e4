package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/jzx17/retryq/pkg/types"
)

const (
	poolStateCreated int32 = iota
	poolStateRunning
	poolStateClosed
)

// FixedWorkerPoolConfig defines configuration for fixed worker pool
type FixedWorkerPoolConfig struct {
	// PoolSize is the size of the worker pool
	PoolSize int

	// QueueSize is the job queue size
	QueueSize int

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives job failures (optional, defaults to no logging)
	Logger *zerolog.Logger
}

// DefaultFixedWorkerPoolConfig returns default configuration
func DefaultFixedWorkerPoolConfig() *FixedWorkerPoolConfig {
	return &FixedWorkerPoolConfig{
		PoolSize:  runtime.NumCPU(),
		QueueSize: 1024,
		Clock:     types.NewRealClock(),
	}
}

// FixedWorkerPool implements a fixed-size worker pool
type FixedWorkerPool struct {
	config  *FixedWorkerPoolConfig
	workers []*Worker
	jobs    chan types.Job

	// state management
	state  int32
	cancel context.CancelFunc

	// mu serializes sends on jobs against closing it
	mu sync.RWMutex
}

// NewFixedWorkerPool creates a new fixed worker pool
func NewFixedWorkerPool(config *FixedWorkerPoolConfig) (*FixedWorkerPool, error) {
	if config == nil {
		config = DefaultFixedWorkerPoolConfig()
	}

	// parameter validation
	if config.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", config.PoolSize)
	}
	if config.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", config.QueueSize)
	}

	clock := types.OrRealClock(config.Clock)
	jobs := make(chan types.Job, config.QueueSize)
	workers := make([]*Worker, config.PoolSize)
	for i := range workers {
		workers[i] = NewWorkerWithClock(i, jobs, clock, config.Logger)
	}

	return &FixedWorkerPool{
		config:  config,
		workers: workers,
		jobs:    jobs,
	}, nil
}

// Start starts the worker pool
func (p *FixedWorkerPool) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.state, poolStateCreated, poolStateRunning) {
		if p.isRunning() {
			return fmt.Errorf("worker pool is already running")
		}
		return fmt.Errorf("worker pool is closed")
	}

	var workerCtx context.Context
	workerCtx, p.cancel = context.WithCancel(ctx)

	for _, worker := range p.workers {
		go worker.Start(workerCtx)
	}

	return nil
}

// TrySubmit queues a job without blocking.
// It returns types.ErrWorkerPoolFull when the queue is full.
func (p *FixedWorkerPool) TrySubmit(job types.Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isRunning() {
		if p.isClosed() {
			return fmt.Errorf("worker pool is closed")
		}
		return fmt.Errorf("worker pool is not started")
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return types.ErrWorkerPoolFull
	}
}

// Shutdown stops accepting jobs and lets the workers finish everything queued.
// If ctx ends first the workers are cancelled and ctx.Err() is returned.
func (p *FixedWorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	prev := atomic.SwapInt32(&p.state, poolStateClosed)
	if prev == poolStateClosed {
		p.mu.Unlock()
		return nil
	}
	close(p.jobs)
	p.mu.Unlock()

	if prev == poolStateCreated {
		return nil
	}

	done := make(chan struct{})
	go func() {
		for _, worker := range p.workers {
			<-worker.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// Close stops the pool immediately; queued jobs that have not started are discarded
func (p *FixedWorkerPool) Close() error {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Shutdown(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Stats gets basic worker pool statistics
func (p *FixedWorkerPool) Stats() types.WorkerPoolStats {
	var activeWorkers int
	for _, ws := range p.workerStats() {
		if ws.IsActive() {
			activeWorkers++
		}
	}

	return types.WorkerPoolStats{
		PoolSize:      p.config.PoolSize,
		ActiveWorkers: activeWorkers,
		QueueSize:     len(p.jobs),
		QueueCapacity: p.config.QueueSize,
	}
}

// workerStats snapshots every worker
func (p *FixedWorkerPool) workerStats() []WorkerStats {
	stats := make([]WorkerStats, len(p.workers))
	for i, worker := range p.workers {
		stats[i] = worker.Stats()
	}
	return stats
}

// TotalFailed sums the failed job count across workers
func (p *FixedWorkerPool) TotalFailed() int64 {
	var total int64
	for _, ws := range p.workerStats() {
		total += ws.TotalFailed
	}
	return total
}

func (p *FixedWorkerPool) isRunning() bool {
	return atomic.LoadInt32(&p.state) == poolStateRunning
}

func (p *FixedWorkerPool) isClosed() bool {
	return atomic.LoadInt32(&p.state) == poolStateClosed
}
