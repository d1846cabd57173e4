// Package types defines core interfaces and types shared by the retry engine
package types

import (
	"context"
	"time"
)

// Schedulable is a unit of work the scheduler keeps in its deadline queue
type Schedulable interface {
	// Name returns the task label used in logs
	Name() string

	// NextRun returns the instant the next attempt is due
	NextRun() time.Time

	// Execute runs one attempt and reports whether another attempt is needed
	Execute(ctx context.Context) bool

	// IsExhausted reports whether the attempt budget is used up
	IsExhausted() bool

	// OnAbandoned is called when the task is dropped under queue pressure
	OnAbandoned()

	// Discard releases a task left behind by a stopped scheduler
	Discard()
}

// Dispatcher runs callbacks away from the scheduling goroutines
type Dispatcher interface {
	// Dispatch schedules fn for asynchronous execution; name identifies the owner in logs
	Dispatch(name string, fn func())
}

// Job defines a unit of work executed by a worker pool
type Job interface {
	// Execute executes the job
	Execute(ctx context.Context) error

	// ID returns the job ID (for tracking)
	ID() string
}

// SchedulerState defines the lifecycle state of a scheduler
type SchedulerState int32

const (
	// StateCreated scheduler has been created but not started
	StateCreated SchedulerState = iota
	// StateRunning scheduler is accepting and executing tasks
	StateRunning
	// StateDraining scheduler rejects new tasks and finishes pending ones
	StateDraining
	// StateStopped scheduler has been stopped
	StateStopped
)

// String returns the string representation of SchedulerState
func (s SchedulerState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// WorkerPoolStats defines basic statistics for worker pools
type WorkerPoolStats struct {
	// PoolSize is the size of the pool
	PoolSize int

	// ActiveWorkers is the number of active worker goroutines
	ActiveWorkers int

	// QueueSize is the current number of jobs in the queue
	QueueSize int

	// QueueCapacity is the capacity of the queue
	QueueCapacity int
}
