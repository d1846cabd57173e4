package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/jzx17/retryq/pkg/types"
	"github.com/jzx17/retryq/pkg/worker"
)

// Stats is a point in time view of the scheduler
type Stats struct {
	State   types.SchedulerState
	Workers int

	QueueLen          int
	QueueCapacity     int
	OverflowLen       int
	OverflowThreshold int

	// NextDue is when the head of the queue becomes due, zero if the queue is empty
	NextDue time.Time

	// Pending counts tasks submitted and not yet released
	Pending int64

	Submitted  int64
	Executed   int64
	Requeued   int64
	Overflowed int64
	Abandoned  int64
	Exhausted  int64
	Finished   int64
	Dropped    int64

	Callbacks worker.DispatcherStats
}

// counters are updated by consumers and read by Stats
type counters struct {
	submitted  atomic.Int64
	executed   atomic.Int64
	requeued   atomic.Int64
	overflowed atomic.Int64
	abandoned  atomic.Int64
	exhausted  atomic.Int64
	finished   atomic.Int64
	dropped    atomic.Int64
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	var nextDue time.Time
	if head, ok := s.queue.Peek(); ok {
		nextDue = head.NextRun()
	}

	return Stats{
		State:             s.State(),
		Workers:           s.cfg.Workers,
		QueueLen:          s.queue.Len(),
		QueueCapacity:     s.queue.Cap(),
		OverflowLen:       s.overflow.Len(),
		OverflowThreshold: s.overflow.Threshold(),
		NextDue:           nextDue,
		Pending:           s.pending.Load(),
		Submitted:         s.counters.submitted.Load(),
		Executed:          s.counters.executed.Load(),
		Requeued:          s.counters.requeued.Load(),
		Overflowed:        s.counters.overflowed.Load(),
		Abandoned:         s.counters.abandoned.Load(),
		Exhausted:         s.counters.exhausted.Load(),
		Finished:          s.counters.finished.Load(),
		Dropped:           s.counters.dropped.Load(),
		Callbacks:         s.dispatcher.Stats(),
	}
}
