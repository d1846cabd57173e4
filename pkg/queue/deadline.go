// Package queue provides the deadline ordered queue and the overflow buffer used by the scheduler
package queue

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jzx17/retryq/pkg/types"
)

// DefaultCapacity bounds the queue at roughly 100MB of task headers (about 50 bytes each)
const DefaultCapacity = math.MaxInt32 / 1000

// ErrInterrupted is returned by RemoveBefore when its limit passes or Wake is called first
var ErrInterrupted = errors.New("queue wait interrupted")

// Item is anything that can be ordered by its next execution instant
type Item interface {
	NextRun() time.Time
}

// entry snapshots the deadline at insertion so ordering never calls back into the item
type entry[T Item] struct {
	item T
	due  time.Time
	seq  uint64
}

// deadlineHeap is a min-heap on (due, seq) (internal use)
type deadlineHeap[T Item] []entry[T]

// Len implements heap.Interface
func (h deadlineHeap[T]) Len() int { return len(h) }

// Less implements heap.Interface - earliest deadline first, arrival order for ties
func (h deadlineHeap[T]) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}

// Swap implements heap.Interface
func (h deadlineHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push implements heap.Interface
func (h *deadlineHeap[T]) Push(x interface{}) {
	*h = append(*h, x.(entry[T]))
}

// Pop implements heap.Interface
func (h *deadlineHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = entry[T]{}
	*h = old[0 : n-1]
	return item
}

// DeadlineQueue is a capacity bounded blocking queue that hands out items
// in ascending NextRun order once they are due.
//
// A single mutex guards the heap. Waiters park on the changed channel, which
// is closed and replaced on every state transition, so one close wakes every
// blocked Insert and Remove call.
type DeadlineQueue[T Item] struct {
	mu       sync.Mutex
	items    deadlineHeap[T]
	capacity int
	seq      uint64
	changed  chan struct{}
	closed   bool
	wakes    uint64

	clock types.Clock
}

// NewDeadlineQueue creates a queue holding at most capacity items
func NewDeadlineQueue[T Item](capacity int, clock types.Clock) (*DeadlineQueue[T], error) {
	if capacity <= 0 {
		return nil, types.NewConfigError("queueCapacity", "must be positive, got %d", capacity)
	}

	return &DeadlineQueue[T]{
		items:    make(deadlineHeap[T], 0),
		capacity: capacity,
		changed:  make(chan struct{}),
		clock:    types.OrRealClock(clock),
	}, nil
}

// Insert adds item, blocking while the queue is full.
// It returns ctx.Err() if ctx ends first and types.ErrQueueClosed once the queue is closed.
func (q *DeadlineQueue[T]) Insert(ctx context.Context, item T) error {
	q.mu.Lock()
	for len(q.items) >= q.capacity && !q.closed {
		wake := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}

		q.mu.Lock()
	}
	defer q.mu.Unlock()

	if q.closed {
		return types.ErrQueueClosed
	}
	q.pushLocked(item)
	return nil
}

// TryInsert adds item only if the queue currently holds fewer than limit items.
// It never blocks, which makes it safe to call from the consumer side.
func (q *DeadlineQueue[T]) TryInsert(item T, limit int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit > q.capacity {
		limit = q.capacity
	}
	if q.closed || len(q.items) >= limit {
		return false
	}
	q.pushLocked(item)
	return true
}

// Remove pops the earliest item once it is due, blocking while the queue is
// empty or its head is still in the future. Insertions of an earlier item
// wake the waiter so the new head is considered immediately.
func (q *DeadlineQueue[T]) Remove(ctx context.Context) (T, error) {
	return q.remove(ctx, time.Time{}, false)
}

// RemoveBefore behaves like Remove but gives up with ErrInterrupted once the
// clock reaches limit or Wake is called. A zero limit only honours Wake.
func (q *DeadlineQueue[T]) RemoveBefore(ctx context.Context, limit time.Time) (T, error) {
	return q.remove(ctx, limit, true)
}

// Wake interrupts every pending RemoveBefore call
func (q *DeadlineQueue[T]) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.wakes++
	q.signalLocked()
}

func (q *DeadlineQueue[T]) remove(ctx context.Context, limit time.Time, interruptible bool) (T, error) {
	var zero T

	q.mu.Lock()
	wakes := q.wakes
	for {
		if q.closed {
			q.mu.Unlock()
			return zero, types.ErrQueueClosed
		}

		wait := time.Duration(-1)
		if len(q.items) > 0 {
			wait = q.clock.Until(q.items[0].due)
			if wait <= 0 {
				e := heap.Pop(&q.items).(entry[T])
				q.signalLocked()
				q.mu.Unlock()
				return e.item, nil
			}
		}

		if interruptible {
			if q.wakes != wakes {
				q.mu.Unlock()
				return zero, ErrInterrupted
			}
			if !limit.IsZero() {
				left := q.clock.Until(limit)
				if left <= 0 {
					q.mu.Unlock()
					return zero, ErrInterrupted
				}
				if wait < 0 || left < wait {
					wait = left
				}
			}
		}

		wake := q.changed
		q.mu.Unlock()
		if wait < 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-wake:
			}
		} else if err := q.waitFor(ctx, wake, wait); err != nil {
			return zero, err
		}
		q.mu.Lock()
	}
}

// waitFor blocks until the head deadline passes, the queue changes, or ctx ends
func (q *DeadlineQueue[T]) waitFor(ctx context.Context, wake <-chan struct{}, d time.Duration) error {
	timer := q.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-timer.C():
	}
	return nil
}

// Peek returns the earliest item without removing it
func (q *DeadlineQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0].item, true
}

// Len returns the number of queued items
func (q *DeadlineQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity
func (q *DeadlineQueue[T]) Cap() int {
	return q.capacity
}

// Close wakes every waiter; subsequent calls to Insert, TryInsert and Remove fail
func (q *DeadlineQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

// Drain removes and returns every queued item in deadline order
func (q *DeadlineQueue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, len(q.items))
	for len(q.items) > 0 {
		out = append(out, heap.Pop(&q.items).(entry[T]).item)
	}
	q.signalLocked()
	return out
}

func (q *DeadlineQueue[T]) pushLocked(item T) {
	q.seq++
	heap.Push(&q.items, entry[T]{item: item, due: item.NextRun(), seq: q.seq})
	q.signalLocked()
}

func (q *DeadlineQueue[T]) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
