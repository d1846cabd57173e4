package queue

import (
	"sync"
	"time"
)

// OverflowThreshold returns the overflow watermark for a consumer pool of the given size
func OverflowThreshold(workers int) int {
	if workers < 1 {
		workers = 1
	}
	return workers*10 + 1
}

// Overflow is a small FIFO holding area for tasks a consumer could not put
// back into a nearly full DeadlineQueue. It never blocks.
type Overflow[T any] struct {
	mu        sync.Mutex
	items     []T
	threshold int
}

// NewOverflow creates a buffer that accepts pushes while it holds fewer than threshold items
func NewOverflow[T any](threshold int) *Overflow[T] {
	if threshold < 1 {
		threshold = 1
	}
	return &Overflow[T]{
		items:     make([]T, 0, threshold),
		threshold: threshold,
	}
}

// TryPush appends item unless the buffer has reached its threshold
func (o *Overflow[T]) TryPush(item T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) >= o.threshold {
		return false
	}
	o.items = append(o.items, item)
	return true
}

// Restore puts item back at the front regardless of the threshold.
// It is used when an item popped for draining could not be requeued.
func (o *Overflow[T]) Restore(item T) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = append(o.items, item)
	copy(o.items[1:], o.items)
	o.items[0] = item
}

// Pop removes the oldest item
func (o *Overflow[T]) Pop() (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	if len(o.items) == 0 {
		return zero, false
	}
	item := o.items[0]
	o.items[0] = zero
	o.items = o.items[1:]
	return item, true
}

// TakeFirst removes and returns the oldest item accepted by match
func (o *Overflow[T]) TakeFirst(match func(T) bool) (T, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	for i, item := range o.items {
		if !match(item) {
			continue
		}
		copy(o.items[i:], o.items[i+1:])
		o.items[len(o.items)-1] = zero
		o.items = o.items[:len(o.items)-1]
		return item, true
	}
	return zero, false
}

// Earliest returns the smallest key among the buffered items
func (o *Overflow[T]) Earliest(key func(T) time.Time) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var earliest time.Time
	for i, item := range o.items {
		if k := key(item); i == 0 || k.Before(earliest) {
			earliest = k
		}
	}
	return earliest, len(o.items) > 0
}

// Len returns the number of buffered items
func (o *Overflow[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Threshold returns the push watermark
func (o *Overflow[T]) Threshold() int {
	return o.threshold
}

// Drain removes and returns every buffered item
func (o *Overflow[T]) Drain() []T {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := o.items
	o.items = make([]T, 0, o.threshold)
	return out
}
