// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// DefaultWait bounds how long asynchronous assertions wait
const DefaultWait = 5 * time.Second

// Tick is the polling interval for asynchronous assertions
const Tick = 5 * time.Millisecond

// Context returns a context cancelled when the test ends or after timeout
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// SyncDispatcher runs callbacks inline and records the owner names.
// Tests use it where asynchronous delivery would only add noise.
type SyncDispatcher struct {
	mu    sync.Mutex
	names []string
}

// Dispatch runs fn on the calling goroutine
func (d *SyncDispatcher) Dispatch(name string, fn func()) {
	d.mu.Lock()
	d.names = append(d.names, name)
	d.mu.Unlock()
	fn()
}

// Count returns the number of dispatched callbacks
func (d *SyncDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.names)
}

// Recorder counts callback invocations by event name
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int
	errs   map[string][]error
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		counts: make(map[string]int),
		errs:   make(map[string][]error),
	}
}

// Hit records one invocation of event
func (r *Recorder) Hit(event string) {
	r.HitErr(event, nil)
}

// HitErr records one invocation of event together with the error it carried
func (r *Recorder) HitErr(event string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[event]++
	r.errs[event] = append(r.errs[event], err)
}

// Count returns how many times event was recorded
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[event]
}

// Errors returns the errors recorded for event in arrival order
func (r *Recorder) Errors(event string) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs[event]))
	copy(out, r.errs[event])
	return out
}

// AssertCountEventually waits until event has been recorded want times
func (r *Recorder) AssertCountEventually(t testing.TB, event string, want int) bool {
	return assert.Eventually(t, func() bool {
		return r.Count(event) == want
	}, DefaultWait, Tick, "event %q: want %d invocations", event, want)
}
