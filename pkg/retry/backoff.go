package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// defaultMaxDelay caps growing schedules unless WithMaxDelay says otherwise
const defaultMaxDelay = 30 * time.Second

// BackoffStrategy computes the delay that follows a given attempt
type BackoffStrategy interface {
	// NextDelay returns the delay after attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// Schedule expands a strategy into a delay schedule with one entry per attempt,
// ready to pass to WithDelays
func Schedule(strategy BackoffStrategy, attempts int) []time.Duration {
	if attempts < 1 {
		return nil
	}
	delays := make([]time.Duration, attempts)
	for i := range delays {
		d := strategy.NextDelay(i + 1)
		if d < 0 {
			d = 0
		}
		delays[i] = d
	}
	return delays
}

// FixedDelays returns attempts copies of delay
func FixedDelays(attempts int, delay time.Duration, opts ...DelayOption) []time.Duration {
	return Schedule(NewFixedBackoff(delay, opts...), attempts)
}

// LinearDelays returns initial, initial+increment, ... capped at the max delay
func LinearDelays(attempts int, initial, increment time.Duration, opts ...DelayOption) []time.Duration {
	return Schedule(NewLinearBackoff(initial, increment, opts...), attempts)
}

// ExponentialDelays returns initial, initial*m, initial*m^2, ... capped at the max delay
func ExponentialDelays(attempts int, initial time.Duration, opts ...DelayOption) []time.Duration {
	return Schedule(NewExponentialBackoff(initial, opts...), attempts)
}

// FibonacciDelays returns base*1, base*1, base*2, base*3, ... capped at the max delay
func FibonacciDelays(attempts int, base time.Duration, opts ...DelayOption) []time.Duration {
	return Schedule(NewFibonacciBackoff(base, opts...), attempts)
}

// delayOptions holds settings shared by every strategy
type delayOptions struct {
	multiplier float64
	maxDelay   time.Duration
	jitter     JitterFunc
}

func newDelayOptions(opts []DelayOption) delayOptions {
	o := delayOptions{
		multiplier: 2.0,
		maxDelay:   defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// finish caps then jitters a raw delay
func (o *delayOptions) finish(d time.Duration) time.Duration {
	if o.maxDelay > 0 && d > o.maxDelay {
		d = o.maxDelay
	}
	if o.jitter != nil {
		d = o.jitter(d)
	}
	return d
}

// DelayOption configures a backoff strategy
type DelayOption func(*delayOptions)

// WithMultiplier sets the growth factor of exponential schedules
func WithMultiplier(multiplier float64) DelayOption {
	return func(o *delayOptions) {
		if multiplier >= 1 {
			o.multiplier = multiplier
		}
	}
}

// WithMaxDelay caps every delay; zero disables the cap
func WithMaxDelay(maxDelay time.Duration) DelayOption {
	return func(o *delayOptions) {
		if maxDelay >= 0 {
			o.maxDelay = maxDelay
		}
	}
}

// WithJitter randomizes every delay after capping
func WithJitter(jitter JitterFunc) DelayOption {
	return func(o *delayOptions) {
		o.jitter = jitter
	}
}

// FixedBackoff waits the same delay after every attempt
type FixedBackoff struct {
	delay time.Duration
	opts  delayOptions
}

// NewFixedBackoff creates a fixed backoff strategy
func NewFixedBackoff(delay time.Duration, opts ...DelayOption) *FixedBackoff {
	return &FixedBackoff{delay: delay, opts: newDelayOptions(opts)}
}

// NextDelay implements BackoffStrategy
func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.opts.finish(b.delay)
}

// ExponentialBackoff multiplies the delay after every attempt
type ExponentialBackoff struct {
	initial time.Duration
	opts    delayOptions
}

// NewExponentialBackoff creates an exponential backoff strategy
func NewExponentialBackoff(initial time.Duration, opts ...DelayOption) *ExponentialBackoff {
	return &ExponentialBackoff{initial: initial, opts: newDelayOptions(opts)}
}

// NextDelay implements BackoffStrategy
func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(b.initial) * math.Pow(b.opts.multiplier, float64(attempt-1))
	if raw >= float64(math.MaxInt64) {
		return b.opts.finish(time.Duration(math.MaxInt64))
	}
	return b.opts.finish(time.Duration(raw))
}

// LinearBackoff adds a fixed increment after every attempt
type LinearBackoff struct {
	initial   time.Duration
	increment time.Duration
	opts      delayOptions
}

// NewLinearBackoff creates a linear backoff strategy
func NewLinearBackoff(initial, increment time.Duration, opts ...DelayOption) *LinearBackoff {
	return &LinearBackoff{initial: initial, increment: increment, opts: newDelayOptions(opts)}
}

// NextDelay implements BackoffStrategy
func (b *LinearBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.opts.finish(b.initial + time.Duration(attempt-1)*b.increment)
}

// FibonacciBackoff grows the delay along the Fibonacci sequence
type FibonacciBackoff struct {
	base time.Duration
	opts delayOptions
}

// NewFibonacciBackoff creates a fibonacci backoff strategy
func NewFibonacciBackoff(base time.Duration, opts ...DelayOption) *FibonacciBackoff {
	return &FibonacciBackoff{base: base, opts: newDelayOptions(opts)}
}

// NextDelay implements BackoffStrategy
func (b *FibonacciBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	prev, cur := int64(0), int64(1)
	for i := 1; i < attempt; i++ {
		prev, cur = cur, prev+cur
		if cur < 0 {
			// overflow
			return b.opts.finish(time.Duration(math.MaxInt64))
		}
	}
	d := time.Duration(cur) * b.base
	if b.base != 0 && d/b.base != time.Duration(cur) {
		d = time.Duration(math.MaxInt64)
	}
	return b.opts.finish(d)
}

// DecorrelatedJitterBackoff picks each delay at random in [base, 3*previous], capped.
// It keeps state between calls, so a fresh instance is needed per schedule.
type DecorrelatedJitterBackoff struct {
	base     time.Duration
	capDelay time.Duration
	prev     time.Duration
}

// NewDecorrelatedJitterBackoff creates a decorrelated jitter backoff strategy
func NewDecorrelatedJitterBackoff(base, capDelay time.Duration) *DecorrelatedJitterBackoff {
	return &DecorrelatedJitterBackoff{base: base, capDelay: capDelay, prev: base}
}

// NextDelay implements BackoffStrategy
func (b *DecorrelatedJitterBackoff) NextDelay(int) time.Duration {
	upper := b.prev * 3
	if upper > b.capDelay {
		upper = b.capDelay
	}
	if upper <= b.base {
		b.prev = b.base
		return b.base
	}
	b.prev = b.base + rand.N(upper-b.base)
	return b.prev
}

// JitterFunc randomizes a delay
type JitterFunc func(time.Duration) time.Duration

// FullJitter picks uniformly in [0, delay)
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return rand.N(delay)
}

// EqualJitter keeps half the delay and randomizes the other half
func EqualJitter(delay time.Duration) time.Duration {
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half)
}

// ProportionalJitter moves the delay by up to ±factor of itself
func ProportionalJitter(factor float64) JitterFunc {
	return func(delay time.Duration) time.Duration {
		if delay <= 0 || factor <= 0 {
			return delay
		}
		spread := (rand.Float64()*2 - 1) * factor * float64(delay)
		d := delay + time.Duration(spread)
		if d < 0 {
			return 0
		}
		return d
	}
}
