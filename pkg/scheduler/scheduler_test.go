package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/retryq/internal/testutils"
	"github.com/jzx17/retryq/pkg/task"
	"github.com/jzx17/retryq/pkg/types"
)

var errWork = errors.New("work failed")

// fakeTask is a Schedulable that records what the scheduler did with it
type fakeTask struct {
	name      string
	next      time.Time
	abandoned atomic.Bool
	discarded atomic.Bool
	executed  atomic.Int32
}

func (f *fakeTask) Name() string { return f.name }
func (f *fakeTask) NextRun() time.Time { return f.next }
func (f *fakeTask) Execute(context.Context) bool { f.executed.Add(1); return false }
func (f *fakeTask) IsExhausted() bool { return false }
func (f *fakeTask) OnAbandoned() { f.abandoned.Store(true) }
func (f *fakeTask) Discard() { f.discarded.Store(true) }

func testConfig(workers, capacity int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.QueueCapacity = capacity
	cfg.CallbackWorkers = 2
	cfg.CallbackQueueSize = 64
	cfg.DrainPollInterval = time.Millisecond
	return cfg
}

func newStarted(t *testing.T, cfg Config) *Scheduler {
	t.Helper()

	s, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTask builds a task whose first attempt has already run, as the facade does
func newTask(t *testing.T, s *Scheduler, cfg task.Config[int]) *task.Task[int] {
	t.Helper()

	tk, err := task.New(cfg, task.Options{
		Dispatcher: s.Dispatcher(),
		Clock:      s.Clock(),
		Logger:     s.Logger(),
	})
	require.NoError(t, err)
	return tk
}

func TestNew(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, types.StateCreated, s.State())

	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestHeadroom(t *testing.T) {
	assert.Equal(t, 89, Headroom(100, 11))
	assert.Equal(t, 1, Headroom(11, 11))
	assert.Equal(t, 1, Headroom(1, 41))
}

func TestScheduler_Lifecycle(t *testing.T) {
	s, err := New(testConfig(2, 16))
	require.NoError(t, err)

	ctx := context.Background()
	err = s.Submit(ctx, &fakeTask{name: "early"})
	assert.ErrorIs(t, err, types.ErrSchedulerNotRunning)

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, types.StateRunning, s.State())
	assert.Error(t, s.Start(ctx))

	require.NoError(t, s.Shutdown(testutils.Context(t, testutils.DefaultWait)))
	assert.Equal(t, types.StateStopped, s.State())

	err = s.Submit(ctx, &fakeTask{name: "late"})
	assert.ErrorIs(t, err, types.ErrSchedulerClosed)
	assert.ErrorIs(t, s.Start(ctx), types.ErrSchedulerClosed)

	// Repeated shutdown and close are no-ops
	assert.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, s.Close())
}

func TestScheduler_ShutdownBeforeStart(t *testing.T) {
	s, err := New(testConfig(1, 4))
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(testutils.Context(t, testutils.DefaultWait)))
	assert.Equal(t, types.StateStopped, s.State())
}

func TestScheduler_RetriesUntilExhausted(t *testing.T) {
	s := newStarted(t, testConfig(2, 16))
	rec := testutils.NewRecorder()

	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 3,
		Delays:      []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
		Func: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errWork
		},
		Again:       func(_ int, err error) bool { return err != nil },
		OnAttempt:   func(_ *task.Task[int], err error) { rec.HitErr("attempt", err) },
		OnFinished:  func(_ *task.Task[int], err error) { rec.HitErr("finished", err) },
		OnExhausted: func(*task.Task[int]) { rec.Hit("exhausted") },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	status, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.StatusExhausted, status)

	rec.AssertCountEventually(t, "attempt", 3)
	rec.AssertCountEventually(t, "exhausted", 1)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, tk.Attempts())
	assert.Equal(t, 0, rec.Count("finished"))
	for _, e := range rec.Errors("attempt") {
		assert.ErrorIs(t, e, errWork)
	}

	assert.Eventually(t, func() bool {
		return s.Stats().Pending == 0
	}, testutils.DefaultWait, testutils.Tick)
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(2), stats.Executed)
}

func TestScheduler_FinishesOnSuccess(t *testing.T) {
	s := newStarted(t, testConfig(2, 16))
	rec := testutils.NewRecorder()

	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 5,
		Delays:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond, time.Millisecond},
		Func: func(context.Context) (int, error) {
			if calls.Add(1) < 3 {
				return 0, errWork
			}
			return 42, nil
		},
		Again:       func(_ int, err error) bool { return err != nil },
		OnFinished:  func(_ *task.Task[int], err error) { rec.HitErr("finished", err) },
		OnExhausted: func(*task.Task[int]) { rec.Hit("exhausted") },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	status, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFinished, status)
	assert.Equal(t, 42, tk.Result())
	assert.NoError(t, tk.Err())
	assert.Equal(t, 3, tk.Attempts())

	rec.AssertCountEventually(t, "finished", 1)
	assert.Nil(t, rec.Errors("finished")[0])
	assert.Equal(t, 0, rec.Count("exhausted"))
}

func TestScheduler_RunsInDeadlineOrder(t *testing.T) {
	s := newStarted(t, testConfig(1, 16))

	var mu sync.Mutex
	var order []string
	record := func(name string) task.WorkFunc[int] {
		var first atomic.Bool
		return func(context.Context) (int, error) {
			if first.CompareAndSwap(false, true) {
				return 0, errWork
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return 0, nil
		}
	}

	ctx := testutils.Context(t, testutils.DefaultWait)
	var tasks []*task.Task[int]
	for _, c := range []struct {
		label string
		delay time.Duration
	}{{"slow", 60 * time.Millisecond}, {"fast", 10 * time.Millisecond}, {"mid", 30 * time.Millisecond}} {
		tk := newTask(t, s, task.Config[int]{
			Label:       c.label,
			MaxAttempts: 2,
			Delays:      []time.Duration{c.delay, 0},
			Func:        record(c.label),
			Again:       func(_ int, err error) bool { return err != nil },
		})
		require.True(t, tk.Execute(ctx))
		require.NoError(t, s.Submit(ctx, tk))
		tasks = append(tasks, tk)
	}

	for _, tk := range tasks {
		_, err := tk.Wait(ctx)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fast", "mid", "slow"}, order)
}

func TestScheduler_RequeuePressure(t *testing.T) {
	// Not started: requeue is driven directly to observe each escape valve
	s, err := New(testConfig(1, 20))
	require.NoError(t, err)
	logger := s.logger

	threshold := s.overflow.Threshold()
	require.Equal(t, 11, threshold)
	require.Equal(t, 9, s.headroom)

	for i := 0; i < s.headroom; i++ {
		s.pending.Add(1)
		s.requeue(&fakeTask{name: "fill"}, &logger)
	}
	assert.Equal(t, s.headroom, s.queue.Len())
	assert.Equal(t, 0, s.overflow.Len())

	for i := 0; i < threshold; i++ {
		s.pending.Add(1)
		s.requeue(&fakeTask{name: "overflow"}, &logger)
	}
	assert.Equal(t, threshold, s.overflow.Len())

	s.pending.Add(1)
	victim := &fakeTask{name: "victim"}
	s.requeue(victim, &logger)
	assert.True(t, victim.abandoned.Load())

	stats := s.Stats()
	assert.Equal(t, int64(9), stats.Requeued)
	assert.Equal(t, int64(11), stats.Overflowed)
	assert.Equal(t, int64(1), stats.Abandoned)
	assert.Equal(t, int64(20), stats.Pending)

	// The queue never grows past its headroom from the consumer side
	assert.LessOrEqual(t, s.queue.Len(), s.queue.Cap())

	// Everything left is discarded when the scheduler stops
	require.NoError(t, s.Close())
	assert.Equal(t, int64(20), s.Stats().Dropped)
	assert.Equal(t, int64(0), s.Stats().Pending)
}

func TestScheduler_DrainOverflow(t *testing.T) {
	s, err := New(testConfig(1, 20))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.True(t, s.overflow.TryPush(&fakeTask{name: "buffered"}))
	}

	s.drainOverflow()
	assert.Equal(t, 0, s.overflow.Len())
	assert.Equal(t, 5, s.queue.Len())

	// A full queue leaves the buffer untouched
	for s.queue.TryInsert(&fakeTask{name: "fill"}, s.headroom) {
	}
	require.True(t, s.overflow.TryPush(&fakeTask{name: "waiting"}))
	s.drainOverflow()
	assert.Equal(t, 1, s.overflow.Len())
}

func TestScheduler_TinyQueueUnderLoad(t *testing.T) {
	s := newStarted(t, testConfig(4, 1))

	const n = 30
	ctx := testutils.Context(t, testutils.DefaultWait)
	tasks := make([]*task.Task[int], n)
	for i := range tasks {
		tasks[i] = newTask(t, s, task.Config[int]{
			MaxAttempts: 3,
			Delays:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
			Func: func(context.Context) (int, error) {
				time.Sleep(time.Millisecond)
				return 0, errWork
			},
			Again: func(_ int, err error) bool { return err != nil },
		})
		require.True(t, tasks[i].Execute(ctx))
	}

	var wg sync.WaitGroup
	for _, tk := range tasks {
		wg.Add(1)
		go func(tk *task.Task[int]) {
			defer wg.Done()
			assert.NoError(t, s.Submit(ctx, tk))
		}(tk)
	}
	wg.Wait()

	for _, tk := range tasks {
		status, err := tk.Wait(ctx)
		require.NoError(t, err)
		assert.Contains(t, []task.Status{task.StatusExhausted, task.StatusAbandoned}, status)
		assert.LessOrEqual(t, tk.Attempts(), 3)
	}

	assert.Eventually(t, func() bool {
		return s.Stats().Pending == 0
	}, testutils.DefaultWait, testutils.Tick)
	stats := s.Stats()
	assert.Equal(t, int64(n), stats.Exhausted+stats.Abandoned)
	assert.LessOrEqual(t, stats.QueueLen, 1)
}

func TestScheduler_ShutdownDrainsPendingTasks(t *testing.T) {
	s := newStarted(t, testConfig(2, 16))

	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 2,
		Delays:      []time.Duration{30 * time.Millisecond, 0},
		Func: func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errWork
			}
			return 7, nil
		},
		Again: func(_ int, err error) bool { return err != nil },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, task.StatusFinished, tk.Status())
	assert.Equal(t, 7, tk.Result())
	assert.Equal(t, int64(0), s.Stats().Dropped)
}

func TestScheduler_ShutdownTimeoutDropsTasks(t *testing.T) {
	s := newStarted(t, testConfig(1, 16))

	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 2,
		Delays:      []time.Duration{time.Hour, 0},
		Func:        func(context.Context) (int, error) { return 0, errWork },
		Again:       func(_ int, err error) bool { return err != nil },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Shutdown(shutdownCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, task.StatusDropped, tk.Status())
	assert.Equal(t, 1, tk.Attempts())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestScheduler_CallbackPanicDoesNotStopScheduler(t *testing.T) {
	s := newStarted(t, testConfig(1, 16))
	rec := testutils.NewRecorder()

	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		Func: func(context.Context) (int, error) {
			if calls.Add(1) < 3 {
				return 0, errWork
			}
			return 1, nil
		},
		Again: func(_ int, err error) bool { return err != nil },
		OnAttempt: func(*task.Task[int], error) {
			rec.Hit("attempt")
			panic("callback exploded")
		},
		OnFinished: func(*task.Task[int], error) { rec.Hit("finished") },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	status, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFinished, status)

	rec.AssertCountEventually(t, "attempt", 3)
	rec.AssertCountEventually(t, "finished", 1)
	assert.Eventually(t, func() bool {
		return s.Stats().Callbacks.Failed == 3
	}, testutils.DefaultWait, testutils.Tick)
	assert.Equal(t, types.StateRunning, s.State())
}

func TestScheduler_SubmitBlocksWhileFull(t *testing.T) {
	s := newStarted(t, testConfig(1, 1))

	// Occupy the single slot with a task far in the future
	far := &fakeTask{name: "far", next: time.Now().Add(time.Hour)}
	ctx := testutils.Context(t, testutils.DefaultWait)
	require.NoError(t, s.Submit(ctx, far))

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Submit(blockedCtx, &fakeTask{name: "blocked"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), s.Stats().Pending)

	require.NoError(t, s.Close())
	assert.True(t, far.discarded.Load())
}

func TestScheduler_OutlivesStartContext(t *testing.T) {
	s, err := New(testConfig(2, 16))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	startCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(startCtx))
	cancel()

	rec := testutils.NewRecorder()
	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 2,
		Delays:      []time.Duration{0, 0},
		Func: func(context.Context) (int, error) {
			calls.Add(1)
			return 0, errWork
		},
		Again:       func(int, error) bool { return true },
		OnAttempt:   func(*task.Task[int], error) { rec.Hit("attempt") },
		OnExhausted: func(*task.Task[int]) { rec.Hit("exhausted") },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	status, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.StatusExhausted, status)
	assert.Equal(t, int32(2), calls.Load())

	// callbacks still reach the pool after the start context is gone
	rec.AssertCountEventually(t, "attempt", 2)
	rec.AssertCountEventually(t, "exhausted", 1)
	assert.Equal(t, types.StateRunning, s.State())
	assert.Equal(t, 0, s.Stats().QueueLen)

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, types.StateStopped, s.State())
}

func TestScheduler_ExhaustionReportedAfterLastAttempt(t *testing.T) {
	s := newStarted(t, testConfig(1, 16))
	rec := testutils.NewRecorder()

	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 2,
		Delays:      []time.Duration{0, time.Hour},
		Func:        func(context.Context) (int, error) { return 0, errWork },
		Again:       func(_ int, err error) bool { return err != nil },
		OnExhausted: func(*task.Task[int]) { rec.Hit("exhausted") },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	// the trailing one hour delay is never waited out
	status, err := tk.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.StatusExhausted, status)
	assert.Equal(t, 2, tk.Attempts())
	rec.AssertCountEventually(t, "exhausted", 1)

	assert.Eventually(t, func() bool {
		return s.Stats().Pending == 0
	}, testutils.DefaultWait, testutils.Tick)
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(0), stats.Requeued)
	assert.Equal(t, 0, stats.QueueLen)
}

func TestScheduler_DueOverflowRunsBehindFarHead(t *testing.T) {
	s := newStarted(t, testConfig(1, 1))
	require.Equal(t, 1, s.headroom)

	ctx := testutils.Context(t, testutils.DefaultWait)
	far := &fakeTask{name: "far", next: time.Now().Add(time.Hour)}
	require.NoError(t, s.Submit(ctx, far))

	// let the consumer park on the far deadline
	time.Sleep(20 * time.Millisecond)

	ready := &fakeTask{name: "ready", next: time.Now()}
	s.pending.Add(1)
	logger := s.logger
	s.requeue(ready, &logger)
	require.Equal(t, int64(1), s.Stats().Overflowed)

	assert.Eventually(t, func() bool {
		return ready.executed.Load() == 1
	}, testutils.DefaultWait, testutils.Tick)
	assert.Equal(t, int32(0), far.executed.Load())
	assert.Equal(t, 0, s.Stats().OverflowLen)
	assert.Equal(t, 1, s.Stats().QueueLen)
}

func TestScheduler_OverflowDeadlineWakesConsumer(t *testing.T) {
	s := newStarted(t, testConfig(1, 1))

	ctx := testutils.Context(t, testutils.DefaultWait)
	far := &fakeTask{name: "far", next: time.Now().Add(time.Hour)}
	require.NoError(t, s.Submit(ctx, far))
	time.Sleep(20 * time.Millisecond)

	soon := &fakeTask{name: "soon", next: time.Now().Add(40 * time.Millisecond)}
	s.pending.Add(1)
	logger := s.logger
	s.requeue(soon, &logger)

	assert.Eventually(t, func() bool {
		return soon.executed.Load() == 1
	}, testutils.DefaultWait, testutils.Tick)
	assert.False(t, time.Now().Before(soon.next))
}

func TestScheduler_ShutdownWithPausedClock(t *testing.T) {
	_, clock := testutils.NewMockedClock(t)
	cfg := testConfig(1, 16)
	cfg.Clock = clock
	s := newStarted(t, cfg)

	release := make(chan struct{})
	var calls atomic.Int32
	tk := newTask(t, s, task.Config[int]{
		MaxAttempts: 2,
		Delays:      []time.Duration{0, 0},
		Func: func(context.Context) (int, error) {
			if calls.Add(1) == 1 {
				return 0, errWork
			}
			<-release
			return 1, nil
		},
		Again: func(_ int, err error) bool { return err != nil },
	})

	ctx := testutils.Context(t, testutils.DefaultWait)
	require.True(t, tk.Execute(ctx))
	require.NoError(t, s.Submit(ctx, tk))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	// the mock clock is never advanced; shutdown must still see the task finish
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, task.StatusFinished, tk.Status())
	assert.Equal(t, int64(0), s.Stats().Dropped)
}

func TestScheduler_StatsNextDue(t *testing.T) {
	s, err := New(testConfig(1, 16))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Stats().NextDue.IsZero())

	due := time.Now().Add(time.Minute)
	require.True(t, s.queue.TryInsert(&fakeTask{name: "later", next: due.Add(time.Minute)}, s.headroom))
	require.True(t, s.queue.TryInsert(&fakeTask{name: "sooner", next: due}, s.headroom))
	assert.True(t, due.Equal(s.Stats().NextDue))
}
