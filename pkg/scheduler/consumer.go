package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/jzx17/retryq/pkg/queue"
	"github.com/jzx17/retryq/pkg/types"
)

// consume is the body of one consumer goroutine. It only ends when ctx is
// cancelled or the queue is closed.
//
// Tasks stuck in the overflow buffer are run directly once due, so a far
// future head in a full queue cannot hold them back. The queue wait is cut
// short at the earliest overflow deadline and whenever requeue overflows.
func (s *Scheduler) consume(ctx context.Context, id int) error {
	logger := s.logger.With().Int("consumer", id).Logger()
	logger.Debug().Msg("consumer started")
	defer logger.Debug().Msg("consumer stopped")

	for {
		s.drainOverflow()

		if task, ok := s.overflow.TakeFirst(s.isDue); ok {
			s.process(ctx, task, &logger)
			continue
		}

		limit, _ := s.overflow.Earliest(types.Schedulable.NextRun)
		task, err := s.queue.RemoveBefore(ctx, limit)
		if err != nil {
			if errors.Is(err, queue.ErrInterrupted) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, types.ErrQueueClosed) {
				return nil
			}
			return err
		}

		s.process(ctx, task, &logger)
	}
}

func (s *Scheduler) isDue(task types.Schedulable) bool {
	return !s.clock.Now().Before(task.NextRun())
}

// process runs one due task and decides what happens to it next
func (s *Scheduler) process(ctx context.Context, task types.Schedulable, logger *zerolog.Logger) {
	if task.IsExhausted() {
		s.counters.exhausted.Add(1)
		s.release()
		logger.Debug().Str("task", task.Name()).Msg("task exhausted")
		return
	}

	again := task.Execute(ctx)
	s.counters.executed.Add(1)
	if !again {
		s.counters.finished.Add(1)
		s.release()
		logger.Debug().Str("task", task.Name()).Msg("task finished")
		return
	}

	// Last attempt used: report exhaustion now instead of after one more delay
	if task.IsExhausted() {
		s.counters.exhausted.Add(1)
		s.release()
		logger.Debug().Str("task", task.Name()).Msg("task exhausted")
		return
	}

	s.requeue(task, logger)
}

// requeue puts a task back without ever blocking the consumer. Slots above
// the headroom are left to producers; past that the task waits in the
// overflow buffer, and once that is full it is abandoned.
func (s *Scheduler) requeue(task types.Schedulable, logger *zerolog.Logger) {
	if s.queue.TryInsert(task, s.headroom) {
		s.counters.requeued.Add(1)
		logger.Debug().
			Str("task", task.Name()).
			Time("next_run", task.NextRun()).
			Msg("task requeued")
		return
	}

	if s.overflow.TryPush(task) {
		s.counters.overflowed.Add(1)
		s.queue.Wake()
		s.overflowLog.Do(func() {
			logger.Warn().
				Str("task", task.Name()).
				Int("queue_len", s.queue.Len()).
				Int("overflow_len", s.overflow.Len()).
				Msg("queue near capacity, task moved to overflow")
		})
		return
	}

	task.OnAbandoned()
	s.counters.abandoned.Add(1)
	s.release()
	s.abandonLog.Do(func() {
		logger.Warn().
			Str("task", task.Name()).
			Int("queue_len", s.queue.Len()).
			Int("overflow_len", s.overflow.Len()).
			Msg("queue and overflow full, task abandoned")
	})
}

// drainOverflow moves buffered tasks back into the queue while it has headroom.
// At most one threshold worth of tasks is moved per call.
func (s *Scheduler) drainOverflow() {
	for i := 0; i < s.overflow.Threshold(); i++ {
		if s.queue.Len() >= s.headroom {
			return
		}
		task, ok := s.overflow.Pop()
		if !ok {
			return
		}
		if !s.queue.TryInsert(task, s.headroom) {
			s.overflow.Restore(task)
			return
		}
	}
}
