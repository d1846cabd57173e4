// Package retry is the entry point of the retry engine: it configures a
// retrying operation, runs its first attempt synchronously and hands it to a
// scheduler when more attempts are needed.
//
// Contract:
//
//   - Configuration errors are returned before the work function runs.
//   - If the first attempt needs no retry, Execute returns its result and
//     error directly and nothing is scheduled.
//   - Otherwise Execute returns no result. Later attempts, exhaustion and
//     abandonment are reported only through the callbacks and the returned
//     task handle.
//
// Basic usage:
//
//	sched, err := scheduler.New(scheduler.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	if err := sched.Start(ctx); err != nil {
//		return err
//	}
//	defer sched.Shutdown(context.Background())
//
//	body, handle, err := retry.New(sched,
//		retry.WithMaxAttempts[[]byte](4),
//		retry.WithDelays[[]byte](retry.ExponentialDelays(4, 100*time.Millisecond)...),
//		retry.WithFunc(fetch),
//		retry.WithPredicate(retry.RetryIfRetryable[[]byte]()),
//		retry.OnFinished(func(t *task.Task[[]byte], err error) {
//			log.Printf("%s finished after %d attempts: %v", t.Name(), t.Attempts(), err)
//		}),
//	).Execute(ctx)
//
// Delay schedules:
//
// A schedule has exactly one entry per attempt. Entry i is the delay between
// attempt i+1 and the next one. Exhaustion is reported as soon as the last
// attempt returns, so the final entry never delays anything. FixedDelays, LinearDelays,
// ExponentialDelays and FibonacciDelays build schedules from the backoff
// strategies; WithJitter and WithMaxDelay shape every entry.
//
// Predicates:
//
// RetryOnError, RetryOnErrorIs, RetryIfRetryable and RetryOnResult cover the
// common cases and can be combined with Either. RetryIfRetryable honours
// types.RetryableError and never retries cancellation, configuration errors
// or panics.
package retry
