package retry

import (
	"context"
	"errors"

	"github.com/jzx17/retryq/pkg/task"
	"github.com/jzx17/retryq/pkg/types"
)

// RetryOnError asks for another attempt whenever the work function failed
func RetryOnError[T any]() task.Predicate[T] {
	return func(_ T, err error) bool {
		return err != nil
	}
}

// RetryOnErrorIs asks for another attempt when the error matches one of targets
func RetryOnErrorIs[T any](targets ...error) task.Predicate[T] {
	return func(_ T, err error) bool {
		if err == nil {
			return false
		}
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// RetryIfRetryable asks for another attempt when DefaultRetryCondition accepts the error
func RetryIfRetryable[T any]() task.Predicate[T] {
	return func(_ T, err error) bool {
		return DefaultRetryCondition(err)
	}
}

// RetryOnResult asks for another attempt when the attempt succeeded but fn rejects the result.
// Failed attempts are retried as well.
func RetryOnResult[T any](fn func(T) bool) task.Predicate[T] {
	return func(result T, err error) bool {
		if err != nil {
			return true
		}
		return fn(result)
	}
}

// Either asks for another attempt when any of preds does
func Either[T any](preds ...task.Predicate[T]) task.Predicate[T] {
	return func(result T, err error) bool {
		for _, p := range preds {
			if p(result, err) {
				return true
			}
		}
		return false
	}
}

// DefaultRetryCondition retries errors explicitly marked with types.RetryableError
// and transient scheduling errors. Cancellation, configuration errors and panics
// are never retried.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}

	var panicErr *types.PanicError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, types.ErrInvalidConfig):
		return false
	case errors.As(err, &panicErr):
		return false
	}

	var retryable *types.RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable
	}

	return errors.Is(err, types.ErrTimeout) || errors.Is(err, types.ErrWorkerPoolFull)
}
