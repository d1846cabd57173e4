// Package types defines error types
package types

import (
	"errors"
	"fmt"
	"time"
)

// Predefined errors
var (
	// ErrInvalidConfig indicates a task or scheduler was configured incorrectly
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrQueueClosed indicates the deadline queue no longer accepts or hands out tasks
	ErrQueueClosed = errors.New("queue is closed")

	// ErrSchedulerNotRunning indicates the scheduler has not been started
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrSchedulerClosed indicates the scheduler is shutting down or stopped
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrTimeout indicates operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrWorkerPoolFull indicates the worker pool is full
	ErrWorkerPoolFull = errors.New("worker pool is full")
)

// ConfigError describes a rejected configuration value
type ConfigError struct {
	// Field is the name of the offending option
	Field string

	// Reason explains why the value was rejected
	Reason string
}

// NewConfigError creates a configuration error for field
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is reports ErrInvalidConfig as the error kind
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// PanicError carries a value recovered from a panicking user function
type PanicError struct {
	// Value is what was passed to panic
	Value interface{}

	// Stack is the goroutine stack at the time of the panic
	Stack []byte
}

// Error implements the error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RetryableError represents a retryable error
type RetryableError struct {
	// Err is the underlying error
	Err error

	// Retryable indicates whether the error is retryable
	Retryable bool

	// RetryAfter is the suggested retry delay
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}
	return false
}

// GetRetryDelay returns the suggested retry delay
func GetRetryDelay(err error) time.Duration {
	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.RetryAfter
	}
	return 0
}
