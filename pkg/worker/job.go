package worker

import (
	"context"
	"fmt"
)

// BasicJob is the basic implementation of the types.Job interface
type BasicJob struct {
	id string
	fn func(ctx context.Context) error
}

// NewBasicJobWithID creates a job with a custom ID
func NewBasicJobWithID(id string, fn func(ctx context.Context) error) *BasicJob {
	return &BasicJob{
		id: id,
		fn: fn,
	}
}

// NewCallbackJob wraps a task callback; owner is the name of the task it belongs to
func NewCallbackJob(owner string, fn func()) *BasicJob {
	return NewBasicJobWithID(owner, func(context.Context) error {
		fn()
		return nil
	})
}

// Execute executes the job
func (j *BasicJob) Execute(ctx context.Context) error {
	if j.fn == nil {
		return fmt.Errorf("job %s has no execution function", j.id)
	}
	return j.fn(ctx)
}

// ID returns the job ID
func (j *BasicJob) ID() string {
	return j.id
}
