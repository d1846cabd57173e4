// Package safe runs user supplied functions with panic recovery
package safe

import (
	"runtime"

	"github.com/jzx17/retryq/pkg/types"
)

const stackSize = 4096

// Call invokes fn and converts a panic into a *types.PanicError
func Call[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = recovered(r)
		}
	}()
	return fn()
}

// Run invokes fn and returns a *types.PanicError if it panics
func Run(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	fn()
	return nil
}

// Bool invokes a predicate, returning the panic as an error instead of a verdict
func Bool(fn func() bool) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = recovered(r)
		}
	}()
	return fn(), nil
}

func recovered(r interface{}) *types.PanicError {
	buf := make([]byte, stackSize)
	n := runtime.Stack(buf, false)
	return &types.PanicError{Value: r, Stack: buf[:n]}
}
