package cache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by GetOrCompute after the cache has been closed.
var ErrClosed = errors.New("cache is closed")

// ComputeError wraps a failure that occurred while a computation held the
// single-flight slot for a key. Every concurrent waiter on that flight
// receives the same ComputeError; the slot is released so a later call may
// retry. errors.Is/As reach the underlying cause.
type ComputeError struct {
	Key string
	Err error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("cache compute for key %q failed: %v", e.Key, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
