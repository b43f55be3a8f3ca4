package fetchq

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is delivered to every waiter of a task whose token was
	// already cancelled when the task was taken off the queue.
	ErrCanceled = errors.New("fetchq: request canceled before dispatch")
	// ErrClosed is delivered to requests made after Close and to tasks
	// still queued when Close was called.
	ErrClosed = errors.New("fetchq: scheduler closed")
)

// PanicError reports a downloader call that panicked. The scheduler treats
// it like any other downloader failure.
type PanicError struct {
	Key   string
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fetchq: downloader panicked for %q: %v", e.Key, e.Value)
}
