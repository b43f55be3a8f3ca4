package fetchq

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a task.
type Status int

const (
	// StatusQueued tasks wait in the priority queue.
	StatusQueued Status = iota
	// StatusActive tasks hold a concurrency slot and have a downloader call in flight.
	StatusActive
	// StatusSettled is terminal. Settled tasks are no longer in the registry.
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusActive:
		return "active"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Result is the settlement value shared by every waiter of a task.
type Result[V any] struct {
	Value V
	Err   error
}

// task is one unit of pending or in-flight work for a single key.
type task[V any] struct {
	key      string
	priority int
	seq      uint64
	token    context.Context
	waiters  []*Future[V]
	status   Status
	index    int // heap position, -1 when not queued
	enqueued time.Time
	started  time.Time
}

// Future is a caller's handle on the eventual settlement of a task.
type Future[V any] struct {
	key  string
	done chan struct{}
	once sync.Once
	res  Result[V]
}

func newFuture[V any](key string) *Future[V] {
	return &Future[V]{key: key, done: make(chan struct{})}
}

func (f *Future[V]) settle(r Result[V]) {
	f.once.Do(func() {
		f.res = r
		close(f.done)
	})
}

// Key returns the resource key the future was requested for.
func (f *Future[V]) Key() string {
	return f.key
}

// Done is closed once the future is settled. A future whose task was
// cancelled while in flight is never settled.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Result returns the settlement without blocking. ok is false until the
// future is settled.
func (f *Future[V]) Result() (res Result[V], ok bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[V]{}, false
	}
}

// Wait blocks until the future settles or ctx is done, whichever happens
// first. A settled result always wins over a cancelled ctx. A nil ctx
// waits for settlement.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	default:
	}
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Outcome classifies a task settlement.
type Outcome int

const (
	// OutcomeResolved: the downloader succeeded and waiters got its value.
	OutcomeResolved Outcome = iota
	// OutcomeFailed: the downloader failed and waiters got its error.
	OutcomeFailed
	// OutcomeCanceled: the token was cancelled before dispatch; waiters got ErrCanceled.
	OutcomeCanceled
	// OutcomeSuppressed: the token was cancelled while in flight; waiters got nothing.
	OutcomeSuppressed
	// OutcomeClosed: the scheduler closed while the task was queued; waiters got ErrClosed.
	OutcomeClosed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Settlement describes one terminal task transition, as reported to the
// settle hook.
type Settlement struct {
	Key      string
	Priority int
	Outcome  Outcome
	// Err is the downloader error for OutcomeFailed and OutcomeSuppressed,
	// ErrCanceled or ErrClosed otherwise, nil on success.
	Err error
	// Waiters is the number of futures attached to the task.
	Waiters int
	// Elapsed is the downloader call duration, zero for undispatched tasks.
	Elapsed time.Duration
}
