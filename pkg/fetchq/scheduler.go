package fetchq

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DownloadFunc fetches the resource identified by key. Both its value and
// its error are delivered verbatim to the task's waiters.
type DownloadFunc[V any] func(ctx context.Context, key string) (V, error)

// Scheduler admits requests into a priority queue and runs at most
// MaxConcurrent downloader calls at once. The zero value is not usable;
// create one with New.
type Scheduler[V any] struct {
	download DownloadFunc[V]
	opts     options

	mu       sync.Mutex
	registry map[string]*task[V]
	queue    taskHeap[V]
	active   int
	seq      uint64
	paused   bool
	closed   bool

	// ctx is handed to downloader calls and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler that fetches through download.
func New[V any](download DownloadFunc[V], opts ...Option) *Scheduler[V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler[V]{
		download: download,
		opts:     o,
		registry: make(map[string]*task[V]),
		queue:    make(taskHeap[V], 0),
		ctx:      ctx,
		cancel:   cancel,
	}
}

type dispatchEvent struct {
	key      string
	priority int
}

// events collects hook notifications and dispatched tasks produced under the
// lock so they can be handled after it is released.
type events[V any] struct {
	settled    []Settlement
	dispatched []dispatchEvent
	started    []*task[V]
}

// emit runs the dispatch hooks, then starts the dispatched downloads, then
// runs the settle hooks. A key's dispatch hook therefore always returns
// before its download starts, and so before its settle hook runs.
func (s *Scheduler[V]) emit(ev *events[V]) {
	if s.opts.onDispatch != nil {
		for _, d := range ev.dispatched {
			s.opts.onDispatch(d.key, d.priority)
		}
	}
	for _, t := range ev.started {
		s.run(t)
	}
	if s.opts.onSettle != nil {
		for _, st := range ev.settled {
			s.opts.onSettle(st)
		}
	}
}

// Request asks for key at the given priority (lower is more urgent). ctx is
// the cancellation token of the task created for key; it is ignored when a
// live task already exists, in which case the caller joins that task's
// waiters and its priority is lowered to priority if the task is still
// queued and priority is lower.
func (s *Scheduler[V]) Request(ctx context.Context, key string, priority int) *Future[V] {
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFuture[V](key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		f.settle(Result[V]{Err: ErrClosed})
		return f
	}
	if t, ok := s.registry[key]; ok {
		if t.status == StatusQueued && heapUpgrade(&s.queue, t, priority) {
			s.opts.log.Debug("fetchq: %s upgraded to priority %d", s.opts.redact(key), priority)
		}
		t.waiters = append(t.waiters, f)
		s.mu.Unlock()
		return f
	}

	s.seq++
	t := &task[V]{
		key:      key,
		priority: priority,
		seq:      s.seq,
		token:    ctx,
		waiters:  []*Future[V]{f},
		status:   StatusQueued,
		index:    -1,
		enqueued: time.Now(),
	}
	s.registry[key] = t
	heapPush(&s.queue, t)

	var ev events[V]
	s.dispatchLocked(&ev)
	s.mu.Unlock()
	s.emit(&ev)
	return f
}

// Prioritize lowers the priority of a queued task without attaching a
// waiter. It reports whether the task's position changed.
func (s *Scheduler[V]) Prioritize(key string, priority int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.registry[key]
	if !ok || t.status != StatusQueued {
		return false
	}
	return heapUpgrade(&s.queue, t, priority)
}

// dispatchLocked starts queued tasks while capacity remains. Tasks whose
// token is already cancelled are settled with ErrCanceled on the way
// without taking a slot. Must be called with s.mu held.
func (s *Scheduler[V]) dispatchLocked(ev *events[V]) {
	for !s.paused && !s.closed && s.active < s.opts.maxConcurrent && s.queue.Len() > 0 {
		t := heapPop(&s.queue)

		if t.token.Err() != nil {
			delete(s.registry, t.key)
			t.status = StatusSettled
			for _, w := range t.waiters {
				w.settle(Result[V]{Err: ErrCanceled})
			}
			ev.settled = append(ev.settled, Settlement{
				Key:      t.key,
				Priority: t.priority,
				Outcome:  OutcomeCanceled,
				Err:      ErrCanceled,
				Waiters:  len(t.waiters),
			})
			t.waiters = nil
			s.opts.log.Debug("fetchq: %s canceled before dispatch", s.opts.redact(t.key))
			continue
		}

		t.status = StatusActive
		t.started = time.Now()
		s.active++
		// Close must wait for this download even though it starts after
		// the lock is released.
		s.wg.Add(1)
		ev.dispatched = append(ev.dispatched, dispatchEvent{key: t.key, priority: t.priority})
		ev.started = append(ev.started, t)
		s.opts.log.Debug("fetchq: dispatch %s (priority %d, active %d/%d, waited %s)",
			s.opts.redact(t.key), t.priority, s.active, s.opts.maxConcurrent, t.started.Sub(t.enqueued))
	}
}

// run invokes the downloader for t on its own goroutine. The caller has
// already added t to s.wg.
func (s *Scheduler[V]) run(t *task[V]) {
	key := t.key
	safeGo(s.opts.log, &s.wg, "fetchq:"+s.opts.redact(key), func(r interface{}) {
		var zero V
		s.finish(t, zero, &PanicError{Key: s.opts.redact(key), Value: r})
	}, func() {
		ctx := s.ctx
		if s.opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.timeout)
			defer cancel()
		}
		v, err := s.download(ctx, key)
		s.finish(t, v, err)
	})
}

// finish settles an active task, reclaims its slot and dispatches again.
func (s *Scheduler[V]) finish(t *task[V], v V, err error) {
	var ev events[V]

	s.mu.Lock()
	if t.status != StatusActive {
		s.mu.Unlock()
		return
	}
	t.status = StatusSettled
	s.active--
	if s.registry[t.key] == t {
		delete(s.registry, t.key)
	}

	st := Settlement{
		Key:      t.key,
		Priority: t.priority,
		Err:      err,
		Waiters:  len(t.waiters),
		Elapsed:  time.Since(t.started),
	}
	switch {
	case t.token.Err() != nil:
		st.Outcome = OutcomeSuppressed
		s.opts.log.Debug("fetchq: %s canceled in flight, dropping result for %d waiter(s)", s.opts.redact(t.key), len(t.waiters))
	default:
		st.Outcome = OutcomeResolved
		if err != nil {
			st.Outcome = OutcomeFailed
		}
		res := Result[V]{Value: v, Err: err}
		for _, w := range t.waiters {
			w.settle(res)
		}
	}
	t.waiters = nil
	ev.settled = append(ev.settled, st)

	s.dispatchLocked(&ev)
	s.mu.Unlock()
	s.emit(&ev)
}

// Pause stops dispatching queued tasks. Active tasks run to completion.
func (s *Scheduler[V]) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables dispatching and starts queued tasks up to capacity.
func (s *Scheduler[V]) Resume() {
	var ev events[V]
	s.mu.Lock()
	s.paused = false
	s.dispatchLocked(&ev)
	s.mu.Unlock()
	s.emit(&ev)
}

// Paused reports whether dispatching is paused.
func (s *Scheduler[V]) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ActiveCount returns the number of downloader calls in flight.
func (s *Scheduler[V]) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// WaitingCount returns the number of queued tasks.
func (s *Scheduler[V]) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// MaxConcurrent returns the concurrency ceiling.
func (s *Scheduler[V]) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.maxConcurrent
}

// SetMaxConcurrent changes the concurrency ceiling. Raising it dispatches
// immediately; lowering it lets surplus active tasks drain.
func (s *Scheduler[V]) SetMaxConcurrent(n int) {
	var ev events[V]
	s.mu.Lock()
	s.opts.maxConcurrent = clampConcurrency(n)
	s.dispatchLocked(&ev)
	s.mu.Unlock()
	s.emit(&ev)
}

// QueuedTask is a queued key and its current priority.
type QueuedTask struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
}

// State is a point-in-time view of the scheduler.
type State struct {
	MaxConcurrent int          `json:"maxConcurrent"`
	Active        []string     `json:"active"`
	Waiting       []QueuedTask `json:"waiting"`
	Paused        bool         `json:"paused"`
	Closed        bool         `json:"closed"`
}

// Snapshot returns the current state. Waiting is in dispatch order and
// Active is sorted by key.
func (s *Scheduler[V]) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		MaxConcurrent: s.opts.maxConcurrent,
		Active:        make([]string, 0, s.active),
		Waiting:       make([]QueuedTask, 0, s.queue.Len()),
		Paused:        s.paused,
		Closed:        s.closed,
	}
	for key, t := range s.registry {
		if t.status == StatusActive {
			st.Active = append(st.Active, key)
		}
	}
	sort.Strings(st.Active)
	for _, t := range s.queue.ordered() {
		st.Waiting = append(st.Waiting, QueuedTask{Key: t.key, Priority: t.priority})
	}
	return st
}

// Close rejects further requests, settles queued tasks with ErrClosed,
// cancels the context seen by in-flight downloader calls and waits for them
// to return. Safe to call multiple times.
func (s *Scheduler[V]) Close() {
	var ev events[V]

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	for s.queue.Len() > 0 {
		t := heapPop(&s.queue)
		delete(s.registry, t.key)
		t.status = StatusSettled
		for _, w := range t.waiters {
			w.settle(Result[V]{Err: ErrClosed})
		}
		ev.settled = append(ev.settled, Settlement{
			Key:      t.key,
			Priority: t.priority,
			Outcome:  OutcomeClosed,
			Err:      ErrClosed,
			Waiters:  len(t.waiters),
		})
		t.waiters = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.emit(&ev)
	s.wg.Wait()
}
