// Package fetchq schedules resource fetches for a scrolling image grid.
//
// A Scheduler turns an unbounded stream of Request calls into at most
// MaxConcurrent simultaneous downloader invocations. Pending work is kept in
// a priority queue (lower priority value first, insertion order on ties) and
// every key has at most one live task: repeated requests for a key attach
// another waiter to the existing task and may lower its priority while it is
// still queued.
//
// # Cancellation
//
// The context passed to Request is the task's cancellation token. It is
// checked lazily, twice: when the task reaches the front of the queue (a
// cancelled task is settled with ErrCanceled without touching the downloader
// or a concurrency slot) and when the downloader returns (the result is
// dropped and waiters are left unsettled). An in-flight download is never
// aborted because its caller lost interest; Future.Wait takes its own
// context so a caller is never stuck on a dropped result.
//
// # Usage
//
//	s := fetchq.New(cache.Fetch, fetchq.WithMaxConcurrent(12))
//	defer s.Close()
//
//	f := s.Request(ctx, url, visibility.Score(entry, 0))
//	entry, err := f.Wait(ctx)
package fetchq
