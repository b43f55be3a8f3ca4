package fetchq

import (
	"time"

	"github.com/warpdl/gridfetch/pkg/logger"
)

// DefaultMaxConcurrent is the concurrency ceiling used when none is given.
const DefaultMaxConcurrent = 12

type options struct {
	maxConcurrent int
	log           logger.Logger
	timeout       time.Duration
	onSettle      func(Settlement)
	onDispatch    func(key string, priority int)
	redactKey     func(string) string
}

// redact returns key as it may appear in logs and errors.
func (o *options) redact(key string) string {
	if o.redactKey == nil {
		return key
	}
	return o.redactKey(key)
}

func defaultOptions() options {
	return options{
		maxConcurrent: DefaultMaxConcurrent,
		log:           logger.NewNopLogger(),
	}
}

// Option configures a Scheduler.
type Option func(*options)

// WithMaxConcurrent sets the number of downloader calls allowed in flight.
// Values below 1 are treated as 1.
func WithMaxConcurrent(n int) Option {
	return func(o *options) {
		o.maxConcurrent = clampConcurrency(n)
	}
}

// WithLogger sets the logger used for dispatch diagnostics and recovered panics.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithDownloadTimeout bounds each downloader call with a deadline on the
// context it receives. Zero, the default, imposes no deadline, so a
// downloader that never returns holds its slot forever.
func WithDownloadTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithSettleHook registers fn to be called once per terminal task transition.
// fn runs outside the scheduler lock, on the goroutine that caused the
// transition; it may call back into the scheduler.
func WithSettleHook(fn func(Settlement)) Option {
	return func(o *options) {
		o.onSettle = fn
	}
}

// WithDispatchHook registers fn to be called each time a task is handed to
// the downloader. Calls from a single dispatch pass arrive in dispatch order.
func WithDispatchHook(fn func(key string, priority int)) Option {
	return func(o *options) {
		o.onDispatch = fn
	}
}

// WithKeyRedactor sets fn to rewrite keys before they appear in log lines
// or in a *PanicError, e.g. to strip credentials from URLs. Hooks and
// waiters still see the key unchanged.
func WithKeyRedactor(fn func(key string) string) Option {
	return func(o *options) {
		o.redactKey = fn
	}
}

func clampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
