package cachedl

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"syscall"
	"time"
)

// Default retry configuration values
const (
	DEF_MAX_ATTEMPTS   = 3
	DEF_BASE_DELAY     = 250 * time.Millisecond
	DEF_MAX_DELAY      = 10 * time.Second
	DEF_JITTER_FACTOR  = 0.5
	DEF_BACKOFF_FACTOR = 2.0
)

// RetryConfig controls how often a failed fetch is attempted again.
type RetryConfig struct {
	MaxAttempts   int           // Total attempts including the first (<= 1 disables retry)
	BaseDelay     time.Duration // Delay before the second attempt
	MaxDelay      time.Duration // Upper bound for any delay
	JitterFactor  float64       // Random jitter factor (0-1)
	BackoffFactor float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DEF_MAX_ATTEMPTS,
		BaseDelay:     DEF_BASE_DELAY,
		MaxDelay:      DEF_MAX_DELAY,
		JitterFactor:  DEF_JITTER_FACTOR,
		BackoffFactor: DEF_BACKOFF_FACTOR,
	}
}

// RetryState tracks the attempts made for one fetch.
type RetryState struct {
	Attempts     int
	TotalDelayed time.Duration
}

// ErrorCategory classifies errors for retry decisions.
type ErrorCategory int

const (
	ErrCategoryFatal     ErrorCategory = iota // Not worth retrying (404, canceled, bad URL)
	ErrCategoryRetryable                      // Transient (EOF, timeout, reset, 5xx)
	ErrCategoryThrottled                      // Server asked us to slow down (429, 503)
)

// ClassifyError determines how an error should be handled for retry purposes.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryFatal
	}

	// The caller gave up; a per-attempt deadline is worth another try.
	if errors.Is(err, context.Canceled) {
		return ErrCategoryFatal
	}
	if errors.Is(err, ErrUnsupportedScheme) {
		return ErrCategoryFatal
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusTooManyRequests, statusErr.Code == http.StatusServiceUnavailable:
			return ErrCategoryThrottled
		case statusErr.Code >= 500:
			return ErrCategoryRetryable
		default:
			return ErrCategoryFatal
		}
	}

	// FTP replies: 4xx are transient negative completions, 5xx permanent.
	var ftpErr *textproto.Error
	if errors.As(err, &ftpErr) {
		if ftpErr.Code >= 400 && ftpErr.Code < 500 {
			return ErrCategoryRetryable
		}
		return ErrCategoryFatal
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortBody) {
		return ErrCategoryRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrCategoryRetryable
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) && isRetryableErrno(sysErr) {
		return ErrCategoryRetryable
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"temporary failure",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(errStr, pattern) {
			return ErrCategoryRetryable
		}
	}

	// Unknown errors are treated as fatal to avoid pointless retry loops
	return ErrCategoryFatal
}

func isRetryableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH,
		syscall.EPIPE:
		return true
	}
	return false
}

// CalculateBackoff computes the delay before the given attempt (2 = first retry).
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 2 {
		attempt = 2
	}

	// Exponential backoff: baseDelay * (backoffFactor ^ (attempt-2))
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-2))

	// Apply jitter: delay * (1 + jitterFactor * random(-1, 1))
	if c.JitterFactor > 0 {
		jitter := c.JitterFactor * (2*rand.Float64() - 1)
		delay *= (1 + jitter)
	}

	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = float64(c.BaseDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether another attempt should follow a failure.
func (c *RetryConfig) ShouldRetry(state *RetryState, err error) bool {
	if ClassifyError(err) == ErrCategoryFatal {
		return false
	}
	return state.Attempts < c.MaxAttempts
}

// WaitForRetry blocks until the retry delay has elapsed or ctx is done.
func (c *RetryConfig) WaitForRetry(ctx context.Context, state *RetryState, category ErrorCategory) error {
	delay := c.CalculateBackoff(state.Attempts + 1)

	// Throttled errors get double the normal delay
	if category == ErrCategoryThrottled {
		delay *= 2
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		state.TotalDelayed += delay
		return nil
	}
}
