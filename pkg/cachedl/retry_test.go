package cachedl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"syscall"
	"testing"
	"time"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline reached" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrCategoryFatal},
		{"canceled", context.Canceled, ErrCategoryFatal},
		{"deadline", context.DeadlineExceeded, ErrCategoryRetryable},
		{"unsupported scheme", ErrUnsupportedScheme, ErrCategoryFatal},
		{"404", &StatusError{Code: 404}, ErrCategoryFatal},
		{"403 wrapped", fmt.Errorf("get: %w", &StatusError{Code: 403}), ErrCategoryFatal},
		{"500", &StatusError{Code: 500}, ErrCategoryRetryable},
		{"502", &StatusError{Code: 502}, ErrCategoryRetryable},
		{"429", &StatusError{Code: 429}, ErrCategoryThrottled},
		{"503", &StatusError{Code: 503}, ErrCategoryThrottled},
		{"ftp 421", &textproto.Error{Code: 421, Msg: "too many users"}, ErrCategoryRetryable},
		{"ftp 550", &textproto.Error{Code: 550, Msg: "not found"}, ErrCategoryFatal},
		{"eof", io.EOF, ErrCategoryRetryable},
		{"unexpected eof", io.ErrUnexpectedEOF, ErrCategoryRetryable},
		{"short body", ErrShortBody, ErrCategoryRetryable},
		{"net timeout", timeoutErr{}, ErrCategoryRetryable},
		{"econnreset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, ErrCategoryRetryable},
		{"string pattern", errors.New("write: broken pipe"), ErrCategoryRetryable},
		{"unknown", errors.New("something odd"), ErrCategoryFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	for attempt, want := range map[int]time.Duration{
		1:  100 * time.Millisecond,
		2:  100 * time.Millisecond,
		3:  200 * time.Millisecond,
		4:  400 * time.Millisecond,
		10: time.Second,
	} {
		if got := c.CalculateBackoff(attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}

	c.JitterFactor = 0.5
	for i := 0; i < 100; i++ {
		d := c.CalculateBackoff(3)
		if d < 100*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	c := RetryConfig{MaxAttempts: 2}
	if c.ShouldRetry(&RetryState{Attempts: 1}, &StatusError{Code: 404}) {
		t.Fatal("fatal errors must not be retried")
	}
	if !c.ShouldRetry(&RetryState{Attempts: 1}, io.EOF) {
		t.Fatal("expected retry below MaxAttempts")
	}
	if c.ShouldRetry(&RetryState{Attempts: 2}, io.EOF) {
		t.Fatal("expected no retry at MaxAttempts")
	}
}

func TestWaitForRetry(t *testing.T) {
	c := RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	state := &RetryState{Attempts: 1}
	if err := c.WaitForRetry(context.Background(), state, ErrCategoryThrottled); err != nil {
		t.Fatalf("WaitForRetry: %v", err)
	}
	if state.TotalDelayed != 2*time.Millisecond {
		t.Fatalf("throttled delay = %v, want 2ms", state.TotalDelayed)
	}

	c.BaseDelay = time.Hour
	c.MaxDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WaitForRetry(ctx, state, ErrCategoryRetryable); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
