package logger

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestStandardLogger_Levels(t *testing.T) {
	tests := []struct {
		name   string
		emit   func(l *StandardLogger)
		prefix string
		body   string
	}{
		{"info", func(l *StandardLogger) { l.Info("cache opened at %s", "/tmp/c") }, "[INFO]", "cache opened at /tmp/c"},
		{"warning", func(l *StandardLogger) { l.Warning("retry %d/%d", 2, 5) }, "[WARNING]", "retry 2/5"},
		{"error", func(l *StandardLogger) { l.Error("fetch failed: %v", "boom") }, "[ERROR]", "fetch failed: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := NewStandardLogger(log.New(buf, "", 0))
			tt.emit(l)
			out := buf.String()
			if !strings.Contains(out, tt.prefix) {
				t.Errorf("expected %s prefix, got: %s", tt.prefix, out)
			}
			if !strings.Contains(out, tt.body) {
				t.Errorf("expected %q in output, got: %s", tt.body, out)
			}
		})
	}
}

func TestStandardLogger_DebugGated(t *testing.T) {
	t.Setenv(DebugEnv, "")
	buf := &bytes.Buffer{}
	l := NewStandardLogger(log.New(buf, "", 0))

	l.Debug("dispatch %s", "k1")
	if buf.Len() != 0 {
		t.Fatalf("expected no debug output by default, got: %s", buf.String())
	}

	l.SetDebug(true)
	l.Debug("dispatch %s", "k1")
	if !strings.Contains(buf.String(), "[DEBUG] dispatch k1") {
		t.Fatalf("expected debug output, got: %s", buf.String())
	}
}

func TestStandardLogger_DebugFromEnv(t *testing.T) {
	t.Setenv(DebugEnv, "1")
	buf := &bytes.Buffer{}
	l := NewStandardLogger(log.New(buf, "", 0))
	l.Debug("on")
	if !strings.Contains(buf.String(), "[DEBUG] on") {
		t.Fatalf("expected debug output with %s=1, got: %s", DebugEnv, buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("test")
	l.Info("test")
	l.Warning("test")
	l.Error("test")
	if err := l.Close(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

func TestMockLogger_RecordsCalls(t *testing.T) {
	l := NewMockLogger()

	l.Debug("debug %d", 0)
	l.Info("info %d", 1)
	l.Warning("warn %s", "test")
	l.Error("err %v", "fail")

	if len(l.DebugCalls) != 1 || l.DebugCalls[0] != "debug 0" {
		t.Errorf("unexpected debug calls: %v", l.DebugCalls)
	}
	if len(l.InfoCalls) != 1 || l.InfoCalls[0] != "info 1" {
		t.Errorf("unexpected info calls: %v", l.InfoCalls)
	}
	if got := l.Warnings(); len(got) != 1 || got[0] != "warn test" {
		t.Errorf("unexpected warning calls: %v", got)
	}
	if got := l.Errors(); len(got) != 1 || got[0] != "err fail" {
		t.Errorf("unexpected error calls: %v", got)
	}
	if err := l.Close(); err != nil || !l.CloseCalled {
		t.Errorf("expected Close to be recorded, err=%v", err)
	}
}

func TestMultiLogger_BroadcastsToAll(t *testing.T) {
	mock1 := NewMockLogger()
	mock2 := NewMockLogger()
	multi := NewMultiLogger(mock1, mock2)

	multi.Debug("debug msg")
	multi.Info("info msg")
	multi.Warning("warn msg")
	multi.Error("error msg")

	for i, m := range []*MockLogger{mock1, mock2} {
		if len(m.DebugCalls) != 1 || len(m.InfoCalls) != 1 || len(m.WarningCalls) != 1 || len(m.ErrorCalls) != 1 {
			t.Errorf("logger %d did not receive every message: %+v", i, m)
		}
	}
}

type failingCloseLogger struct {
	NopLogger
	closeErr error
}

func (f *failingCloseLogger) Close() error {
	return f.closeErr
}

func TestMultiLogger_Close_ReturnsFirstError(t *testing.T) {
	err1 := errors.New("logger1 failed to close")
	err2 := errors.New("logger2 failed to close")
	mock := NewMockLogger()

	multi := NewMultiLogger(&failingCloseLogger{closeErr: err1}, mock, &failingCloseLogger{closeErr: err2})

	if err := multi.Close(); !errors.Is(err, err1) {
		t.Errorf("expected first error %v, got %v", err1, err)
	}
	if !mock.CloseCalled {
		t.Error("expected mock logger to be closed even after first error")
	}
}

func TestMultiLogger_EmptyLoggers(t *testing.T) {
	multi := NewMultiLogger()
	multi.Info("test")
	if err := multi.Close(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}
