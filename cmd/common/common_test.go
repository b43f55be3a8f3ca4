package common

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
)

// captureStdout runs fn and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func newContext(cmdName string) *cli.Context {
	app := cli.NewApp()
	app.Name = "gridfetch"
	app.HelpName = "gridfetch"
	ctx := cli.NewContext(app, flag.NewFlagSet("test", flag.ContinueOnError), nil)
	ctx.Command = cli.Command{Name: cmdName}
	return ctx
}

func TestPrintRuntimeErr(t *testing.T) {
	out := captureStdout(t, func() {
		PrintRuntimeErr(newContext("fetch"), "fetch", "open_cache", errors.New("disk full"))
	})
	if out != "gridfetch: fetch[open_cache]: disk full\n" {
		t.Fatalf("unexpected output %q", out)
	}
	out = captureStdout(t, func() { PrintRuntimeErr(nil, "fetch", "x", nil) })
	if !strings.Contains(out, "err is nil") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestGetVersion(t *testing.T) {
	VersionCmdStr = "gridfetch 1.0.0"
	out := captureStdout(t, func() { _ = GetVersion(nil) })
	if out != "gridfetch 1.0.0\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestPrintErrWithCmdHelp(t *testing.T) {
	orig := showCommandHelp
	defer func() { showCommandHelp = orig }()
	var shown string
	showCommandHelp = func(_ *cli.Context, name string) error {
		shown = name
		return nil
	}

	out := captureStdout(t, func() {
		_ = UsageErrorCallback(newContext("score"), errors.New("bad flag"), false)
	})
	if !strings.Contains(out, "gridfetch: bad flag") {
		t.Fatalf("unexpected output %q", out)
	}
	if shown != "score" {
		t.Fatalf("expected help for score, got %q", shown)
	}
	if err := PrintErrWithCmdHelp(newContext("score"), nil); err != nil {
		t.Fatalf("nil error should be ignored: %v", err)
	}
}

func TestPrintErrWithHelp(t *testing.T) {
	orig := showAppHelpAndExit
	defer func() { showAppHelpAndExit = orig }()
	code := -1
	showAppHelpAndExit = func(_ *cli.Context, c int) { code = c }

	captureStdout(t, func() {
		_ = UsageErrorCallback(newContext(""), errors.New("unknown flag"), false)
	})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestTruncateAndBeaut(t *testing.T) {
	if got := Truncate("https://tiles.example/z/1/2.png", 12); got != "https://t..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate("short", 12); got != "short" {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Beaut("ok", 6); got != "  ok  " {
		t.Fatalf("Beaut = %q", got)
	}
	if got := Beaut("odd", 6); got != " odd  " {
		t.Fatalf("Beaut = %q", got)
	}
	if got := Beaut("toolong", 3); got != "toolong" {
		t.Fatalf("Beaut = %q", got)
	}
}

func TestNewFetchBar(t *testing.T) {
	p := mpb.New(mpb.WithOutput(io.Discard))
	bar := NewFetchBar(p, "Fetching", 3)
	for i := 0; i < 3; i++ {
		bar.Increment()
	}
	p.Wait()
	if !bar.Completed() {
		t.Fatal("expected bar to complete")
	}
}
