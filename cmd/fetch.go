package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"golang.org/x/sync/errgroup"

	"github.com/warpdl/gridfetch/cmd/common"
	"github.com/warpdl/gridfetch/pkg/cachedl"
	"github.com/warpdl/gridfetch/pkg/fetchq"
)

var (
	manifestPath string
	quiet        bool
)

var fetchFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "manifest, i",
		Usage:       "read targets from `FILE`, one \"[PRIORITY] URL\" per line (- for stdin)",
		Destination: &manifestPath,
	},
	cli.BoolFlag{
		Name:        "quiet, q",
		Usage:       "hide the progress bar and per-resource lines",
		Destination: &quiet,
	},
}

var errNoTargets = errors.New("no targets given")

// target is one requested key and its priority.
type target struct {
	key      string
	priority int
}

// parseTarget parses URL[@PRIORITY]. A suffix after the last @ that is not
// an integer belongs to the URL, so userinfo survives.
func parseTarget(s string) (target, error) {
	s = strings.TrimSpace(s)
	t := target{key: s}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		if p, err := strconv.Atoi(s[i+1:]); err == nil {
			t = target{key: s[:i], priority: p}
		}
	}
	if err := validateKey(t.key); err != nil {
		return target{}, err
	}
	return t, nil
}

func validateKey(key string) error {
	u, err := url.Parse(key)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid target %q: expected an absolute URL", cachedl.StripURLCredentials(key))
	}
	return nil
}

// readManifest parses targets from r. Each line is "URL" or "PRIORITY URL";
// blank lines and # comments are skipped.
func readManifest(r io.Reader) ([]target, error) {
	var targets []target
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var (
			t   target
			err error
		)
		switch len(fields) {
		case 1:
			t, err = parseTarget(fields[0])
		case 2:
			var p int
			p, err = strconv.Atoi(fields[0])
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: invalid priority %q", n, fields[0])
			}
			t = target{key: fields[1], priority: p}
			err = validateKey(t.key)
		default:
			err = errors.New(`expected "[PRIORITY] URL"`)
		}
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", n, err)
		}
		targets = append(targets, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("error: read manifest: %w", err)
	}
	return targets, nil
}

func collectTargets(args []string, manifest string, stdin io.Reader) ([]target, error) {
	var targets []target
	if manifest != "" {
		var r io.Reader = stdin
		if manifest != "-" {
			f, err := os.Open(manifest)
			if err != nil {
				return nil, fmt.Errorf("error: open manifest: %w", err)
			}
			defer f.Close()
			r = f
		}
		mt, err := readManifest(r)
		if err != nil {
			return nil, err
		}
		targets = append(targets, mt...)
	}
	for _, a := range args {
		t, err := parseTarget(a)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, errNoTargets
	}
	return targets, nil
}

func fetch(ctx *cli.Context) error {
	targets, err := collectTargets(ctx.Args(), manifestPath, os.Stdin)
	if err != nil {
		if errors.Is(err, errNoTargets) {
			return common.PrintErrWithCmdHelp(ctx, err)
		}
		return err
	}
	s, err := openSession(ctx, nil)
	if err != nil {
		common.PrintRuntimeErr(ctx, "fetch", "open_cache", err)
		return err
	}
	defer s.Close()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out io.Writer = os.Stdout
	if quiet {
		out = io.Discard
	}
	rep, err := runFetch(sigCtx, s, targets, out)
	fmt.Println(rep.String())
	return err
}

// fetchReport summarizes one fetch run. Duplicate targets count once.
type fetchReport struct {
	Fetched int
	Cached  int
	Failed  int
	Bytes   int64
	Elapsed time.Duration
}

func (r fetchReport) String() string {
	return fmt.Sprintf("%d fetched, %d from cache, %d failed, %s in %s",
		r.Fetched, r.Cached, r.Failed,
		humanize.Bytes(uint64(r.Bytes)), r.Elapsed.Round(time.Millisecond))
}

// runFetch requests every target through one scheduler, paused while the
// queue fills so the first dispatch already sees every priority. Progress
// and one line per settled resource go to out.
func runFetch(ctx context.Context, s *session, targets []target, out io.Writer) (fetchReport, error) {
	start := time.Now()
	unique := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		unique[t.key] = struct{}{}
	}

	p := mpb.New(mpb.WithOutput(out), mpb.WithWidth(64))
	bar := common.NewFetchBar(p, "Fetching", int64(len(unique)))

	sched := fetchq.New(s.cache.Fetch, s.schedulerOptions(
		fetchq.WithSettleHook(func(fetchq.Settlement) { bar.Increment() }),
	)...)

	sched.Pause()
	futures := make([]*fetchq.Future[cachedl.Entry], len(targets))
	for i, t := range targets {
		futures[i] = sched.Request(ctx, t.key, t.priority)
	}
	sched.Resume()

	entries := make([]cachedl.Entry, len(targets))
	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, f := range futures {
		g.Go(func() error {
			entries[i], errs[i] = f.Wait(ctx)
			return nil
		})
	}
	_ = g.Wait()

	// Close waits for in-flight downloads, so every settle hook has run
	// once it returns.
	sched.Close()
	if !bar.Completed() {
		bar.Abort(false)
	}
	p.Wait()

	var (
		rep  fetchReport
		merr *multierror.Error
	)
	seen := make(map[string]struct{}, len(unique))
	for i, t := range targets {
		if _, dup := seen[t.key]; dup {
			continue
		}
		seen[t.key] = struct{}{}

		if err := errs[i]; err != nil {
			rep.Failed++
			var fe *cachedl.FetchError
			if !errors.As(err, &fe) {
				err = fmt.Errorf("%s: %w", cachedl.StripURLCredentials(t.key), err)
			}
			merr = multierror.Append(merr, err)
			continue
		}
		e := entries[i]
		state := "fetched"
		if e.Cached {
			rep.Cached++
			state = "cached"
		} else {
			rep.Fetched++
		}
		rep.Bytes += e.Size
		fmt.Fprintf(out, "%-7s %s -> %s (%s)\n", state,
			cachedl.StripURLCredentials(e.Key), s.blobFile(e), humanize.Bytes(uint64(e.Size)))
	}
	rep.Elapsed = time.Since(start)
	return rep, merr.ErrorOrNil()
}
