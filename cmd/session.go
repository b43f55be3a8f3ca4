package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/warpdl/gridfetch/internal/config"
	"github.com/warpdl/gridfetch/pkg/cachedl"
	"github.com/warpdl/gridfetch/pkg/fetchq"
	"github.com/warpdl/gridfetch/pkg/logger"
)

const buildArgsKey = "build"

// session bundles the resolved configuration and the components opened for
// one command invocation.
type session struct {
	cfg   *config.Config
	log   logger.Logger
	cache *cachedl.Cache
	idx   *cachedl.Index
}

// loadConfig resolves the configuration and applies global flags over it.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if dir := ctx.GlobalString("cache-dir"); dir != "" {
		cfg.Cache.Dir = dir
	}
	if ctx.GlobalIsSet("max-concurrent") {
		cfg.Scheduler.MaxConcurrent = ctx.GlobalInt("max-concurrent")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, debug bool) *logger.StandardLogger {
	l := logger.NewStandardLogger(log.New(w, "gridfetch: ", log.LstdFlags))
	if debug {
		l.SetDebug(true)
	}
	return l
}

// openLogFile returns a logger writing to stderr and, when path is set, to
// the file at path as well.
func openLogFile(path string, debug bool) (logger.Logger, error) {
	console := newLogger(os.Stderr, debug)
	if path == "" {
		return console, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("error: open log file: %w", err)
	}
	return logger.NewMultiLogger(console, &fileLogger{newLogger(f, debug), f}), nil
}

// fileLogger closes its file along with the logger.
type fileLogger struct {
	*logger.StandardLogger
	f *os.File
}

func (l *fileLogger) Close() error {
	return l.f.Close()
}

// openSession loads the configuration and opens the cache it points at.
// l may be nil, in which case a stderr logger is used.
func openSession(ctx *cli.Context, l logger.Logger) (*session, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = newLogger(os.Stderr, ctx.GlobalBool("debug"))
	}
	return newSession(cfg, l)
}

func newSession(cfg *config.Config, l logger.Logger) (*session, error) {
	client, err := cachedl.NewHTTPClient(cfg.Cache.Proxy, cfg.Cache.RequestTimeout)
	if err != nil {
		return nil, err
	}
	blobDir := cfg.BlobDir()
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("error: create cache dir: %w", err)
	}
	idxPath := cfg.IndexFile()
	if err := os.MkdirAll(filepath.Dir(idxPath), 0o755); err != nil {
		return nil, fmt.Errorf("error: create index dir: %w", err)
	}
	idx, err := cachedl.OpenIndex(idxPath)
	if err != nil {
		return nil, err
	}
	cache := cachedl.New(afero.NewBasePathFs(afero.NewOsFs(), blobDir), idx, cachedl.Options{
		Client:    client,
		RateLimit: cfg.Cache.RateLimit,
		Burst:     cfg.Cache.Burst,
		Retry: cachedl.RetryConfig{
			MaxAttempts:   cfg.Cache.RetryAttempts,
			BaseDelay:     cfg.Cache.RetryBaseDelay,
			MaxDelay:      cfg.Cache.RetryMaxDelay,
			JitterFactor:  cachedl.DEF_JITTER_FACTOR,
			BackoffFactor: cachedl.DEF_BACKOFF_FACTOR,
		},
		DialTimeout:    cfg.Cache.RequestTimeout,
		KnownHostsPath: cfg.Cache.KnownHosts,
		SSHKeyPath:     cfg.Cache.SSHKey,
		Log:            l,
	})
	return &session{cfg: cfg, log: l, cache: cache, idx: idx}, nil
}

// schedulerOptions returns the options every scheduler of the session shares.
// extra options are appended and may add hooks.
func (s *session) schedulerOptions(extra ...fetchq.Option) []fetchq.Option {
	opts := []fetchq.Option{
		fetchq.WithMaxConcurrent(s.cfg.Scheduler.MaxConcurrent),
		fetchq.WithLogger(s.log),
		fetchq.WithKeyRedactor(cachedl.StripURLCredentials),
	}
	if s.cfg.Scheduler.DownloadTimeout > 0 {
		opts = append(opts, fetchq.WithDownloadTimeout(s.cfg.Scheduler.DownloadTimeout))
	}
	return append(opts, extra...)
}

// blobFile returns the on-disk location of a cached entry.
func (s *session) blobFile(e cachedl.Entry) string {
	return filepath.Join(s.cfg.BlobDir(), filepath.FromSlash(e.Path))
}

func (s *session) Close() error {
	err := s.idx.Close()
	if lerr := s.log.Close(); err == nil {
		err = lerr
	}
	return err
}
