package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/warpdl/gridfetch/pkg/cachedl"
	"github.com/warpdl/gridfetch/pkg/fetchq"
	"github.com/warpdl/gridfetch/pkg/logger"
	"github.com/warpdl/gridfetch/pkg/visibility"
)

// Custom JSON-RPC error codes for fetch operations.
const (
	codeFetchFailed   = jrpc2.Code(-32001)
	codeFetchCanceled = jrpc2.Code(-32002)
	codeClosed        = jrpc2.Code(-32003)
	codeInvalidParams = jrpc2.Code(-32602)
)

// rpcConcurrency bounds handlers running at once per jrpc2 server.
// fetch.request blocks until its key settles, so this must comfortably
// exceed the number of requests a client keeps outstanding.
const rpcConcurrency = 256

// RPCConfig holds configuration for the JSON-RPC endpoint.
type RPCConfig struct {
	Secret    string // Auth token (required, empty rejects every request)
	MaxScore  int    // Default limit for visibility.score
	Version   string
	Commit    string
	BuildType string
}

// RPCServer manages the JSON-RPC 2.0 bridge and method handlers.
type RPCServer struct {
	bridge    jhttp.Bridge
	methods   handler.Map
	secret    string
	maxScore  int
	version   string
	commit    string
	buildType string
	sched     *fetchq.Scheduler[cachedl.Entry]
	cache     *cachedl.Cache
	notifier  *RPCNotifier
	log       logger.Logger
	closeOnce sync.Once
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// RequestParams is the input for fetch.request.
type RequestParams struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
}

// RequestResult is the response for fetch.request.
type RequestResult struct {
	Key         string `json:"key"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	Cached      bool   `json:"cached"`
}

// PrioritizeParams is the input for fetch.prioritize.
type PrioritizeParams struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
}

// PrioritizeResult is the response for fetch.prioritize.
type PrioritizeResult struct {
	Updated bool `json:"updated"`
}

// StatsResult is the response for fetch.stats.
type StatsResult struct {
	Active        int                 `json:"active"`
	Waiting       int                 `json:"waiting"`
	MaxConcurrent int                 `json:"maxConcurrent"`
	Paused        bool                `json:"paused"`
	ActiveKeys    []string            `json:"activeKeys"`
	Queue         []fetchq.QueuedTask `json:"queue"`
}

// ConcurrencyParams is the input for fetch.setMaxConcurrent.
type ConcurrencyParams struct {
	MaxConcurrent int `json:"maxConcurrent"`
}

// ScoreParams is the input for visibility.score.
type ScoreParams struct {
	Intersecting bool            `json:"intersecting"`
	Bounds       visibility.Rect `json:"bounds"`
	Root         visibility.Rect `json:"root"`
	Limit        int             `json:"limit,omitempty"`
}

// ScoreResult is the response for visibility.score.
type ScoreResult struct {
	Score int `json:"score"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}

// NewRPCServer creates a new RPCServer with method handlers and HTTP bridge.
// cache may be nil, in which case cache.stats is not registered.
func NewRPCServer(cfg *RPCConfig, sched *fetchq.Scheduler[cachedl.Entry], cache *cachedl.Cache, notifier *RPCNotifier, l logger.Logger) *RPCServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	maxScore := cfg.MaxScore
	if maxScore <= 0 {
		maxScore = visibility.DefaultMaxScore
	}
	rs := &RPCServer{
		secret:    cfg.Secret,
		maxScore:  maxScore,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildType: cfg.BuildType,
		sched:     sched,
		cache:     cache,
		notifier:  notifier,
		log:       l,
	}

	rs.methods = handler.Map{
		"system.getVersion":      handler.New(rs.systemGetVersion),
		"fetch.request":          handler.New(rs.fetchRequest),
		"fetch.prioritize":       handler.New(rs.fetchPrioritize),
		"fetch.stats":            handler.New(rs.fetchStats),
		"fetch.pause":            handler.New(rs.fetchPause),
		"fetch.resume":           handler.New(rs.fetchResume),
		"fetch.setMaxConcurrent": handler.New(rs.fetchSetMaxConcurrent),
		"visibility.score":       handler.New(rs.visibilityScore),
	}
	if cache != nil {
		rs.methods["cache.stats"] = handler.New(rs.cacheStats)
	}

	rs.bridge = jhttp.NewBridge(rs.methods, &jhttp.BridgeOptions{
		Server: &jrpc2.ServerOptions{Concurrency: rpcConcurrency},
	})
	return rs
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.buildType,
	}, nil
}

// fetchRequest enqueues a key and blocks until it settles. The handler
// context is the cancellation token: a caller that goes away before
// dispatch cancels the request.
func (rs *RPCServer) fetchRequest(ctx context.Context, p *RequestParams) (*RequestResult, error) {
	if p.Key == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: key"}
	}
	parsed, err := url.Parse(p.Key)
	if err != nil || parsed.Scheme == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "key must be an absolute URL"}
	}

	e, err := rs.sched.Request(ctx, p.Key, p.Priority).Wait(ctx)
	if err != nil {
		return nil, fetchError(p.Key, err)
	}
	return &RequestResult{
		Key:         e.Key,
		Path:        e.Path,
		Size:        e.Size,
		ContentType: e.ContentType,
		Cached:      e.Cached,
	}, nil
}

func fetchError(key string, err error) error {
	switch {
	case errors.Is(err, fetchq.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &jrpc2.Error{Code: codeFetchCanceled, Message: "fetch canceled"}
	case errors.Is(err, fetchq.ErrClosed):
		return &jrpc2.Error{Code: codeClosed, Message: "scheduler closed"}
	}
	return &jrpc2.Error{Code: codeFetchFailed, Message: redactError(key, err)}
}

func (rs *RPCServer) fetchPrioritize(_ context.Context, p *PrioritizeParams) (*PrioritizeResult, error) {
	if p.Key == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: key"}
	}
	return &PrioritizeResult{Updated: rs.sched.Prioritize(p.Key, p.Priority)}, nil
}

func (rs *RPCServer) fetchStats(_ context.Context) (*StatsResult, error) {
	st := rs.sched.Snapshot()
	return &StatsResult{
		Active:        len(st.Active),
		Waiting:       len(st.Waiting),
		MaxConcurrent: st.MaxConcurrent,
		Paused:        st.Paused,
		ActiveKeys:    st.Active,
		Queue:         st.Waiting,
	}, nil
}

func (rs *RPCServer) fetchPause(_ context.Context) (*EmptyResult, error) {
	rs.sched.Pause()
	rs.log.Info("rpc: scheduler paused")
	return &EmptyResult{}, nil
}

func (rs *RPCServer) fetchResume(_ context.Context) (*EmptyResult, error) {
	rs.sched.Resume()
	rs.log.Info("rpc: scheduler resumed")
	return &EmptyResult{}, nil
}

func (rs *RPCServer) fetchSetMaxConcurrent(_ context.Context, p *ConcurrencyParams) (*EmptyResult, error) {
	if p.MaxConcurrent < 1 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "maxConcurrent must be at least 1"}
	}
	rs.sched.SetMaxConcurrent(p.MaxConcurrent)
	return &EmptyResult{}, nil
}

func (rs *RPCServer) visibilityScore(_ context.Context, p *ScoreParams) (*ScoreResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = rs.maxScore
	}
	e := visibility.Entry{Intersecting: p.Intersecting, Bounds: p.Bounds, Root: p.Root}
	return &ScoreResult{Score: visibility.Score(e, limit)}, nil
}

func (rs *RPCServer) cacheStats(ctx context.Context) (*cachedl.Stats, error) {
	st, err := rs.cache.Stats(ctx)
	if err != nil {
		return nil, &jrpc2.Error{Code: codeFetchFailed, Message: err.Error()}
	}
	return &st, nil
}

// redactKey hides URL credentials in log lines.
func redactKey(key string) string {
	if !strings.Contains(key, "@") {
		return key
	}
	return cachedl.StripURLCredentials(key)
}

// redactError renders err with the credentials of key removed, wherever
// the downloader or a recovered panic quoted them.
func redactError(key string, err error) string {
	msg := err.Error()
	r := redactKey(key)
	if r == key {
		return msg
	}
	msg = strings.ReplaceAll(msg, key, r)
	if u, perr := url.Parse(key); perr == nil && u.User != nil {
		msg = strings.ReplaceAll(msg, u.User.String()+"@", "")
	}
	return msg
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
// It is safe to call more than once.
func (rs *RPCServer) Close() {
	rs.closeOnce.Do(func() {
		rs.bridge.Close()
	})
}
