package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/warpdl/gridfetch/pkg/fetchq"
	"github.com/warpdl/gridfetch/pkg/logger"
)

// Push notification method names.
const (
	NotifyFetchDispatched = "fetch.dispatched"
	NotifyFetchSettled    = "fetch.settled"
)

// RPCNotifier maintains a set of connected jrpc2 WebSocket servers
// and broadcasts push notifications to all of them.
type RPCNotifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	log     logger.Logger
}

// NewRPCNotifier creates a new notifier. l may be nil.
func NewRPCNotifier(l logger.Logger) *RPCNotifier {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &RPCNotifier{
		servers: make(map[*jrpc2.Server]struct{}),
		log:     l,
	}
}

// Register adds a server to the broadcast set.
func (n *RPCNotifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes a server from the broadcast set.
func (n *RPCNotifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Broadcast sends a push notification to all registered servers.
// Servers that fail to receive (e.g., disconnected) are unregistered.
func (n *RPCNotifier) Broadcast(method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), method, params); err != nil {
			n.log.Warning("rpc: push %s failed: %v", method, err)
			failed = append(failed, srv)
		}
	}

	if len(failed) > 0 {
		n.mu.Lock()
		for _, srv := range failed {
			delete(n.servers, srv)
		}
		n.mu.Unlock()
	}
}

// Count returns the number of registered servers.
func (n *RPCNotifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// FetchDispatchedNotification is sent when a key is handed to the downloader.
type FetchDispatchedNotification struct {
	Key      string `json:"key"`
	Priority int    `json:"priority"`
}

// FetchSettledNotification is sent when a key leaves the scheduler.
type FetchSettledNotification struct {
	Key       string `json:"key"`
	Priority  int    `json:"priority"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Waiters   int    `json:"waiters"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// OnDispatch is a fetchq dispatch hook broadcasting fetch.dispatched.
func (n *RPCNotifier) OnDispatch(key string, priority int) {
	n.Broadcast(NotifyFetchDispatched, &FetchDispatchedNotification{
		Key:      redactKey(key),
		Priority: priority,
	})
}

// OnSettle is a fetchq settle hook broadcasting fetch.settled.
func (n *RPCNotifier) OnSettle(s fetchq.Settlement) {
	msg := &FetchSettledNotification{
		Key:       redactKey(s.Key),
		Priority:  s.Priority,
		Outcome:   s.Outcome.String(),
		Waiters:   s.Waiters,
		ElapsedMs: s.Elapsed.Milliseconds(),
	}
	if s.Err != nil {
		msg.Error = redactError(s.Key, s.Err)
	}
	n.Broadcast(NotifyFetchSettled, msg)
}
