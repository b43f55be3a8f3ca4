// Package server exposes a fetch scheduler over JSON-RPC 2.0, on plain HTTP
// POST at /jsonrpc and over WebSocket at /jsonrpc/ws.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/warpdl/gridfetch/pkg/logger"
)

// shutdownGrace bounds how long Start waits for in-flight requests once its
// context is canceled.
const shutdownGrace = 5 * time.Second

// Server serves an RPCServer over HTTP.
type Server struct {
	log      logger.Logger
	rpc      *RPCServer
	addr     string
	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// NewServer creates a Server listening on addr once started. addr is
// host:port, unix:PATH or, on windows, npipe:NAME.
func NewServer(l logger.Logger, rpc *RPCServer, addr string) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Server{log: l, rpc: rpc, addr: addr}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(s.rpc.secret, s.rpc.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(s.rpc.secret, http.HandlerFunc(s.rpc.serveWS)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start listens and serves until ctx is canceled, then shuts down gracefully.
// ready, if non-nil, is closed once the listener is bound.
func (s *Server) Start(ctx context.Context, ready chan<- struct{}) error {
	l, err := s.createListener()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = l
	s.server = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("rpc: listening on %s", l.Addr())
	if ready != nil {
		close(ready)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.log.Warning("rpc: error shutting down: %v", err)
		}
	}()

	err = srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the RPC bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.rpc.Close()
	s.server = nil
	return err
}
