//go:build windows

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/Microsoft/go-winio"
)

func TestPipePath(t *testing.T) {
	if got := pipePath("gridfetch"); got != `\\.\pipe\gridfetch` {
		t.Fatalf("pipePath = %q", got)
	}
	if got := pipePath(`\\.\pipe\custom`); got != `\\.\pipe\custom` {
		t.Fatalf("pipePath = %q", got)
	}
}

func TestServer_StartOnNamedPipe(t *testing.T) {
	env := newTestEnv(t)
	name := fmt.Sprintf("gridfetch-test-%d", time.Now().UnixNano())
	srv := NewServer(nil, env.rpc, "npipe:"+name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx, ready) }()

	select {
	case <-ready:
	case err := <-errc:
		t.Fatalf("Start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return winio.DialPipeContext(ctx, pipePath(name))
		},
	}}
	resp, err := client.Get("http://gridfetch/healthz")
	if err != nil {
		t.Fatalf("healthz over pipe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Start returned %v", err)
	}
}
