package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Listen address prefixes selecting a local transport instead of TCP.
const (
	unixPrefix = "unix:"
	pipePrefix = "npipe:"
)

var errPipeUnsupported = errors.New("named pipes are only supported on windows")

// parseListenAddr splits addr into a network and an address. Plain
// host:port addresses are TCP.
func parseListenAddr(addr string) (network, address string) {
	switch {
	case strings.HasPrefix(addr, unixPrefix):
		return "unix", strings.TrimPrefix(addr, unixPrefix)
	case strings.HasPrefix(addr, pipePrefix):
		return "npipe", strings.TrimPrefix(addr, pipePrefix)
	default:
		return "tcp", addr
	}
}

// createListener listens on s.addr: a unix socket for unix:PATH, a
// restricted named pipe for npipe:NAME, TCP otherwise.
func (s *Server) createListener() (net.Listener, error) {
	network, address := parseListenAddr(s.addr)
	if address == "" {
		return nil, fmt.Errorf("error listening: empty %s address", network)
	}
	switch network {
	case "unix":
		return listenUnix(address)
	case "npipe":
		return listenPipe(address)
	}
	return net.Listen("tcp", address)
}

// listenUnix removes a stale socket at path and listens on a fresh one
// readable only by its owner.
func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("error listening: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("error listening: %w", err)
	}
	return l, nil
}
