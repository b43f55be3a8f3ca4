//go:build windows

package server

import (
	"fmt"
	"net"
	"strings"

	"github.com/Microsoft/go-winio"
)

// pipeSecurityDescriptor restricts pipe access to SYSTEM, built-in
// Administrators and the creator owner.
const pipeSecurityDescriptor = "D:(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;CO)"

// pipePath turns a bare pipe name into \\.\pipe\name.
func pipePath(name string) string {
	if strings.HasPrefix(name, `\\`) {
		return name
	}
	return `\\.\pipe\` + name
}

func listenPipe(name string) (net.Listener, error) {
	l, err := winio.ListenPipe(pipePath(name), &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
	})
	if err != nil {
		return nil, fmt.Errorf("error listening: %w", err)
	}
	return l, nil
}
