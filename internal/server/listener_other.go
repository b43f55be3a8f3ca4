//go:build !windows

package server

import "net"

func listenPipe(string) (net.Listener, error) {
	return nil, errPipeUnsupported
}
