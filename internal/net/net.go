package net

import (
	"fmt"
	"net"
)

// ListenLoopback opens a TCP listener bound to 127.0.0.1. Port 0 selects an
// ephemeral port; read the chosen one back from the listener's Addr.
func ListenLoopback(port int) (*net.TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("resolving loopback address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return listener, nil
}

// DialLoopback connects to 127.0.0.1 on the given port.
func DialLoopback(port int) (net.Conn, error) {
	return net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}
