//go:build !linux

package transport

import (
	"net"
)

// TCP_USER_TIMEOUT is Linux-only; elsewhere TCPTimeout is ignored
func tuneTCP(conn net.Conn, config Config) error {
	return nil
}
