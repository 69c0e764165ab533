package transport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func tuneTCP(conn net.Conn, config Config) error {
	if config.TCPTimeout != 0 {
		if err := setTCPOption(conn, unix.TCP_USER_TIMEOUT, int(config.TCPTimeout/time.Millisecond)); err != nil {
			return fmt.Errorf("failed to tune TCP socket: %w", err)
		}
	}

	return nil
}

func setTCPOption(conn net.Conn, option, value int) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, option, value)
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}

	return nil
}
