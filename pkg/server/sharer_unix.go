//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package server

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReusePort binds with SO_REUSEPORT and checks the option actually took.
type ReusePort struct{}

func (ReusePort) Listen(ctx context.Context, address string) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: controlReusePort}
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return l.(*net.TCPListener), nil
}

func controlReusePort(_, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); sockErr != nil {
			return
		}
		var v int
		v, sockErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT)
		if sockErr == nil && v == 0 {
			sockErr = fmt.Errorf("%s: %w", address, ErrReusePortIgnored)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
