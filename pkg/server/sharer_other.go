//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package server

import (
	"context"
	"fmt"
	"net"
)

type ReusePort struct{}

func (ReusePort) Listen(_ context.Context, address string) (*net.TCPListener, error) {
	return nil, fmt.Errorf("%s: %w", address, ErrReusePortUnsupported)
}
