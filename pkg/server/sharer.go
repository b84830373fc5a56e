package server

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrReusePortIgnored is returned when the kernel accepted SO_REUSEPORT but reads it back
	// unset: the workers could not share the port.
	ErrReusePortIgnored     = errors.New("SO_REUSEPORT ignored by the kernel")
	ErrReusePortUnsupported = errors.New("SO_REUSEPORT not supported on this platform")
)

// PortSharer binds TCP sockets that several processes can accept on at once.
type PortSharer interface {
	Listen(ctx context.Context, address string) (*net.TCPListener, error)
}
