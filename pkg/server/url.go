package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	DefaultPort = "9237"

	tcpScheme  = "tcp://"
	unixScheme = "unix:"
)

var ErrInvalidURL = errors.New("invalid listen url")

type Network string

const (
	TCP  Network = "tcp"
	Unix Network = "unix"
)

// Target is a parsed listen URL.
type Target struct {
	Network Network
	// Address is host:port for TCP and a filesystem path for Unix.
	Address string
}

func (t Target) String() string {
	if t.Network == Unix {
		return unixScheme + t.Address
	}
	return tcpScheme + t.Address
}

// ParseURL parses "tcp://host[:port]" (port 9237 by default) or "unix:path".
func ParseURL(s string) (Target, error) {
	switch {
	case strings.HasPrefix(s, tcpScheme):
		hostport := strings.TrimSuffix(strings.TrimPrefix(s, tcpScheme), "/")
		if hostport == "" || strings.ContainsAny(hostport, "/?#") {
			return Target{}, fmt.Errorf("%s: %w", s, ErrInvalidURL)
		}
		host, port, err := net.SplitHostPort(hostport)
		if err != nil {
			// no port
			host, port = strings.TrimSuffix(strings.TrimPrefix(hostport, "["), "]"), DefaultPort
			if strings.ContainsAny(host, "[]") {
				return Target{}, fmt.Errorf("%s: %w", s, ErrInvalidURL)
			}
		}
		if port == "" {
			port = DefaultPort
		}
		return Target{Network: TCP, Address: net.JoinHostPort(host, port)}, nil
	case strings.HasPrefix(s, unixScheme):
		path := strings.TrimPrefix(strings.TrimPrefix(s, unixScheme), "//")
		if path == "" {
			return Target{}, fmt.Errorf("%s: %w", s, ErrInvalidURL)
		}
		return Target{Network: Unix, Address: path}, nil
	}
	return Target{}, fmt.Errorf("%s: %w", s, ErrInvalidURL)
}

// ParseURLs parses every URL, failing on the first invalid one.
func ParseURLs(urls []string) ([]Target, error) {
	targets := make([]Target, 0, len(urls))
	for _, u := range urls {
		t, err := ParseURL(u)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
