package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

const (
	// ListenersEnv tells a worker which inherited descriptor serves which target, as
	// comma separated "<fd>=<role>:<url>" entries.  A unix target the worker binds itself
	// carries "bind" in place of the descriptor.
	ListenersEnv = "VCSGATE_WORKER_LISTENERS"
	// WorkerIDEnv numbers the workers of one parent from 0.
	WorkerIDEnv = "VCSGATE_WORKER_ID"

	// firstInheritedFD is where exec places the first extra file.
	firstInheritedFD = 3

	bindMarker = "bind"

	roleGRPC    = "grpc"
	roleMetrics = "metrics"
)

var ErrInvalidListeners = errors.New("invalid inherited listeners")

// Inherited describes one socket passed to a worker.  FD 0 asks the worker to bind the
// unix target itself.
type Inherited struct {
	FD      int
	Target  Target
	Metrics bool
}

func (in Inherited) String() string {
	role := roleGRPC
	if in.Metrics {
		role = roleMetrics
	}
	fd := bindMarker
	if in.FD != 0 {
		fd = strconv.Itoa(in.FD)
	}
	return fd + "=" + role + ":" + in.Target.String()
}

func EncodeInherited(inherited []Inherited) string {
	parts := make([]string, 0, len(inherited))
	for _, in := range inherited {
		parts = append(parts, in.String())
	}
	return strings.Join(parts, ",")
}

func DecodeInherited(s string) ([]Inherited, error) {
	if s == "" {
		return nil, nil
	}
	var out []Inherited
	for _, entry := range strings.Split(s, ",") {
		fdPart, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%q: %w", entry, ErrInvalidListeners)
		}
		fd := 0
		if fdPart != bindMarker {
			n, err := strconv.Atoi(fdPart)
			if err != nil || n < firstInheritedFD {
				return nil, fmt.Errorf("%q: bad descriptor: %w", entry, ErrInvalidListeners)
			}
			fd = n
		}
		role, url, ok := strings.Cut(rest, ":")
		if !ok || (role != roleGRPC && role != roleMetrics) {
			return nil, fmt.Errorf("%q: bad role: %w", entry, ErrInvalidListeners)
		}
		target, err := ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", entry, err)
		}
		if fd == 0 && (target.Network != Unix || role != roleGRPC) {
			return nil, fmt.Errorf("%q: only unix targets are bound by the worker: %w", entry, ErrInvalidListeners)
		}
		out = append(out, Inherited{FD: fd, Target: target, Metrics: role == roleMetrics})
	}
	return out, nil
}

// Listeners turns the inherited descriptors back into listeners and binds the unix
// targets.  Any failure closes the listeners already recovered.
func Listeners(inherited []Inherited) (grpcListeners []net.Listener, metrics net.Listener, err error) {
	closeAll := func(cause error) error {
		result := multierror.Append(nil, cause)
		for _, l := range grpcListeners {
			if err := l.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if metrics != nil {
			if err := metrics.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	}
	for _, in := range inherited {
		if in.FD == 0 {
			l, err := bindUnix(in.Target.Address)
			if err != nil {
				return nil, nil, closeAll(err)
			}
			grpcListeners = append(grpcListeners, l)
			continue
		}
		f := os.NewFile(uintptr(in.FD), in.Target.String())
		if f == nil {
			return nil, nil, closeAll(fmt.Errorf("fd %d: %w", in.FD, ErrInvalidListeners))
		}
		l, err := net.FileListener(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, closeAll(fmt.Errorf("listener %s: %w", in, err))
		}
		if in.Metrics {
			metrics = l
		} else {
			grpcListeners = append(grpcListeners, l)
		}
	}
	return grpcListeners, metrics, nil
}

// bindUnix listens on path, replacing a stale socket left by a previous run.
func bindUnix(path string) (net.Listener, error) {
	if info, err := os.Stat(path); err == nil && info.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", path, err)
	}
	return l, nil
}
