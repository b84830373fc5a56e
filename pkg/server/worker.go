package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/service"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	DefaultPoolSize       = 4
	DefaultMaxRecvMsgSize = 16 << 20

	metricsShutdownTimeout = 5 * time.Second
)

var ErrNoListeners = errors.New("worker has no listeners")

type WorkerConfig struct {
	Service service.Config
	// PoolSize bounds the calls executing concurrently in one worker.
	PoolSize       int
	MaxRecvMsgSize int
}

// Worker is one gRPC server process.
type Worker struct {
	grpc *grpc.Server
}

func NewWorker(cfg WorkerConfig) *Worker {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	maxRecv := cfg.MaxRecvMsgSize
	if maxRecv <= 0 {
		maxRecv = DefaultMaxRecvMsgSize
	}
	opts := []grpc.ServerOption{grpc.MaxRecvMsgSize(maxRecv)}
	opts = append(opts, service.ServerOptions(service.NewPool(poolSize))...)
	srv := grpc.NewServer(opts...)
	service.New(cfg.Service).Register(srv)
	return &Worker{grpc: srv}
}

// Serve serves gRPC on every listener, and metrics on the metrics listener when it is not
// nil, until ctx is done.  In-flight calls are not drained: their streams are closed and
// clients see the call fail.
func (w *Worker) Serve(ctx context.Context, listeners []net.Listener, metrics net.Listener) error {
	if len(listeners) == 0 {
		return ErrNoListeners
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			if err := w.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve %s: %w", l.Addr(), err)
			}
			return nil
		})
	}
	var metricsServer *http.Server
	if metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: metricsShutdownTimeout}
		g.Go(func() error {
			if err := metricsServer.Serve(metrics); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.FromContext(ctx).Info("Shutting down worker")
		w.grpc.Stop()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}

// RunWorker recovers the sockets passed by the bootstrap process through env and serves
// them until ctx is done.
func RunWorker(ctx context.Context, cfg WorkerConfig, getenv func(string) string) error {
	inherited, err := DecodeInherited(getenv(ListenersEnv))
	if err != nil {
		return err
	}
	id, _ := strconv.Atoi(getenv(WorkerIDEnv))
	ctx = logging.AddFields(ctx, logging.Fields{
		logging.WorkerFieldKey: id,
		logging.PIDFieldKey:    os.Getpid(),
	})
	listeners, metrics, err := Listeners(inherited)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).WithField("listeners", EncodeInherited(inherited)).Info("Worker serving")
	return NewWorker(cfg).Serve(ctx, listeners, metrics)
}
