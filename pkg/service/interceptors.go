package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/treeverse/vcsgate/pkg/logging"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const callEndedMessage = "RPC call ended"

// wrappedStream replaces the context of a server stream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func callContext(ctx context.Context, method string) context.Context {
	return logging.AddFields(ctx, logging.Fields{
		logging.RPCFieldKey:       method,
		logging.RequestIDFieldKey: uuid.New().String(),
	})
}

func observe(ctx context.Context, method string, start time.Time, err error) {
	code := status.Code(err)
	took := time.Since(start)
	requestCounter.WithLabelValues(method, code.String()).Inc()
	requestHistograms.WithLabelValues(method, code.String()).Observe(took.Seconds())
	log := logging.FromContext(ctx).WithFields(logging.Fields{
		"took": took,
		"code": code.String(),
	})
	if err != nil {
		log = log.WithError(err)
	}
	log.Debug(callEndedMessage)
}

// UnaryLogging adds the call fields to the context, then logs and measures every call.
func UnaryLogging() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		ctx = callContext(ctx, info.FullMethod)
		resp, err := handler(ctx, req)
		observe(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

func StreamLogging() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx := callContext(ss.Context(), info.FullMethod)
		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		observe(ctx, info.FullMethod, start, err)
		return err
	}
}

// Pool bounds the number of calls handled at once.  Calls over the bound wait for a slot
// until their context ends; they are never rejected.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) acquire(ctx context.Context) error {
	poolWaiting.Inc()
	defer poolWaiting.Dec()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return toStatus(ctx, err)
	}
	return nil
}

func (p *Pool) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := p.acquire(ctx); err != nil {
			return nil, err
		}
		defer p.sem.Release(1)
		return handler(ctx, req)
	}
}

func (p *Pool) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := p.acquire(ss.Context()); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return handler(srv, ss)
	}
}

// ServerOptions returns the interceptor chain of a worker server: logging and metrics
// outermost, then the pool.
func ServerOptions(pool *Pool) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryLogging(), pool.Unary()),
		grpc.ChainStreamInterceptor(StreamLogging(), pool.Stream()),
	}
}
