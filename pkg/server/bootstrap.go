// Package server binds the listen targets, spawns the worker processes that share them and
// runs the gRPC server inside each worker.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/treeverse/vcsgate/pkg/logging"
	"golang.org/x/sync/errgroup"
)

var ErrNoListenURL = errors.New("no listen url")

// Bootstrap is the parent process: it binds every socket, hands them to the workers and
// relays termination signals.
type Bootstrap struct {
	Listen  []string
	Workers int
	// MetricsAddress is bound like a TCP target when set.
	MetricsAddress string
	Sharer         PortSharer
	Spawner        Spawner
	// Signals delivers the signals to forward to the workers; nil subscribes to SIGINT and
	// SIGTERM.
	Signals <-chan os.Signal
}

// worker is the set of sockets for one worker process.
type worker struct {
	files     []*os.File
	inherited []Inherited
}

func (w *worker) add(f *os.File, target Target, metrics bool) {
	w.inherited = append(w.inherited, Inherited{FD: firstInheritedFD + len(w.files), Target: target, Metrics: metrics})
	w.files = append(w.files, f)
}

// delegate leaves binding target to the worker process.
func (w *worker) delegate(target Target) {
	w.inherited = append(w.inherited, Inherited{Target: target})
}

func (w *worker) close() {
	for _, f := range w.files {
		_ = f.Close()
	}
	w.files = nil
}

func closeWorkers(workers []*worker) {
	for _, w := range workers {
		w.close()
	}
}

// Run binds, spawns and waits for every worker.  A worker that fails terminates the others.
func (b *Bootstrap) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	targets, err := ParseURLs(b.Listen)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrNoListenURL
	}
	count := max(b.Workers, 1)
	if count > 1 {
		for _, t := range targets {
			if t.Network == Unix {
				log.WithFields(logging.Fields{"target": t.String(), "workers": count}).
					Warn("Unix socket listen URL forces a single worker")
				count = 1
				break
			}
		}
	}

	workers, err := b.bind(ctx, targets, count)
	if err != nil {
		return err
	}

	signals := b.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	procs := make([]Process, 0, count)
	for i, w := range workers {
		env := []string{
			ListenersEnv + "=" + EncodeInherited(w.inherited),
			WorkerIDEnv + "=" + strconv.Itoa(i),
		}
		p, err := b.Spawner.Spawn(ctx, i, w.files, env)
		// the workers hold their own copies
		w.close()
		if err != nil {
			closeWorkers(workers[i+1:])
			return terminate(procs, err)
		}
		workersGauge.Inc()
		log.WithField(logging.WorkerFieldKey, i).Info("Worker started")
		procs = append(procs, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range procs {
		g.Go(func() error {
			defer workersGauge.Dec()
			err := p.Wait()
			log.WithField(logging.WorkerFieldKey, i).WithError(err).Info("Worker exited")
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-signals:
				log.WithField("signal", sig.String()).Info("Forwarding signal to workers")
				signalAll(procs, sig)
			case <-gctx.Done():
				signalAll(procs, syscall.SIGTERM)
				return
			case <-done:
				return
			}
		}
	}()
	err = g.Wait()
	close(done)
	return err
}

func signalAll(procs []Process, sig os.Signal) {
	for _, p := range procs {
		// a worker that already exited cannot be signaled
		_ = p.Signal(sig)
	}
}

// terminate stops the workers already spawned after a startup failure.
func terminate(procs []Process, cause error) error {
	result := multierror.Append(nil, cause)
	signalAll(procs, syscall.SIGTERM)
	for _, p := range procs {
		if err := p.Wait(); err != nil {
			result = multierror.Append(result, err)
		}
		workersGauge.Dec()
	}
	return result.ErrorOrNil()
}

// bind opens every TCP socket of every worker.  TCP targets get one socket per worker
// sharing the port; a port 0 is resolved by the first bind.  Unix targets go to worker 0
// unbound.
func (b *Bootstrap) bind(ctx context.Context, targets []Target, count int) ([]*worker, error) {
	workers := make([]*worker, count)
	for i := range workers {
		workers[i] = &worker{}
	}
	fail := func(err error) ([]*worker, error) {
		closeWorkers(workers)
		return nil, err
	}
	for _, t := range targets {
		if t.Network == Unix {
			workers[0].delegate(t)
			continue
		}
		files, address, err := b.bindShared(ctx, t.Address, count)
		if err != nil {
			return fail(err)
		}
		for i, f := range files {
			workers[i].add(f, Target{Network: TCP, Address: address}, false)
		}
	}
	if b.MetricsAddress != "" {
		files, address, err := b.bindShared(ctx, b.MetricsAddress, count)
		if err != nil {
			return fail(err)
		}
		for i, f := range files {
			workers[i].add(f, Target{Network: TCP, Address: address}, true)
		}
	}
	return workers, nil
}

func (b *Bootstrap) bindShared(ctx context.Context, address string, count int) ([]*os.File, string, error) {
	files := make([]*os.File, 0, count)
	fail := func(err error) ([]*os.File, string, error) {
		for _, f := range files {
			_ = f.Close()
		}
		return nil, "", err
	}
	for i := 0; i < count; i++ {
		l, err := b.Sharer.Listen(ctx, address)
		if err != nil {
			return fail(fmt.Errorf("bind %s: %w", address, err))
		}
		if i == 0 {
			address = l.Addr().String()
		}
		f, err := l.File()
		_ = l.Close()
		if err != nil {
			return fail(fmt.Errorf("bind %s: %w", address, err))
		}
		files = append(files, f)
	}
	return files, address, nil
}
