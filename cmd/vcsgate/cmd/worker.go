package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/treeverse/vcsgate/pkg/cache"
	"github.com/treeverse/vcsgate/pkg/config"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/server"
	"github.com/treeverse/vcsgate/pkg/service"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"github.com/treeverse/vcsgate/pkg/vcs/hgcli"
	"github.com/treeverse/vcsgate/pkg/vcs/mem"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve the sockets inherited from run",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.Default()
		defer func() { _ = logging.CloseWriters() }()
		watchLogLevel()

		workerCfg, err := newWorkerConfig(cfg)
		if err != nil {
			logger.WithError(err).Fatal("Worker config")
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := server.RunWorker(ctx, workerCfg, os.Getenv); err != nil {
			logger.WithError(err).Fatal("Worker failed")
		}
	},
}

func newEngine(cfg *config.Config) (vcs.Engine, error) {
	switch cfg.Engine.Type {
	case config.EngineTypeHG:
		return hgcli.NewEngine(cfg.Engine.HG.Binary), nil
	case config.EngineTypeMem:
		return mem.NewEngine(), nil
	}
	return nil, fmt.Errorf("%w: engine %q", config.ErrInvalidValue, cfg.Engine.Type)
}

func newWorkerConfig(cfg *config.Config) (server.WorkerConfig, error) {
	engine, err := newEngine(cfg)
	if err != nil {
		return server.WorkerConfig{}, err
	}
	var stateCache cache.Cache
	if cfg.State.CacheSize > 0 {
		stateCache, err = cache.NewCache(cache.Params{
			Name:     "state",
			Size:     cfg.State.CacheSize,
			Expiry:   cfg.State.CacheExpiry,
			JitterFn: cache.NewJitterFn(cfg.State.CacheJitter),
		})
		if err != nil {
			return server.WorkerConfig{}, fmt.Errorf("state cache: %w", err)
		}
	}
	return server.WorkerConfig{
		Service: service.Config{
			Storages:         cfg.Storages,
			Engine:           engine,
			StateCache:       stateCache,
			RenameSimilarity: cfg.Diff.RenameSimilarity,
			BlockSize:        cfg.Stream.BlockSize,
		},
		PoolSize:       cfg.Server.PoolSize,
		MaxRecvMsgSize: cfg.Server.MaxRecvMsgSize,
	}, nil
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(workerCmd)
}
