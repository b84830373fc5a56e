package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bind the listen URLs and run the worker processes",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.Default()
		defer func() { _ = logging.CloseWriters() }()
		watchLogLevel()

		workerArgs := []string{workerCmd.Name()}
		if cfgFile != "" {
			workerArgs = append(workerArgs, "--config", cfgFile)
		}
		spawner, err := server.NewExecSpawner(workerArgs...)
		if err != nil {
			logger.WithError(err).Fatal("Worker executable")
		}
		b := &server.Bootstrap{
			Listen:         cfg.Listen,
			Workers:        cfg.Workers,
			MetricsAddress: cfg.Metrics.ListenAddress,
			Sharer:         server.ReusePort{},
			Spawner:        spawner,
		}
		if err := b.Run(context.Background()); err != nil {
			logger.WithError(err).Fatal("Server stopped")
		}
		logger.Info("Server stopped")
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
