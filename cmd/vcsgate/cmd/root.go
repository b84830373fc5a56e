package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/treeverse/vcsgate/pkg/config"
	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/version"
)

const envPrefix = "VCSGATE"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "vcsgate",
	Short:   "vcsgate serves Mercurial repositories over the Gitaly gRPC protocol",
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var initOnce sync.Once

//nolint:gochecknoinits
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml, $HOME/.vcsgate/config.yaml or /etc/vcsgate/config.yaml)")
}

// loadConfig reads, validates and logs the configuration, exiting on failure.
func loadConfig() *config.Config {
	initOnce.Do(initConfig)
	logger := logging.Default().WithField("phase", "startup")
	cfg, err := config.NewConfig()
	if err != nil {
		logger.WithError(err).Fatal("Load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid config")
	}
	logger.WithFields(cfg.ToLoggerFields()).Info("Config loaded")
	return cfg
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	logger := logging.Default().WithField("phase", "startup")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join(getHomeDir(), ".vcsgate"))
		viper.AddConfigPath("/etc/vcsgate")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // support nested config
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	logger = logger.WithField("file", viper.ConfigFileUsed())
	var errFileNotFound viper.ConfigFileNotFoundError
	switch {
	case errors.As(err, &errFileNotFound):
		logger.Info("No config file, using defaults and environment")
	case err != nil:
		logger.WithError(err).Fatal("Failed to read config file")
	default:
		logger.Info("Configuration file")
	}
}

// watchLogLevel reloads the log level whenever the config file changes.
func watchLogLevel() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(in fsnotify.Event) {
		lvl := viper.GetString(config.LoggingLevelKey)
		logging.Default().WithFields(logging.Fields{"file": in.Name, "toLevel": lvl}).Info("Changing log level")
		logging.SetLevel(lvl)
	})
	viper.WatchConfig()
}

// getHomeDir find and return the home directory
func getHomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Println("Get home directory -", err)
		os.Exit(1)
	}
	return home
}
