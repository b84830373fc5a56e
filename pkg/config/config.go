// Package config loads the server configuration from viper: a YAML file, VCSGATE_*
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/treeverse/vcsgate/pkg/logging"
)

const (
	DefaultListen  = "tcp://0.0.0.0:9237"
	DefaultWorkers = 1

	EngineTypeHG  = "hg"
	EngineTypeMem = "mem"

	DefaultEngineType = EngineTypeHG
	DefaultHGBinary   = "hg"

	DefaultServerPoolSize       = 4
	DefaultServerMaxRecvMsgSize = 16 << 20

	DefaultDiffRenameSimilarity = 50

	DefaultStateCacheSize   = 1024
	DefaultStateCacheExpiry = 5 * time.Second
	DefaultStateCacheJitter = time.Second
)

var (
	ErrBadConfiguration    = errors.New("bad configuration")
	ErrMissingRequiredKeys = fmt.Errorf("%w: missing required keys", ErrBadConfiguration)
	ErrInvalidValue        = fmt.Errorf("%w: invalid value", ErrBadConfiguration)
)

type Config struct {
	// Listen is the list of tcp://host[:port] and unix:path URLs to serve on.
	Listen  Strings `mapstructure:"listen" validate:"required"`
	Workers int     `mapstructure:"workers"`
	// Storages maps a storage name to its root directory.
	Storages map[string]string `mapstructure:"storages" validate:"required"`
	Engine   struct {
		Type string `mapstructure:"type"`
		HG   struct {
			Binary string `mapstructure:"binary"`
		} `mapstructure:"hg"`
	} `mapstructure:"engine"`
	Server struct {
		PoolSize       int `mapstructure:"pool_size"`
		MaxRecvMsgSize int `mapstructure:"max_recv_msg_size"`
	} `mapstructure:"server"`
	Diff struct {
		RenameSimilarity int `mapstructure:"rename_similarity"`
	} `mapstructure:"diff"`
	State struct {
		CacheSize   int           `mapstructure:"cache_size"`
		CacheExpiry time.Duration `mapstructure:"cache_expiry"`
		CacheJitter time.Duration `mapstructure:"cache_jitter"`
	} `mapstructure:"state"`
	Stream struct {
		// BlockSize of 0 falls back to VCSGATE_STREAM_BLOCK_SIZE, then to the built in default.
		BlockSize int `mapstructure:"block_size"`
	} `mapstructure:"stream"`
	Metrics struct {
		ListenAddress string `mapstructure:"listen_address"`
	} `mapstructure:"metrics"`
	Logging struct {
		Format        string  `mapstructure:"format"`
		Level         string  `mapstructure:"level"`
		Output        Strings `mapstructure:"output"`
		FileMaxSizeMB int     `mapstructure:"file_max_size_mb"`
		FilesKeep     int     `mapstructure:"files_keep"`
	} `mapstructure:"logging"`
}

// NewConfig decodes the current viper state and sets up logging from it.
func NewConfig() (*Config, error) {
	c := &Config{}

	// Register every key so that environment variables for keys missing from the file bind.
	for _, key := range GetStructKeys(reflect.TypeOf(c), "mapstructure", "squash") {
		viper.SetDefault(key, nil)
	}
	setDefaults()

	err := viper.UnmarshalExact(c, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			DecodeStrings, mapstructure.StringToTimeDurationHookFunc())))
	if err != nil {
		return nil, err
	}
	for name, root := range c.Storages {
		expanded, err := homedir.Expand(root)
		if err != nil {
			return nil, fmt.Errorf("storage %s root %s: %w", name, root, err)
		}
		c.Storages[name] = expanded
	}
	if err := setupLogger(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Default flag keys
const (
	ListenKey  = "listen"
	WorkersKey = "workers"

	EngineTypeKey     = "engine.type"
	EngineHGBinaryKey = "engine.hg.binary"

	ServerPoolSizeKey       = "server.pool_size"
	ServerMaxRecvMsgSizeKey = "server.max_recv_msg_size"

	DiffRenameSimilarityKey = "diff.rename_similarity"

	StateCacheSizeKey   = "state.cache_size"
	StateCacheExpiryKey = "state.cache_expiry"
	StateCacheJitterKey = "state.cache_jitter"

	LoggingFormatKey        = "logging.format"
	LoggingLevelKey         = "logging.level"
	LoggingOutputKey        = "logging.output"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	LoggingFilesKeepKey     = "logging.files_keep"
)

func setDefaults() {
	viper.SetDefault(ListenKey, DefaultListen)
	viper.SetDefault(WorkersKey, DefaultWorkers)

	viper.SetDefault(EngineTypeKey, DefaultEngineType)
	viper.SetDefault(EngineHGBinaryKey, DefaultHGBinary)

	viper.SetDefault(ServerPoolSizeKey, DefaultServerPoolSize)
	viper.SetDefault(ServerMaxRecvMsgSizeKey, DefaultServerMaxRecvMsgSize)

	viper.SetDefault(DiffRenameSimilarityKey, DefaultDiffRenameSimilarity)

	viper.SetDefault(StateCacheSizeKey, DefaultStateCacheSize)
	viper.SetDefault(StateCacheExpiryKey, DefaultStateCacheExpiry)
	viper.SetDefault(StateCacheJitterKey, DefaultStateCacheJitter)

	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)
	viper.SetDefault(LoggingFileMaxSizeMBKey, DefaultLoggingFileMaxSizeMB)
	viper.SetDefault(LoggingFilesKeepKey, DefaultLoggingFilesKeep)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if missing := ValidateMissingRequiredKeys(c, "mapstructure", "squash"); len(missing) > 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %v", ErrMissingRequiredKeys, missing))
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidValue, WorkersKey, c.Workers))
	}
	if !slices.Contains([]string{EngineTypeHG, EngineTypeMem}, c.Engine.Type) {
		result = multierror.Append(result, fmt.Errorf("%w: %s %q", ErrInvalidValue, EngineTypeKey, c.Engine.Type))
	}
	if c.Server.PoolSize < 1 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidValue, ServerPoolSizeKey, c.Server.PoolSize))
	}
	if c.Diff.RenameSimilarity < 0 || c.Diff.RenameSimilarity > 100 {
		result = multierror.Append(result, fmt.Errorf("%w: %s must be within 0..100, got %d", ErrInvalidValue, DiffRenameSimilarityKey, c.Diff.RenameSimilarity))
	}
	if c.State.CacheSize < 0 {
		result = multierror.Append(result, fmt.Errorf("%w: %s is negative", ErrInvalidValue, StateCacheSizeKey))
	}
	for name, root := range c.Storages {
		if root == "" {
			result = multierror.Append(result, fmt.Errorf("%w: storage %s has no root", ErrInvalidValue, name))
		}
	}
	return result.ErrorOrNil()
}

// ToLoggerFields flattens the configuration for a startup log line.
func (c *Config) ToLoggerFields() logging.Fields {
	return logging.Fields{
		ListenKey:                []string(c.Listen),
		WorkersKey:               c.Workers,
		"storages":               c.Storages,
		EngineTypeKey:            c.Engine.Type,
		ServerPoolSizeKey:        c.Server.PoolSize,
		DiffRenameSimilarityKey:  c.Diff.RenameSimilarity,
		StateCacheSizeKey:        c.State.CacheSize,
		"stream.block_size":      c.Stream.BlockSize,
		"metrics.listen_address": c.Metrics.ListenAddress,
		LoggingLevelKey:          c.Logging.Level,
	}
}
