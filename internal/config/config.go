// Package config provides configuration management for noncer.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mrz1836/noncer/internal/fileutil"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Key formats understood by signer.key_format.
const (
	KeyFormatAuto     = ""
	KeyFormatHex      = "hex"
	KeyFormatAge      = "age"
	KeyFormatMnemonic = "mnemonic"
)

// Config represents the application configuration.
type Config struct {
	Version int           `yaml:"version"`
	Home    string        `yaml:"home"`
	Chain   ChainConfig   `yaml:"chain"`
	Store   StoreConfig   `yaml:"store"`
	Signer  SignerConfig  `yaml:"signer"`
	Metrics MetricsConfig `yaml:"metrics"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// ChainConfig defines the Ethereum JSON-RPC endpoint used as the chain nonce source.
type ChainConfig struct {
	RPC            string  `yaml:"rpc"`
	ChainID        int64   `yaml:"chain_id"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
}

// StoreConfig defines the remote counter store.
type StoreConfig struct {
	Backend            string `yaml:"backend"`
	Addr               string `yaml:"addr"`
	Password           string `yaml:"password,omitempty"`
	DB                 int    `yaml:"db"`
	PoolSize           int    `yaml:"pool_size"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
	IOTimeoutSeconds   int    `yaml:"io_timeout_seconds"`
}

// SignerConfig defines where the shared signing key comes from.
type SignerConfig struct {
	KeyFile         string `yaml:"key_file"`
	KeyFormat       string `yaml:"key_format"`
	DerivationIndex uint32 `yaml:"derivation_index"`
}

// MetricsConfig defines the optional Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from the specified file.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, noncererr.WithCause(noncererr.ErrConfigNotFound, err)
		}
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, noncererr.WithCause(noncererr.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fileutil.WriteAtomic(path, data, 0o600)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// Validate checks the configuration for values the allocator cannot run with.
func (c *Config) Validate() error {
	invalid := func(field, reason string) error {
		return noncererr.WithDetails(noncererr.ErrConfigInvalid, map[string]string{
			"field":  field,
			"reason": reason,
		})
	}

	switch c.Store.Backend {
	case StoreRedis:
		if strings.TrimSpace(c.Store.Addr) == "" {
			return invalid("store.addr", "required for the redis backend")
		}
	case StoreMemory:
	default:
		return invalid("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}

	if strings.TrimSpace(c.Chain.RPC) == "" {
		return invalid("chain.rpc", "required")
	}
	if c.Chain.ChainID < 0 {
		return noncererr.WithDetails(noncererr.ErrInvalidChainID, map[string]string{
			"field":  "chain.chain_id",
			"reason": "must not be negative",
		})
	}
	if c.Chain.RatePerSecond < 0 || c.Chain.Burst < 0 {
		return invalid("chain.rate_per_second", "rate and burst must not be negative")
	}

	switch c.Signer.KeyFormat {
	case KeyFormatAuto, KeyFormatHex, KeyFormatAge, KeyFormatMnemonic:
	default:
		return invalid("signer.key_format", fmt.Sprintf("unknown format %q", c.Signer.KeyFormat))
	}

	return nil
}

// ChainTimeout returns the per-call chain RPC timeout.
func (c *Config) ChainTimeout() time.Duration {
	return time.Duration(c.Chain.TimeoutSeconds) * time.Second
}

// GetHome returns the noncer home directory path.
func (c *Config) GetHome() string {
	return c.Home
}

// GetRPC returns the Ethereum RPC URL.
func (c *Config) GetRPC() string {
	return c.Chain.RPC
}

// GetStoreAddr returns the remote counter store address.
func (c *Config) GetStoreAddr() string {
	return c.Store.Addr
}

// GetLoggingLevel returns the configured logging level.
func (c *Config) GetLoggingLevel() string {
	return c.Logging.Level
}

// GetLoggingFile returns the configured log file path.
func (c *Config) GetLoggingFile() string {
	return c.Logging.File
}

// GetOutputFormat returns the default output format.
func (c *Config) GetOutputFormat() string {
	return c.Output.DefaultFormat
}

// IsVerbose returns true if verbose output is enabled.
func (c *Config) IsVerbose() bool {
	return c.Output.Verbose
}

// DefaultHome returns the default noncer home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".noncer"
	}
	return filepath.Join(home, ".noncer")
}
