package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/mrz1836/go-sanitize"
)

// Environment variable names.
const (
	EnvHome          = "NONCER_HOME"
	EnvRPC           = "NONCER_RPC"
	EnvChainID       = "NONCER_CHAIN_ID"
	EnvStoreBackend  = "NONCER_STORE"
	EnvRedisAddr     = "NONCER_REDIS_ADDR"
	EnvRedisPassword = "NONCER_REDIS_PASSWORD" // #nosec G101 -- false positive, this is a const name not a credential
	EnvKey           = "NONCER_KEY"
	EnvKeyFile       = "NONCER_KEY_FILE"
	EnvKeyFormat     = "NONCER_KEY_FORMAT"
	EnvPassphrase    = "NONCER_PASSPHRASE" // #nosec G101 -- false positive, this is a const name not a credential
	EnvOutputFormat  = "NONCER_OUTPUT_FORMAT"
	EnvVerbose       = "NONCER_VERBOSE"
	EnvLogLevel      = "NONCER_LOG_LEVEL"
	EnvMetricsListen = "NONCER_METRICS_LISTEN"
	EnvNoColor       = "NO_COLOR"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
// NONCER_KEY and NONCER_PASSPHRASE are secrets and are read where they are used,
// never copied into the config struct.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvRPC); v != "" {
		cfg.Chain.RPC = SanitizeURL(v)
	}

	if v := os.Getenv(EnvChainID); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && id > 0 {
			cfg.Chain.ChainID = id
		}
	}

	if v := os.Getenv(EnvStoreBackend); v != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Store.Addr = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Store.Password = v
	}

	if v := os.Getenv(EnvKeyFile); v != "" {
		cfg.Signer.KeyFile = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvKeyFormat); v != "" {
		cfg.Signer.KeyFormat = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvMetricsListen); v != "" {
		cfg.Metrics.Listen = strings.TrimSpace(v)
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// SanitizeURL cleans a URL string by removing characters not allowed in a URL
// and trimming whitespace left behind by copy-paste.
func SanitizeURL(url string) string {
	return sanitize.URL(strings.TrimSpace(url))
}
