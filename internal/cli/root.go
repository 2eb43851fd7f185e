// Package cli implements the noncer command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

var (
	// Global flags
	homeDir       string
	outputFormat  string
	verbose       bool
	storeBackend  string
	keyFile       string
	keyFormat     string
	keyIndex      uint32
	metricsListen string

	// Global state initialized in PersistentPreRunE
	cfg       *config.Config
	logger    *config.Logger
	formatter *output.Formatter
	exporter  *metricsExporter
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "noncer",
	Short: "Coordinated nonces for a signing key shared by many processes",
	Long: `Noncer hands out transaction nonces for one Ethereum address to every
process that signs with its key. Processes share a counter in Redis and each
keeps the chain's pending count as a local baseline, so concurrent senders
never submit the same nonce.

Example:
  noncer address
  noncer nonce show
  noncer send --to 0x... --value 0.1 --gas-price 20
  noncer nonce set 42`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initGlobals(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// Format and print error
		if formatter != nil {
			_ = output.FormatError(os.Stderr, err, formatter.Format())
		} else {
			_ = output.FormatError(os.Stderr, err, output.FormatText)
		}
		cleanup()
		return err
	}
	return nil
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return noncererr.ExitCode(err)
}

// initGlobals initializes global configuration, logger, and formatter.
func initGlobals(cmd *cobra.Command) error {
	// Determine home directory
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	// Load config, using defaults if it doesn't exist
	var err error
	cfg, err = config.Load(config.Path(home))
	if err != nil {
		if !noncererr.Is(err, noncererr.ErrConfigNotFound) {
			return err
		}
		cfg = config.Defaults()
		cfg.Home = home
	}

	config.ApplyEnvironment(cfg)

	// Override with command-line flags
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if verbose {
		cfg.Output.Verbose = true
		cfg.Logging.Level = "debug"
	}
	if outputFormat != "" && outputFormat != "auto" {
		cfg.Output.DefaultFormat = outputFormat
	}
	if storeBackend != "" {
		cfg.Store.Backend = strings.ToLower(strings.TrimSpace(storeBackend))
	}
	if keyFile != "" {
		cfg.Signer.KeyFile = keyFile
	}
	if keyFormat != "" {
		cfg.Signer.KeyFormat = strings.ToLower(strings.TrimSpace(keyFormat))
	}
	if cmd.Flags().Changed("index") {
		cfg.Signer.DerivationIndex = keyIndex
	}
	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}

	logger, err = config.NewLogger(config.ParseLogLevel(cfg.Logging.Level), cfg.Logging.File)
	if err != nil {
		// Use null logger if we can't create the file
		logger = config.NullLogger()
	}
	logger.SetJSONOutput(cfg.Logging.JSON)

	formatter = output.NewFormatter(output.ParseFormat(cfg.Output.DefaultFormat), cmd.OutOrStdout())

	if cfg.Metrics.Listen != "" {
		exporter, err = startMetricsExporter(cfg.Metrics.Listen)
		if err != nil {
			return err
		}
		logger.Debug("serving metrics on %s", exporter.Addr())
	}

	return nil
}

// cleanup releases resources.
func cleanup() {
	if exporter != nil {
		_ = exporter.Close()
		exporter = nil
	}
	if logger != nil {
		_ = logger.Close()
	}
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() *config.Logger {
	return logger
}

// Formatter returns the global output formatter.
func Formatter() *output.Formatter {
	return formatter
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&homeDir, "home", "", "noncer data directory (default: ~/.noncer)")
	flags.StringVarP(&outputFormat, "output", "o", "auto", "output format: text, json, auto")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&storeBackend, "store", "", "counter store backend: redis, memory")
	flags.StringVar(&keyFile, "key-file", "", "signing key file (hex, mnemonic or age)")
	flags.StringVar(&keyFormat, "key-format", "", "signing key format: hex, mnemonic, age")
	flags.Uint32Var(&keyIndex, "index", 0, "address index under m/44'/60'/0'/0 for mnemonic keys")
	flags.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while the command runs")
}
