package cli

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/chain/eth"
	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/counter"
	"github.com/mrz1836/noncer/internal/keys"
	"github.com/mrz1836/noncer/internal/metrics"
	"github.com/mrz1836/noncer/internal/nonce"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// defaultCommandTimeout bounds a command when no chain timeout is configured.
const defaultCommandTimeout = 60 * time.Second

// stack is the allocator and everything it was built from.
type stack struct {
	allocator *nonce.Allocator
	signer    *eth.LocalSigner
	source    *eth.Source
	store     counter.Store
}

// openStack builds the allocator described by the global configuration.
// Nothing is dialed until the first operation needs it.
func openStack() (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := loadSigningKey()
	if err != nil {
		return nil, err
	}

	opts := &eth.SourceOptions{Timeout: cfg.ChainTimeout()}
	if cfg.Chain.ChainID > 0 {
		opts.ChainID = big.NewInt(cfg.Chain.ChainID)
	}
	source, err := eth.NewSource(cfg.Chain.RPC, opts)
	if err != nil {
		return nil, err
	}

	signer, err := eth.NewLocalSigner(key, source)
	if err != nil {
		source.Close()
		return nil, err
	}

	store := newStore(cfg.Store)

	limiter := chain.NewRateLimiter(cfg.Chain.RatePerSecond, cfg.Chain.Burst)
	allocator, err := nonce.New(signer, store,
		nonce.WithNonceSource(chain.NewLimitedSource(source, limiter)),
		nonce.WithLogger(logger),
		nonce.WithMetrics(metrics.Global),
	)
	if err != nil {
		_ = store.Close()
		source.Close()
		return nil, err
	}

	logger.Debug("allocator for %s using %s store and %s", signer.Address().Hex(), cfg.Store.Backend, cfg.Chain.RPC)
	return &stack{allocator: allocator, signer: signer, source: source, store: store}, nil
}

// Close releases the store and chain connections.
func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		logger.Error("closing counter store: %v", err)
	}
	s.source.Close()
}

func newStore(sc config.StoreConfig) counter.Store {
	if sc.Backend == config.StoreMemory {
		return counter.NewMemoryStore()
	}
	return counter.NewRedisStore(counter.RedisOptions{
		Addr:         sc.Addr,
		Password:     sc.Password,
		DB:           sc.DB,
		PoolSize:     sc.PoolSize,
		DialTimeout:  time.Duration(sc.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(sc.IOTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(sc.IOTimeoutSeconds) * time.Second,
	})
}

// loadSigningKey reads the key from NONCER_KEY or the configured key file.
// Age files are decrypted with NONCER_PASSPHRASE or a prompted passphrase.
func loadSigningKey() (*ecdsa.PrivateKey, error) {
	src := keys.Source{
		Value:  os.Getenv(config.EnvKey),
		Format: cfg.Signer.KeyFormat,
		Index:  cfg.Signer.DerivationIndex,
	}
	if cfg.Signer.KeyFile != "" {
		path, err := config.ExpandHome(cfg.Signer.KeyFile)
		if err != nil {
			return nil, err
		}
		src.File = path
	}
	if src.Value == "" && src.File == "" {
		return nil, noncererr.WithSuggestion(noncererr.ErrKeyRequired,
			"set NONCER_KEY, pass --key-file, or set signer.key_file in the config")
	}

	needsPassphrase, err := isAgeSource(src)
	if err != nil {
		return nil, err
	}
	if needsPassphrase {
		passphrase, err := readPassphrase()
		if err != nil {
			return nil, err
		}
		src.Passphrase = passphrase
	}

	return keys.Load(src)
}

func isAgeSource(src keys.Source) (bool, error) {
	switch src.Format {
	case config.KeyFormatAge:
		return true, nil
	case config.KeyFormatAuto:
	default:
		return false, nil
	}
	if src.File == "" {
		return keys.IsAgeFile([]byte(src.Value)), nil
	}

	// #nosec G304 -- key file path is from validated user input
	f, err := os.Open(src.File)
	if err != nil {
		return false, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrNotFound, err), map[string]string{
			"file": src.File,
		})
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 64)
	n, _ := f.Read(header)
	return keys.IsAgeFile(header[:n]), nil
}

func readPassphrase() (string, error) {
	if v, ok := os.LookupEnv(config.EnvPassphrase); ok {
		return v, nil
	}
	pw, err := promptPasswordFn("Key file passphrase: ")
	if err != nil {
		return "", err
	}
	defer keys.Zero(pw)
	return string(pw), nil
}

// commandContext bounds a command by the configured chain timeout. The
// allocator performs at most a few chain calls per command.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	d := defaultCommandTimeout
	if t := cfg.ChainTimeout(); t > 0 {
		d = 4 * t
	}
	return contextWithTimeout(cmd, d)
}

// metricsExporter serves the global metrics over HTTP for the life of a command.
type metricsExporter struct {
	listener net.Listener
	server   *http.Server
}

func startMetricsExporter(addr string) (*metricsExporter, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Global.Register(reg); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidInput, err), map[string]string{
			"metrics_listen": addr,
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	e := &metricsExporter{
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
	return e, nil
}

// Addr returns the address the exporter listens on.
func (e *metricsExporter) Addr() string {
	return e.listener.Addr().String()
}

// Close stops the exporter.
func (e *metricsExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}
