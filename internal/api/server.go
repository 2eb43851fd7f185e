package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/metrics"
)

// Server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Option configures the handler.
type Option func(*options)

type options struct {
	logger   LogWriter
	gatherer prometheus.Gatherer
	health   func(context.Context) error
}

// WithLogger sets the logger.
func WithLogger(logger LogWriter) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics serves gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherer = gatherer
	}
}

// WithHealthCheck makes /healthz fail when check does, typically a store ping.
func WithHealthCheck(check func(context.Context) error) Option {
	return func(o *options) {
		o.health = check
	}
}

// NewHandler returns the HTTP API for a.
//
//	GET  /v1/address
//	GET  /v1/nonce?tag=pending|confirmed
//	PUT  /v1/nonce             {"nonce": n}
//	POST /v1/nonce/increment   {"count": n}
//	POST /v1/nonce/resync
//	POST /v1/sign              {"message": "..."}
//	POST /v1/transactions      TxRequest
//	GET  /healthz
//	GET  /metrics
func NewHandler(a Allocator, opts ...Option) http.Handler {
	o := &options{logger: config.NullLogger()}
	for _, opt := range opts {
		opt(o)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/address", addressHandler(a))
	mux.Handle("GET /v1/nonce", getNonceHandler(a, o.logger))
	mux.Handle("PUT /v1/nonce", setNonceHandler(a, o.logger))
	mux.Handle("POST /v1/nonce/increment", incrementHandler(a, o.logger))
	mux.Handle("POST /v1/nonce/resync", resyncHandler(a, o.logger))
	mux.Handle("POST /v1/sign", signHandler(a, o.logger))
	mux.Handle("POST /v1/transactions", sendHandler(a, o.logger))
	mux.Handle("GET /healthz", healthHandler(a, o.health, o.logger))
	if o.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(o.gatherer))
	}
	return mux
}

// Serve runs handler on ln until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
