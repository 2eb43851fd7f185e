package cli

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mrz1836/noncer/internal/api"
	"github.com/mrz1836/noncer/internal/metrics"
	"github.com/mrz1836/noncer/internal/output"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// DefaultServeAddr is where serve listens unless --listen says otherwise.
const DefaultServeAddr = "127.0.0.1:7546"

// serveCmd runs the HTTP API.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the allocator over HTTP",
	Long: `Run a long-lived allocator and expose it over HTTP. The process fetches
the chain baseline once and keeps it, so every client of one server shares
it. Run several servers against the same Redis to scale out.

Endpoints:
  GET  /v1/address
  GET  /v1/nonce?tag=pending|confirmed
  PUT  /v1/nonce             {"nonce": n}
  POST /v1/nonce/increment   {"count": n}
  POST /v1/nonce/resync
  POST /v1/sign              {"message": "..."}
  POST /v1/transactions      {"to", "value", "gas", "gasPrice" | "maxFeePerGas", ...}
  GET  /healthz
  GET  /metrics

Example:
  noncer serve --listen 0.0.0.0:7546`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var serveListen string

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", DefaultServeAddr, "address to serve the API on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	if err := metrics.Global.Register(reg); err != nil {
		return err
	}

	handler := api.NewHandler(s.allocator,
		api.WithLogger(logger),
		api.WithMetrics(reg),
		api.WithHealthCheck(s.store.Ping),
	)

	ln, err := net.Listen("tcp", serveListen)
	if err != nil {
		return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrInvalidInput, err), map[string]string{
			"listen": serveListen,
		})
	}

	output.Infof(cmd.ErrOrStderr(), "serving %s on http://%s", s.allocator.Address().Hex(), ln.Addr())
	logger.Debug("serving API for %s on %s", s.allocator.Address().Hex(), ln.Addr())

	return api.Serve(cmd.Context(), ln, handler)
}
