package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/noncer/internal/config"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := config.Defaults()
	cfg.Chain.RPC = "https://sepolia.example.org"
	cfg.Chain.ChainID = 11155111
	cfg.Store.Addr = "redis.internal:6379"
	cfg.Store.DB = 3
	cfg.Signer.KeyFormat = config.KeyFormatAge
	cfg.Output.Verbose = true

	require.NoError(t, config.Save(cfg, path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, cfg.Version, loaded.Version)
	assert.Equal(t, cfg.Chain, loaded.Chain)
	assert.Equal(t, cfg.Store.Addr, loaded.Store.Addr)
	assert.Equal(t, 3, loaded.Store.DB)
	assert.Equal(t, config.KeyFormatAge, loaded.Signer.KeyFormat)
	assert.True(t, loaded.Output.Verbose)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  addr: cache:6380\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.Store.Addr)
	assert.Equal(t, config.StoreRedis, cfg.Store.Backend)
	assert.Equal(t, config.DefaultRPCURL, cfg.Chain.RPC)
	assert.Equal(t, 15, cfg.Chain.TimeoutSeconds)
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, noncererr.ErrConfigNotFound)
}

func TestLoad_Malformed(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chain: [not, a, map"), 0o600))

	_, err := config.Load(path)
	require.ErrorIs(t, err, noncererr.ErrConfigInvalid)
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "~/.noncer", cfg.Home)
	assert.Equal(t, config.DefaultRPCURL, cfg.Chain.RPC)
	assert.Equal(t, int64(0), cfg.Chain.ChainID)
	assert.Equal(t, config.StoreRedis, cfg.Store.Backend)
	assert.Equal(t, config.DefaultStoreAddr, cfg.Store.Addr)
	assert.Equal(t, config.KeyFormatAuto, cfg.Signer.KeyFormat)
	assert.Equal(t, "auto", cfg.Output.DefaultFormat)
	assert.Equal(t, "error", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
		field  string
	}{
		{"defaults", func(*config.Config) {}, nil, ""},
		{"memory backend without addr", func(c *config.Config) {
			c.Store.Backend = config.StoreMemory
			c.Store.Addr = ""
		}, nil, ""},
		{"redis without addr", func(c *config.Config) { c.Store.Addr = " " }, noncererr.ErrConfigInvalid, "store.addr"},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "etcd" }, noncererr.ErrConfigInvalid, "store.backend"},
		{"missing rpc", func(c *config.Config) { c.Chain.RPC = "" }, noncererr.ErrConfigInvalid, "chain.rpc"},
		{"negative chain id", func(c *config.Config) { c.Chain.ChainID = -1 }, noncererr.ErrInvalidChainID, "chain.chain_id"},
		{"negative burst", func(c *config.Config) { c.Chain.Burst = -2 }, noncererr.ErrConfigInvalid, "chain.rate_per_second"},
		{"unknown key format", func(c *config.Config) { c.Signer.KeyFormat = "pem" }, noncererr.ErrConfigInvalid, "signer.key_format"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Defaults()
			tc.mutate(cfg)

			err := cfg.Validate()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tc.want)
			var ne *noncererr.NoncerError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, tc.field, ne.Details["field"])
		})
	}
}

func TestPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("/srv/noncer", "config.yaml"), config.Path("/srv/noncer"))
}
