package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/noncer/internal/chain/eth/ethtest"
	"github.com/mrz1836/noncer/internal/config"
)

const (
	// Hardhat's development mnemonic and its first key.
	devMnemonic = "test test test test test test test test test test test junk"
	devKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	recipient   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

var devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// testEnv runs commands against miniredis and an HTTP fake node.
type testEnv struct {
	t      *testing.T
	home   string
	node   *ethtest.Node
	redis  *miniredis.Miniredis
	stderr bytes.Buffer
}

// newTestEnv points the CLI at fresh backends through the environment.
// Tests using it cannot run in parallel.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		t:     t,
		home:  t.TempDir(),
		node:  ethtest.NewNode(),
		redis: miniredis.RunT(t),
	}

	t.Setenv(config.EnvRPC, e.node.StartHTTP(t))
	t.Setenv(config.EnvRedisAddr, e.redis.Addr())
	t.Setenv(config.EnvKey, "0x"+devKeyHex)
	t.Setenv(config.EnvLogLevel, "off")
	t.Setenv(config.EnvMetricsListen, "")
	t.Setenv(config.EnvStoreBackend, "")

	withMockPrompts(t, "correct horse battery")
	return e
}

// run executes the CLI with args and returns stdout.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()

	resetFlags(rootCmd)
	var stdout bytes.Buffer
	e.stderr.Reset()
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&e.stderr)
	rootCmd.SetArgs(append([]string{"--home", e.home, "-o", "json"}, args...))

	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		cleanup()
	}
	return stdout.String(), err
}

// mustRun executes the CLI and decodes its JSON output into a T.
func mustRun[T any](e *testEnv, args ...string) T {
	e.t.Helper()

	out, err := e.run(args...)
	require.NoError(e.t, err, "noncer %v", args)

	var v T
	require.NoError(e.t, json.Unmarshal([]byte(out), &v), out)
	return v
}

// resetFlags restores every flag to its default between runs.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// withMockPrompts answers every passphrase prompt with passphrase.
func withMockPrompts(t *testing.T, passphrase string) {
	t.Helper()
	origPW := promptPasswordFn
	origNewPW := promptNewPasswordFn
	t.Cleanup(func() {
		promptPasswordFn = origPW
		promptNewPasswordFn = origNewPW
	})
	promptPasswordFn = func(_ string) ([]byte, error) {
		return []byte(passphrase), nil
	}
	promptNewPasswordFn = func() ([]byte, error) {
		return []byte(passphrase), nil
	}
}
