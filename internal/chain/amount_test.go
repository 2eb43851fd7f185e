package chain_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/noncer/internal/chain"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		decimals int
		want     string
		wantErr  bool
	}{
		{"one ether", "1", chain.DecimalsEther, "1000000000000000000", false},
		{"fractional ether", "0.5", chain.DecimalsEther, "500000000000000000", false},
		{"leading dot", ".25", chain.DecimalsGwei, "250000000", false},
		{"trailing dot", "3.", chain.DecimalsGwei, "3000000000", false},
		{"gwei", "1.5", chain.DecimalsGwei, "1500000000", false},
		{"truncates extra precision", "1.0000000001", chain.DecimalsGwei, "1000000000", false},
		{"wei", "21000", chain.DecimalsWei, "21000", false},
		{"zero", "0.000", chain.DecimalsEther, "0", false},
		{"empty", "", chain.DecimalsEther, "", true},
		{"negative", "-1", chain.DecimalsEther, "", true},
		{"two dots", "1.2.3", chain.DecimalsEther, "", true},
		{"letters", "1e18", chain.DecimalsWei, "", true},
		{"lone dot", ".", chain.DecimalsEther, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := chain.ParseAmount(tc.input, tc.decimals)
			if tc.wantErr {
				require.ErrorIs(t, err, noncererr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	wei, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", chain.FormatAmount(wei, chain.DecimalsEther))
	assert.Equal(t, "0.000000000000000005", chain.FormatAmount(big.NewInt(5), chain.DecimalsEther))
	assert.Equal(t, "2", chain.FormatAmount(big.NewInt(2_000_000_000), chain.DecimalsGwei))
	assert.Equal(t, "21000", chain.FormatAmount(big.NewInt(21000), chain.DecimalsWei))
	assert.Equal(t, "0", chain.FormatAmount(nil, chain.DecimalsEther))
}

func TestParseFormatAmount_RoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"0.1", "42", "7.000123", "0.000000001"} {
		v, err := chain.ParseAmount(s, chain.DecimalsEther)
		require.NoError(t, err)
		assert.Equal(t, s, chain.FormatAmount(v, chain.DecimalsEther))
	}
}
