package eth

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// EIP-55 reference vectors
//
//nolint:gochecknoglobals // Test data
var checksumVectors = []string{
	"0x52908400098527886E0F7030069857D2E4169EE7",
	"0x8617E340B3D01FA5F11F306F4090FD50E238070D",
	"0xde709f2102306220921060314715629080e2fb77",
	"0x27b1fdb04752bbc536007a920d24acb045561c26",
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestParseAddress_Vectors(t *testing.T) {
	t.Parallel()

	for _, want := range checksumVectors {
		t.Run(want, func(t *testing.T) {
			t.Parallel()
			addr, err := ParseAddress(want)
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(want), addr)

			addr, err = ParseAddress(strings.ToLower(want))
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(want), addr)
		})
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	t.Run("checksummed", func(t *testing.T) {
		t.Parallel()
		addr, err := ParseAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
		require.NoError(t, err)
		assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.Hex())
	})

	t.Run("lowercase", func(t *testing.T) {
		t.Parallel()
		addr, err := ParseAddress(" 0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ")
		require.NoError(t, err)
		assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.Hex())
	})

	t.Run("bad checksum", func(t *testing.T) {
		t.Parallel()
		_, err := ParseAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
		require.ErrorIs(t, err, noncererr.ErrInvalidAddress)

		var nerr *noncererr.NoncerError
		require.ErrorAs(t, err, &nerr)
		assert.Equal(t, "checksum mismatch", nerr.Details["reason"])
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		for _, in := range []string{
			"0x1234",
			"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAe",
			"0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		} {
			_, err := ParseAddress(in)
			require.ErrorIs(t, err, noncererr.ErrInvalidAddress, in)
		}
	})
}
