package eth

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/chain/eth/ethtest"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Hardhat's first development account.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testKeyAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newTestSigner(t *testing.T, node *ethtest.Node) *LocalSigner {
	t.Helper()

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	var backend Backend
	if node != nil {
		backend = newTestSource(t, node, nil)
	}
	signer, err := NewLocalSigner(key, backend)
	require.NoError(t, err)
	return signer
}

func legacyRequest() *chain.TxRequest {
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	return &chain.TxRequest{
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	}
}

func TestNewLocalSigner_NilKey(t *testing.T) {
	t.Parallel()

	_, err := NewLocalSigner(nil, nil)
	require.ErrorIs(t, err, noncererr.ErrKeyRequired)
}

func TestLocalSigner_Address(t *testing.T) {
	t.Parallel()

	assert.Equal(t, testKeyAddress, newTestSigner(t, nil).Address())
}

func TestLocalSigner_SignMessage_PersonalSign(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, nil)
	for _, msg := range []string{"", "hello", "a longer message with spaces"} {
		sig, err := signer.SignMessage([]byte(msg))
		require.NoError(t, err)

		sig[crypto.RecoveryIDOffset] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
		require.NoError(t, err)
		assert.Equal(t, testKeyAddress, crypto.PubkeyToAddress(*pub), msg)
	}
}

func TestLocalSigner_SignMessage(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, nil)
	msg := []byte("noncer")

	sig, err := signer.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	recovered, err := RecoverMessageSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	// Deterministic (RFC 6979)
	again, err := signer.SignMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestRecoverMessageSigner_BadLength(t *testing.T) {
	t.Parallel()

	_, err := RecoverMessageSigner([]byte("x"), []byte{1, 2, 3})
	require.ErrorIs(t, err, noncererr.ErrInvalidInput)
}

func TestLocalSigner_SignTransaction_Legacy(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, ethtest.NewNode())

	raw, err := signer.SignTransaction(context.Background(), legacyRequest().WithNonce(9))
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, uint64(9), tx.Nonce())
	assert.Equal(t, int64(1337), tx.ChainId().Int64())

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddress, from)
}

func TestLocalSigner_SignTransaction_DynamicFee(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, ethtest.NewNode())
	req := legacyRequest()
	req.GasPrice = nil
	req.GasFeeCap = big.NewInt(30_000_000_000)
	req.GasTipCap = big.NewInt(2_000_000_000)

	raw, err := signer.SignTransaction(context.Background(), req.WithNonce(0))
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, req.GasFeeCap, tx.GasFeeCap())
	assert.Equal(t, req.GasTipCap, tx.GasTipCap())
}

func TestLocalSigner_SignTransaction_NonceFallback(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode()
	node.SetCounts(testKeyAddress, 2, 4)
	signer := newTestSigner(t, node)

	raw, err := signer.SignTransaction(context.Background(), legacyRequest())
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint64(4), tx.Nonce())
}

func TestLocalSigner_SignTransaction_Invalid(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, ethtest.NewNode())
	req := legacyRequest()
	req.Gas = 0

	_, err := signer.SignTransaction(context.Background(), req)
	require.ErrorIs(t, err, noncererr.ErrInvalidGasLimit)

	_, err = signer.SignTransaction(context.Background(), nil)
	require.ErrorIs(t, err, noncererr.ErrInvalidTransaction)
}

func TestLocalSigner_Offline(t *testing.T) {
	t.Parallel()

	signer := newTestSigner(t, nil)

	_, err := signer.SignTransaction(context.Background(), legacyRequest().WithNonce(1))
	require.ErrorIs(t, err, noncererr.ErrChainSourceUnavailable)

	_, err = signer.TransactionCount(context.Background(), chain.TagPending)
	require.ErrorIs(t, err, noncererr.ErrChainSourceUnavailable)
}

func TestLocalSigner_SendTransaction(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode()
	signer := newTestSigner(t, node)

	handle, err := signer.SendTransaction(context.Background(), legacyRequest().WithNonce(12))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), handle.Nonce)
	assert.Equal(t, testKeyAddress, handle.From)

	sent := node.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, handle.Hash, sent[0].Hash())
}

func TestLocalSigner_SendTransaction_Rejected(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode()
	node.SetSendErr(errNodeDown)
	signer := newTestSigner(t, node)

	_, err := signer.SendTransaction(context.Background(), legacyRequest().WithNonce(1))
	require.ErrorIs(t, err, noncererr.ErrTxRejected)
}

func TestLocalSigner_TransactionCount(t *testing.T) {
	t.Parallel()

	node := ethtest.NewNode()
	node.SetCounts(testKeyAddress, 3, 6)
	signer := newTestSigner(t, node)

	count, err := signer.TransactionCount(context.Background(), chain.TagConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
}
