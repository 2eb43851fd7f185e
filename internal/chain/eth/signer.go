package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mrz1836/noncer/internal/chain"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Backend is what a LocalSigner needs from the network.
type Backend interface {
	chain.NonceSource
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Compile-time interface check
var _ chain.Identity = (*LocalSigner)(nil)

// LocalSigner is a signing identity holding a private key in memory.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend Backend
}

// NewLocalSigner creates a signer for key. backend may be nil for offline
// message signing; transaction methods then fail.
func NewLocalSigner(key *ecdsa.PrivateKey, backend Backend) (*LocalSigner, error) {
	if key == nil {
		return nil, noncererr.ErrKeyRequired
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
	}, nil
}

// Address returns the account derived from the key.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignMessage produces a 65-byte EIP-191 personal_sign signature with V in {27, 28}.
func (s *LocalSigner) SignMessage(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTransaction signs req and returns the binary encoded transaction.
func (s *LocalSigner) SignTransaction(ctx context.Context, req *chain.TxRequest) ([]byte, error) {
	tx, err := s.sign(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	return raw, nil
}

// SendTransaction signs req and broadcasts it through the backend.
func (s *LocalSigner) SendTransaction(ctx context.Context, req *chain.TxRequest) (*chain.TxHandle, error) {
	tx, err := s.sign(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &chain.TxHandle{
		Hash:  tx.Hash(),
		From:  s.address,
		Nonce: tx.Nonce(),
		Raw:   raw,
	}, nil
}

// TransactionCount reads the signer's transaction count from the backend.
func (s *LocalSigner) TransactionCount(ctx context.Context, tag chain.Tag) (uint64, error) {
	if s.backend == nil {
		return 0, noncererr.ErrChainSourceUnavailable
	}
	return s.backend.TransactionCount(ctx, s.address, tag)
}

func (s *LocalSigner) sign(ctx context.Context, req *chain.TxRequest) (*types.Transaction, error) {
	if req == nil {
		return nil, noncererr.ErrInvalidTransaction
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.backend == nil {
		return nil, noncererr.ErrChainSourceUnavailable
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		// Without a managed nonce fall back to what the node reports.
		if nonce, err = s.backend.TransactionCount(ctx, s.address, chain.TagPending); err != nil {
			return nil, err
		}
	}

	tx := types.NewTx(buildTxData(chainID, nonce, req))
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	return signed, nil
}

func buildTxData(chainID *big.Int, nonce uint64, req *chain.TxRequest) types.TxData {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	if req.IsDynamicFee() {
		tip := req.GasTipCap
		if tip == nil {
			tip = new(big.Int)
		}
		return &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: req.GasFeeCap,
			Gas:       req.Gas,
			To:        req.To,
			Value:     value,
			Data:      req.Data,
		}
	}

	return &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: req.GasPrice,
		Gas:      req.Gas,
		To:       req.To,
		Value:    value,
		Data:     req.Data,
	}
}

// RecoverMessageSigner returns the address that produced sig over msg.
func RecoverMessageSigner(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{
			"signature": "must be 65 bytes",
		})
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
