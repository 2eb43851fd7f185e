// Package chain provides the capability interfaces shared by the nonce
// allocator, the chain nonce source and the wrapped signing identity.
package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// Tag selects the point in time a transaction count is read at.
type Tag string

// Supported tags.
const (
	// TagPending counts transactions the node has seen, including unconfirmed ones.
	TagPending Tag = "pending"
	// TagConfirmed counts transactions included in the latest block.
	TagConfirmed Tag = "confirmed"
)

// String returns the tag string.
func (t Tag) String() string {
	return string(t)
}

// IsValid returns true for the tags the allocator understands.
func (t Tag) IsValid() bool {
	return t == TagPending || t == TagConfirmed
}

// ParseTag parses a tag string. "latest" is accepted as an alias for confirmed.
func ParseTag(s string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return TagPending, nil
	case "confirmed", "latest":
		return TagConfirmed, nil
	default:
		return "", noncererr.WithDetails(noncererr.ErrInvalidTag, map[string]string{"tag": s})
	}
}

// NonceSource reads the number of transactions the network has seen from an address.
type NonceSource interface {
	TransactionCount(ctx context.Context, address common.Address, tag Tag) (uint64, error)
}

// Identity is a signing identity bound to one address. It signs and submits
// transactions on behalf of that address.
type Identity interface {
	// Address returns the account the identity signs for.
	Address() common.Address

	// SignMessage signs an EIP-191 personal message.
	SignMessage(msg []byte) ([]byte, error)

	// SignTransaction signs the request and returns the raw encoded transaction.
	SignTransaction(ctx context.Context, req *TxRequest) ([]byte, error)

	// SendTransaction signs and submits the request.
	SendTransaction(ctx context.Context, req *TxRequest) (*TxHandle, error)

	// TransactionCount reads the chain's transaction count for Address.
	TransactionCount(ctx context.Context, tag Tag) (uint64, error)
}

// TxRequest describes an outgoing transaction. Gas pricing is chosen by the caller.
type TxRequest struct {
	To        *common.Address // Recipient, nil for contract creation
	Value     *big.Int        // Value in wei
	Gas       uint64          // Gas limit
	GasPrice  *big.Int        // Legacy gas price; mutually exclusive with GasFeeCap
	GasFeeCap *big.Int        // EIP-1559 max fee per gas
	GasTipCap *big.Int        // EIP-1559 priority fee per gas
	Data      []byte          // Call data
	Nonce     *uint64         // Explicit nonce, nil for automatic allocation
}

// Clone returns a shallow copy of the request with its own Nonce pointer.
func (r *TxRequest) Clone() *TxRequest {
	cp := *r
	if r.Nonce != nil {
		n := *r.Nonce
		cp.Nonce = &n
	}
	return &cp
}

// WithNonce returns a copy of the request carrying nonce.
func (r *TxRequest) WithNonce(nonce uint64) *TxRequest {
	cp := r.Clone()
	cp.Nonce = &nonce
	return cp
}

// IsDynamicFee reports whether the request uses EIP-1559 pricing.
func (r *TxRequest) IsDynamicFee() bool {
	return r.GasPrice == nil && r.GasFeeCap != nil
}

// Validate checks the fields a signer needs.
func (r *TxRequest) Validate() error {
	if r.Gas == 0 {
		return noncererr.ErrInvalidGasLimit
	}
	if r.GasPrice == nil && r.GasFeeCap == nil {
		return noncererr.ErrInvalidGasPrice
	}
	if r.GasPrice != nil && r.GasFeeCap != nil {
		return noncererr.WithDetails(noncererr.ErrInvalidTransaction, map[string]string{
			"reason": "gas price and fee cap are mutually exclusive",
		})
	}
	if r.Value != nil && r.Value.Sign() < 0 {
		return noncererr.WithDetails(noncererr.ErrInvalidTransaction, map[string]string{
			"reason": "value cannot be negative",
		})
	}
	if r.To == nil && len(r.Data) == 0 {
		return noncererr.WithDetails(noncererr.ErrInvalidTransaction, map[string]string{
			"reason": "contract creation requires data",
		})
	}
	return nil
}

// TxHandle is the result of a submitted transaction.
type TxHandle struct {
	Hash  common.Hash    `json:"hash"`
	From  common.Address `json:"from"`
	Nonce uint64         `json:"nonce"`
	Raw   []byte         `json:"-"`
}
