// Package eth provides the Ethereum chain nonce source and a local signing
// identity built on go-ethereum's JSON-RPC client.
package eth

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/mrz1836/noncer/internal/chain"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// ErrRPCURLRequired indicates the RPC URL was not provided.
var ErrRPCURLRequired = &noncererr.NoncerError{
	Code:     "ETH_RPC_URL_REQUIRED",
	Message:  "RPC URL is required",
	ExitCode: noncererr.ExitInput,
}

// SourceOptions contains optional configuration for a Source.
type SourceOptions struct {
	// ChainID skips eth_chainId discovery when set.
	ChainID *big.Int
	// Timeout bounds each RPC call. Zero means the caller's context alone decides.
	Timeout time.Duration
}

// Compile-time interface checks
var (
	_ chain.NonceSource = (*Source)(nil)
	_ Backend           = (*Source)(nil)
)

// Source reads transaction counts from an Ethereum node and relays signed
// transactions to it. The connection is established on first use.
type Source struct {
	url     string
	timeout time.Duration

	mu      sync.Mutex
	rpc     *rpc.Client
	client  *ethclient.Client
	chainID *big.Int
}

// NewSource creates a Source for the given JSON-RPC endpoint.
func NewSource(url string, opts *SourceOptions) (*Source, error) {
	if url == "" {
		return nil, ErrRPCURLRequired
	}
	s := &Source{url: url}
	s.apply(opts)
	return s, nil
}

// NewSourceFromClient wraps an already connected RPC client.
func NewSourceFromClient(c *rpc.Client, opts *SourceOptions) *Source {
	s := &Source{rpc: c, client: ethclient.NewClient(c)}
	s.apply(opts)
	return s
}

func (s *Source) apply(opts *SourceOptions) {
	if opts == nil {
		return
	}
	if opts.ChainID != nil {
		s.chainID = new(big.Int).Set(opts.ChainID)
	}
	s.timeout = opts.Timeout
}

// TransactionCount returns the number of transactions sent from address as seen at tag.
func (s *Source) TransactionCount(ctx context.Context, address common.Address, tag chain.Tag) (uint64, error) {
	if !tag.IsValid() {
		return 0, noncererr.WithDetails(noncererr.ErrInvalidTag, map[string]string{"tag": tag.String()})
	}

	client, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var count uint64
	if tag == chain.TagPending {
		count, err = client.PendingNonceAt(ctx, address)
	} else {
		count, err = client.NonceAt(ctx, address, nil)
	}
	if err != nil {
		return 0, noncererr.WithCause(noncererr.ErrChainSourceUnavailable, err)
	}
	return count, nil
}

// ChainID returns the chain ID, asking the node once and caching the answer.
func (s *Source) ChainID(ctx context.Context) (*big.Int, error) {
	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, noncererr.WithCause(noncererr.ErrChainSourceUnavailable, err)
	}
	s.chainID = id
	return new(big.Int).Set(id), nil
}

// SendTransaction broadcasts a signed transaction.
func (s *Source) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := client.SendTransaction(ctx, tx); err != nil {
		return noncererr.WithDetails(noncererr.WithCause(noncererr.ErrTxRejected, err), map[string]string{
			"hash":  tx.Hash().Hex(),
			"nonce": new(big.Int).SetUint64(tx.Nonce()).String(),
		})
	}
	return nil
}

// Close releases the underlying connection.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rpc != nil {
		s.rpc.Close()
		s.rpc = nil
		s.client = nil
	}
}

func (s *Source) connect(ctx context.Context) (*ethclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if s.url == "" {
		return nil, ErrRPCURLRequired
	}

	c, err := rpc.DialContext(ctx, s.url)
	if err != nil {
		return nil, noncererr.WithDetails(noncererr.WithCause(noncererr.ErrChainSourceUnavailable, err), map[string]string{
			"url": s.url,
		})
	}
	s.rpc = c
	s.client = ethclient.NewClient(c)
	return s.client, nil
}

func (s *Source) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
