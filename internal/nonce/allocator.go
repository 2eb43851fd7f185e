// Package nonce allocates transaction nonces for an address shared by many
// processes. Each process keeps a local baseline, the chain's pending count
// when the process first needed it, and all processes share a delta in a
// counter store counting the nonces consumed since. Allocation claims a
// nonce with one atomic increment of that delta.
//
// A nonce is consumed when it is claimed, before the transaction is signed
// or submitted. A submission that fails afterwards leaves a gap the chain
// will not fill on its own; SetTransactionCount or Resync recovers from it.
package nonce

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mrz1836/noncer/internal/chain"
	"github.com/mrz1836/noncer/internal/config"
	"github.com/mrz1836/noncer/internal/counter"
	"github.com/mrz1836/noncer/internal/metrics"
	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// LogWriter is the logging the allocator needs. *config.Logger satisfies it.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithNonceSource reads the baseline from source instead of the identity.
func WithNonceSource(source chain.NonceSource) Option {
	return func(a *Allocator) {
		if source != nil {
			a.source = source
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger LogWriter) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics records allocator activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithBaseline starts the allocator with a known baseline, skipping the
// first chain fetch.
func WithBaseline(n uint64) Option {
	return func(a *Allocator) {
		a.baseline.set(n)
	}
}

// Compile-time interface check
var _ chain.Identity = (*Allocator)(nil)

// Allocator wraps a signing identity and assigns coordinated nonces to the
// transactions it sends. It is safe for concurrent use.
type Allocator struct {
	identity chain.Identity
	store    counter.Store
	source   chain.NonceSource
	address  common.Address
	key      string
	logger   LogWriter
	metrics  *metrics.Metrics

	// overrideMu is held exclusively while an override resets the remote
	// delta and swaps the baseline, and shared by everything reading them.
	overrideMu sync.RWMutex
	baseline   baseline
}

// New creates an Allocator for identity coordinating through store.
func New(identity chain.Identity, store counter.Store, opts ...Option) (*Allocator, error) {
	if identity == nil {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"identity": "required"})
	}
	if store == nil {
		return nil, noncererr.WithDetails(noncererr.ErrInvalidInput, map[string]string{"store": "required"})
	}

	address := identity.Address()
	a := &Allocator{
		identity: identity,
		store:    store,
		source:   identitySource{identity},
		address:  address,
		key:      counter.DeltaKey(address.Hex()),
		logger:   config.NullLogger(),
		metrics:  metrics.Global,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Address returns the wrapped identity's address.
func (a *Allocator) Address() common.Address {
	return a.address
}

// State reports whether the baseline has been fetched.
func (a *Allocator) State() State {
	return a.baseline.state()
}

// TransactionCount returns the next nonce for the pending tag, baseline plus
// the shared delta. Other tags are read straight from the chain.
func (a *Allocator) TransactionCount(ctx context.Context, tag chain.Tag) (uint64, error) {
	if !tag.IsValid() {
		return 0, noncererr.WithDetails(noncererr.ErrInvalidTag, map[string]string{"tag": tag.String()})
	}
	if tag != chain.TagPending {
		n, err := a.source.TransactionCount(ctx, a.address, tag)
		if err != nil {
			return 0, chainError(err)
		}
		return n, nil
	}

	for {
		if _, err := a.baseline.get(ctx, a.fetchBaseline); err != nil {
			return 0, err
		}

		a.overrideMu.RLock()
		base, ok := a.baseline.peek()
		if !ok {
			a.overrideMu.RUnlock()
			continue
		}
		delta, err := a.delta(ctx)
		a.overrideMu.RUnlock()
		if err != nil {
			return 0, err
		}
		return base + uint64(delta), nil //nolint:gosec // delta checked non-negative
	}
}

// SetTransactionCount makes nonce the next automatic allocation.
// Concurrent overrides with different values are last-write-wins.
func (a *Allocator) SetTransactionCount(ctx context.Context, nonce uint64) error {
	a.overrideMu.Lock()
	defer a.overrideMu.Unlock()
	return a.overrideLocked(ctx, nonce, 0)
}

// IncrementTransactionCount atomically adds count to the shared delta and
// returns the new delta.
func (a *Allocator) IncrementTransactionCount(ctx context.Context, count int64) (int64, error) {
	if count < 1 {
		return 0, noncererr.WithDetails(noncererr.ErrInvalidCount, map[string]string{"count": strconv.FormatInt(count, 10)})
	}

	a.overrideMu.RLock()
	defer a.overrideMu.RUnlock()

	delta, err := a.store.IncrBy(ctx, a.key, count)
	if err != nil {
		return 0, a.storeError(err)
	}
	a.metrics.RecordIncrement(count)
	return delta, nil
}

// Resync resets the allocator to the chain's current pending count. It is
// the recovery path after a gap.
func (a *Allocator) Resync(ctx context.Context) (uint64, error) {
	n, err := a.source.TransactionCount(ctx, a.address, chain.TagPending)
	if err != nil {
		return 0, chainError(err)
	}
	if err := a.SetTransactionCount(ctx, n); err != nil {
		return 0, err
	}
	return n, nil
}

// SignMessage delegates to the wrapped identity.
func (a *Allocator) SignMessage(msg []byte) ([]byte, error) {
	return a.identity.SignMessage(msg)
}

// SignTransaction delegates to the wrapped identity. No nonce is allocated.
func (a *Allocator) SignTransaction(ctx context.Context, req *chain.TxRequest) ([]byte, error) {
	return a.identity.SignTransaction(ctx, req)
}

// SendTransaction assigns a nonce to req and submits it through the wrapped
// identity. A request without a nonce gets the next coordinated nonce. A
// request with an explicit nonce k overrides the allocator so the next
// automatic allocation is k+1. This differs from SetTransactionCount(k) on
// purpose, which would hand out k again as the next automatic nonce. The
// caller's request is not modified.
func (a *Allocator) SendTransaction(ctx context.Context, req *chain.TxRequest) (*chain.TxHandle, error) {
	if req == nil {
		return nil, noncererr.ErrInvalidTransaction
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
		a.overrideMu.Lock()
		err := a.overrideLocked(ctx, nonce, 1)
		a.overrideMu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		if nonce, err = a.claim(ctx); err != nil {
			return nil, err
		}
	}

	handle, err := a.identity.SendTransaction(ctx, req.WithNonce(nonce))
	if err != nil {
		a.metrics.RecordSubmitError()
		a.logger.Error("submission with nonce %d from %s failed, nonce left unused: %v", nonce, a.address.Hex(), err)
		return nil, err
	}
	a.logger.Debug("sent %s from %s with nonce %d", handle.Hash.Hex(), a.address.Hex(), nonce)
	return handle, nil
}

// claim reserves the next nonce. The increment's return value identifies the
// slot, so racing claims from any number of processes never share a nonce.
func (a *Allocator) claim(ctx context.Context) (uint64, error) {
	for {
		if _, err := a.baseline.get(ctx, a.fetchBaseline); err != nil {
			return 0, err
		}

		a.overrideMu.RLock()
		base, ok := a.baseline.peek()
		if !ok {
			a.overrideMu.RUnlock()
			continue
		}
		delta, err := a.store.IncrBy(ctx, a.key, 1)
		a.overrideMu.RUnlock()

		if err != nil {
			return 0, a.storeError(err)
		}
		if delta < 1 {
			return 0, a.corrupt(delta)
		}

		a.metrics.RecordAllocation()
		a.metrics.RecordIncrement(1)
		nonce := base + uint64(delta-1) //nolint:gosec // delta checked positive
		a.logger.Debug("allocated nonce %d for %s (baseline %d, delta %d)", nonce, a.address.Hex(), base, delta)
		return nonce, nil
	}
}

// overrideLocked sets the remote delta, then the baseline. The store is
// written first so a failed reset leaves local state untouched.
// Callers hold overrideMu exclusively.
func (a *Allocator) overrideLocked(ctx context.Context, base uint64, delta int64) error {
	if err := a.store.Set(ctx, a.key, delta); err != nil {
		return a.storeError(err)
	}
	a.baseline.set(base)
	a.metrics.RecordOverride()
	a.logger.Debug("nonce for %s overridden: baseline %d, delta %d", a.address.Hex(), base, delta)
	return nil
}

func (a *Allocator) delta(ctx context.Context) (int64, error) {
	delta, ok, err := a.store.Get(ctx, a.key)
	if err != nil {
		return 0, a.storeError(err)
	}
	if !ok {
		return 0, nil
	}
	if delta < 0 {
		return 0, a.corrupt(delta)
	}
	return delta, nil
}

func (a *Allocator) fetchBaseline(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := a.source.TransactionCount(ctx, a.address, chain.TagPending)
	a.metrics.RecordBaselineFetch(time.Since(start), err)
	if err != nil {
		a.logger.Error("baseline fetch for %s failed: %v", a.address.Hex(), err)
		return 0, chainError(err)
	}
	a.logger.Debug("baseline for %s initialized at %d", a.address.Hex(), n)
	return n, nil
}

func (a *Allocator) storeError(err error) error {
	a.metrics.RecordStoreError()
	a.logger.Error("counter store %s: %v", a.key, err)
	var nerr *noncererr.NoncerError
	if errors.As(err, &nerr) {
		return err
	}
	return noncererr.WithCause(noncererr.ErrStoreUnavailable, err)
}

func (a *Allocator) corrupt(delta int64) error {
	a.logger.Error("counter %s holds negative delta %d", a.key, delta)
	return noncererr.WithDetails(noncererr.ErrCorruptCounter, map[string]string{
		"key":   a.key,
		"delta": strconv.FormatInt(delta, 10),
	})
}

func chainError(err error) error {
	var nerr *noncererr.NoncerError
	if errors.As(err, &nerr) {
		return err
	}
	return noncererr.WithCause(noncererr.ErrChainSourceUnavailable, err)
}

// identitySource reads counts through the wrapped identity when no separate
// source is configured.
type identitySource struct {
	identity chain.Identity
}

func (s identitySource) TransactionCount(ctx context.Context, _ common.Address, tag chain.Tag) (uint64, error) {
	return s.identity.TransactionCount(ctx, tag)
}
