package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// RateLimiter paces calls per endpoint using a token bucket.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a rate limiter allowing ratePerSecond calls per endpoint
// with bursts of up to burst calls. A non-positive rate disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow reports whether a call to endpoint may proceed now.
func (r *RateLimiter) Allow(endpoint string) bool {
	return r.limiter(endpoint).Allow()
}

// Wait blocks until a call to endpoint is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	return r.limiter(endpoint).Wait(ctx)
}

func (r *RateLimiter) limiter(endpoint string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[endpoint]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok = r.limiters[endpoint]; ok {
		return l
	}
	l = rate.NewLimiter(r.limit, r.burst)
	r.limiters[endpoint] = l
	return l
}

// LimitedSource paces a NonceSource. Each tag gets its own bucket so bursts of
// confirmed lookups cannot starve the pending lookups allocation depends on.
type LimitedSource struct {
	source  NonceSource
	limiter *RateLimiter
}

// NewLimitedSource wraps source with limiter.
func NewLimitedSource(source NonceSource, limiter *RateLimiter) *LimitedSource {
	return &LimitedSource{source: source, limiter: limiter}
}

// TransactionCount waits for a token and then delegates to the wrapped source.
func (s *LimitedSource) TransactionCount(ctx context.Context, address common.Address, tag Tag) (uint64, error) {
	if err := s.limiter.Wait(ctx, tag.String()); err != nil {
		return 0, err
	}
	return s.source.TransactionCount(ctx, address, tag)
}
