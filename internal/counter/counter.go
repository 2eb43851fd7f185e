// Package counter provides the shared integer counters the nonce allocator
// coordinates through. Every mutation is a single atomic store operation.
package counter

import (
	"context"
)

// Store is a key/value store of integer counters.
type Store interface {
	// Get returns the value at key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)

	// Set stores value at key.
	Set(ctx context.Context, key string, value int64) error

	// IncrBy atomically adds delta to the value at key (absent counts as 0)
	// and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

// DeltaKey returns the key holding the consumed-nonce delta for address.
// The address is used as given.
func DeltaKey(address string) string {
	return "delta:" + address
}
