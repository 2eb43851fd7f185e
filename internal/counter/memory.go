package counter

import (
	"context"
	"errors"
	"sync"

	noncererr "github.com/mrz1836/noncer/pkg/errors"
)

// errMemoryUnavailable is the cause attached while a MemoryStore is offline.
var errMemoryUnavailable = errors.New("memory store marked unavailable")

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a Store for a single process. It is shared only by
// allocators holding the same instance.
type MemoryStore struct {
	mu          sync.Mutex
	values      map[string]int64
	unavailable bool
	calls       int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]int64)}
}

// SetUnavailable makes every subsequent operation fail with ErrStoreUnavailable
// until it is called again with false.
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// Calls returns the number of operations attempted against the store.
func (s *MemoryStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, false, err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.values[key] = value
	return nil
}

// IncrBy implements Store.
func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return 0, err
	}
	s.values[key] += delta
	return s.values[key], nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) check() error {
	s.calls++
	if s.unavailable {
		return noncererr.WithCause(noncererr.ErrStoreUnavailable, errMemoryUnavailable)
	}
	return nil
}
