package nonce

import (
	"context"
	"sync"
)

// State is the process-local view of the baseline.
type State int

// Baseline states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// future is a one-shot baseline value. value and err are written once,
// before done is closed.
type future struct {
	done  chan struct{}
	value uint64
	err   error
}

func resolved(value uint64) *future {
	f := &future{done: make(chan struct{}), value: value}
	close(f.done)
	return f
}

func (f *future) isDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// baseline memoizes the chain's pending count. At most one fetch is in
// flight; a failed fetch clears the slot so the next caller retries, and
// set replaces the slot so a fetch still in flight can never win.
type baseline struct {
	mu  sync.Mutex
	cur *future
}

type fetchFunc func(ctx context.Context) (uint64, error)

// get returns the current baseline, starting fetch if there is none.
func (b *baseline) get(ctx context.Context, fetch fetchFunc) (uint64, error) {
	for {
		b.mu.Lock()
		f := b.cur
		if f == nil {
			f = &future{done: make(chan struct{})}
			b.cur = f
			// Waiters share the fetch, so one caller giving up must not cancel it.
			go b.resolve(context.WithoutCancel(ctx), f, fetch)
		}
		b.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return 0, ctx.Err()
		}

		b.mu.Lock()
		current := b.cur
		b.mu.Unlock()

		// Always answer with the slot as it is now. If set replaced f while
		// we waited, the override is the baseline.
		if current == f || current == nil {
			return f.value, f.err
		}
	}
}

func (b *baseline) resolve(ctx context.Context, f *future, fetch fetchFunc) {
	value, err := fetch(ctx)

	b.mu.Lock()
	f.value, f.err = value, err
	if err != nil && b.cur == f {
		b.cur = nil
	}
	b.mu.Unlock()

	close(f.done)
}

// set replaces the baseline with value.
func (b *baseline) set(value uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cur = resolved(value)
}

// peek returns the baseline if it is ready.
func (b *baseline) peek() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == nil || !b.cur.isDone() || b.cur.err != nil {
		return 0, false
	}
	return b.cur.value, true
}

func (b *baseline) state() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.cur == nil:
		return StateUninitialized
	case b.cur.isDone():
		return StateReady
	default:
		return StateInitializing
	}
}
