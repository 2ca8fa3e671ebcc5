package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/x402-rs/x402-ask/pkg/types"
)

type entry struct {
	req         types.PaymentRequirement
	consumed    bool
	retainUntil time.Time
}

// MemoryStore is an in-process Store. Expired entries are swept periodically
// until Stop is called.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry

	grace time.Duration
	now   func() time.Time

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithGrace overrides DefaultGrace
func WithGrace(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.grace = d }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store that sweeps retained entries every interval
func NewMemoryStore(interval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]*entry),
		grace:       DefaultGrace,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cleanupTicker = time.NewTicker(interval)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) Issue(ctx context.Context, req *types.PaymentRequirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[req.Nonce]; exists {
		return fmt.Errorf("nonce %s already issued", req.Nonce)
	}
	s.entries[req.Nonce] = &entry{
		req:         *req,
		retainUntil: req.ExpiresAt.Add(s.grace),
	}
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, nonce string) (*types.PaymentRequirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(nonce)
	if !ok {
		return nil, ErrUnknownNonce
	}
	if e.consumed {
		return nil, types.ErrReplay
	}
	req := e.req
	return &req, nil
}

func (s *MemoryStore) Consume(ctx context.Context, nonce string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(nonce)
	if !ok {
		return ErrUnknownNonce
	}
	if e.consumed {
		return types.ErrReplay
	}
	e.consumed = true
	return nil
}

// live returns the entry for nonce unless its retention has passed.
// Callers hold mu.
func (s *MemoryStore) live(nonce string) (*entry, bool) {
	e, ok := s.entries[nonce]
	if !ok || s.now().After(e.retainUntil) {
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for nonce, e := range s.entries {
		if now.After(e.retainUntil) {
			delete(s.entries, nonce)
		}
	}
}

// Stop ends the sweeper. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopCleanup)
	})
}

// Stats is a snapshot of the store for the health endpoint
type Stats struct {
	Issued   int `json:"issued"`
	Consumed int `json:"consumed"`
	Expired  int `json:"expired"`
}

func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	now := s.now()
	for _, e := range s.entries {
		st.Issued++
		if e.consumed {
			st.Consumed++
		}
		if e.req.Expired(now) {
			st.Expired++
		}
	}
	return st
}
