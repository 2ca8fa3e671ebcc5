package store

import (
	"context"
	"sync"
)

// MemoryStore keeps wallets and responses in process. Used when MONGO_URI
// is unset and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]Wallet
	responses []Response
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]Wallet)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStore) Save(ctx context.Context, wallet *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wallets[wallet.UserID] = *wallet
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.wallets, userID)
	return nil
}

func (s *MemoryStore) Record(ctx context.Context, resp *Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = append(s.responses, *resp)
	return nil
}

// Responses returns a copy of everything recorded so far
func (s *MemoryStore) Responses() []Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Response, len(s.responses))
	copy(out, s.responses)
	return out
}
