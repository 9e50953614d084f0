package accounts

import (
	"context"
	"sync"
	"time"
)

// StaticStore is an in-memory Store for development mode and tests
type StaticStore struct {
	accounts map[string]ExchangeAccount
	mu       sync.RWMutex
}

func NewStaticStore(accts ...ExchangeAccount) *StaticStore {
	s := &StaticStore{accounts: make(map[string]ExchangeAccount, len(accts))}
	for _, a := range accts {
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now()
		}
		a.IsActive = true
		s.accounts[a.ID] = a
	}
	return s
}

// Add registers an account
func (s *StaticStore) Add(a ExchangeAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.IsActive = true
	s.accounts[a.ID] = a
}

func (s *StaticStore) FindExchangeAccount(ctx context.Context, accountID, userID string) (*ExchangeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[accountID]
	if !ok || acc.UserID != userID || !acc.IsActive {
		return nil, ErrNotFound
	}
	out := acc
	return &out, nil
}
