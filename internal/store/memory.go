package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/lmsr-market/internal/market"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*market.Market
	ledger  []LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*market.Market),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, id string, m *market.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[id]; exists {
		return fmt.Errorf("create market %s: already exists", id)
	}

	clone := *m
	s.markets[id] = &clone
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "market", ID: id}
	}
	clone := *m
	return &clone, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) (map[string]*market.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*market.Market, len(s.markets))
	for id, m := range s.markets {
		clone := *m
		out[id] = &clone
	}
	return out, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, id string, m *market.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[id]; !ok {
		return &ErrNotFound{Kind: "market", ID: id}
	}
	clone := *m
	s.markets[id] = &clone
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByMarket(_ context.Context, marketID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []LedgerEntry
	for _, e := range s.ledger {
		if e.MarketID == marketID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			result = append(result, e)
		}
	}
	return result, nil
}
