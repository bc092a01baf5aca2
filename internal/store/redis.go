package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/lmsr-market/internal/market"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store first; a created
// market is then cached and an updated one is evicted from the cache.
// Reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, then cache or invalidate) ---

func (s *CachedStore) CreateMarket(ctx context.Context, id string, m *market.Market) error {
	if err := s.primary.CreateMarket(ctx, id, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, id, m)
	return nil
}

func (s *CachedStore) UpdateMarket(ctx context.Context, id string, m *market.Market) error {
	if err := s.primary.UpdateMarket(ctx, id, m); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	if err := s.primary.InsertLedgerEntry(ctx, entry); err != nil {
		return err
	}
	s.rdb.Del(ctx, userLedgerKey(entry.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m market.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, id, m)
	return m, nil
}

// --- Passthrough (not cached: low read volume, or would need complex invalidation) ---

func (s *CachedStore) ListMarkets(ctx context.Context) (map[string]*market.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByMarket(ctx, marketID)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, id string, m *market.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(id), data, s.ttl)
	}
}

func marketKey(id string) string        { return fmt.Sprintf("market:%s", id) }
func userLedgerKey(uid string) string    { return fmt.Sprintf("ledger:user:%s", uid) }
