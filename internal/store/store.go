// Package store defines the persistence interface for the market
// engine. PostgreSQL is the source of truth; Redis provides a
// read-through cache layer; MemoryStore backs tests and local dev.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-market/internal/market"
)

// LedgerEntry is an immutable record of one bet or sell fill, kept for
// audit and portfolio queries. EffectivePrice is the one field here
// that isn't a raw protocol uint64: it's a host-computed, human-
// readable price-per-share an operator dashboard or reconciliation job
// would read, so it uses decimal.Decimal rather than a fixed-point
// uint64. Never float64 for money, even in display-only fields.
type LedgerEntry struct {
	ID             string
	MarketID       string
	UserID         string
	Action         string // "BET" or "SELL"
	Side           market.Side
	Shares         uint64
	AmountTokens   uint64
	FeeTokens      uint64
	EffectivePrice decimal.Decimal
	Timestamp      time.Time
}

// Store is the persistence interface.
type Store interface {
	// CreateMarket persists a newly created market under id.
	CreateMarket(ctx context.Context, id string, m *market.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*market.Market, error)

	// ListMarkets returns all markets, keyed by ID.
	ListMarkets(ctx context.Context) (map[string]*market.Market, error)

	// UpdateMarket persists the market's full current state after a
	// mutating operation (bet, sell, resolve, fee withdrawal).
	UpdateMarket(ctx context.Context, id string, m *market.Market) error

	// InsertLedgerEntry appends an immutable trade record.
	InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error

	// GetLedgerEntriesByMarket returns all trades for a market.
	GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]LedgerEntry, error)

	// GetLedgerEntriesByUser returns all trades for a user.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]LedgerEntry, error)
}

// ErrNotFound is returned when a market lookup finds nothing.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return e.Kind + " " + e.ID + " not found"
}
