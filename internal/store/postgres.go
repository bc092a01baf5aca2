package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-market/internal/market"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Share counts, the liquidity parameter, pool balance, volume,
// and fee totals are u64 token counts, not decimals, so they are stored
// as NUMERIC(20,0) rather than floating point — wide enough to hold
// lmsr.MaxLiquidity-scale values with no rounding.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// titleToColumn and columnToTitle round-trip a title's word sequence
// through a comma-separated decimal string column. A fixed-width
// BIGINT array risks sign misinterpretation — a packed title word can
// have its top bit set — so the column is TEXT instead.
func titleToColumn(title []uint64) string {
	parts := make([]string, len(title))
	for i, w := range title {
		parts[i] = strconv.FormatUint(w, 10)
	}
	return strings.Join(parts, ",")
}

func columnToTitle(col string) ([]uint64, error) {
	if col == "" {
		return nil, nil
	}
	parts := strings.Split(col, ",")
	title := make([]uint64, len(parts))
	for i, p := range parts {
		w, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse title word %q: %w", p, err)
		}
		title[i] = w
	}
	return title, nil
}

func outcomeToColumn(o market.Outcome) int16 { return int16(o) }

func columnToOutcome(v int16) market.Outcome { return market.Outcome(v) }

func (s *PostgresStore) CreateMarket(ctx context.Context, id string, m *market.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, start_time, end_time, resolution_time,
		                       total_yes_shares, total_no_shares, b, pool_balance,
		                       total_volume, resolved, outcome, total_fees_collected, fee_rate_bps)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10::NUMERIC, $11, $12, $13::NUMERIC, $14)`,
		id, titleToColumn(m.Title), m.StartTime, m.EndTime, m.ResolutionTime,
		m.TotalYesShares, m.TotalNoShares, m.B, m.PoolBalance,
		m.TotalVolume, m.Resolved, outcomeToColumn(m.Outcome), m.TotalFeesCollected, m.FeeRateBps,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*market.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT title, start_time, end_time, resolution_time,
		        total_yes_shares::TEXT, total_no_shares::TEXT, b::TEXT, pool_balance::TEXT,
		        total_volume::TEXT, resolved, outcome, total_fees_collected::TEXT, fee_rate_bps
		 FROM markets WHERE id = $1`, id)

	m, err := s.scanMarketText(row)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) (map[string]*market.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, start_time, end_time, resolution_time,
		        total_yes_shares::TEXT, total_no_shares::TEXT, b::TEXT, pool_balance::TEXT,
		        total_volume::TEXT, resolved, outcome, total_fees_collected::TEXT, fee_rate_bps
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*market.Market)
	for rows.Next() {
		var id string
		var titleCol, yesS, noS, bS, poolS, volS, feesS string
		var outcomeCol int16
		var m market.Market

		if err := rows.Scan(&id, &titleCol, &m.StartTime, &m.EndTime, &m.ResolutionTime,
			&yesS, &noS, &bS, &poolS, &volS, &m.Resolved, &outcomeCol, &feesS, &m.FeeRateBps); err != nil {
			return nil, fmt.Errorf("list markets: %w", err)
		}

		if m.Title, err = columnToTitle(titleCol); err != nil {
			return nil, err
		}
		if m.TotalYesShares, err = strconv.ParseUint(yesS, 10, 64); err != nil {
			return nil, err
		}
		if m.TotalNoShares, err = strconv.ParseUint(noS, 10, 64); err != nil {
			return nil, err
		}
		if m.B, err = strconv.ParseUint(bS, 10, 64); err != nil {
			return nil, err
		}
		if m.PoolBalance, err = strconv.ParseUint(poolS, 10, 64); err != nil {
			return nil, err
		}
		if m.TotalVolume, err = strconv.ParseUint(volS, 10, 64); err != nil {
			return nil, err
		}
		if m.TotalFeesCollected, err = strconv.ParseUint(feesS, 10, 64); err != nil {
			return nil, err
		}
		m.Outcome = columnToOutcome(outcomeCol)
		out[id] = &m
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateMarket(ctx context.Context, id string, m *market.Market) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET total_yes_shares = $2::NUMERIC, total_no_shares = $3::NUMERIC,
		     pool_balance = $4::NUMERIC, total_volume = $5::NUMERIC,
		     resolved = $6, outcome = $7, total_fees_collected = $8::NUMERIC
		 WHERE id = $1`,
		id, m.TotalYesShares, m.TotalNoShares, m.PoolBalance, m.TotalVolume,
		m.Resolved, outcomeToColumn(m.Outcome), m.TotalFeesCollected,
	)
	if err != nil {
		return fmt.Errorf("update market %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Kind: "market", ID: id}
	}
	return nil
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, market_id, user_id, action, side, shares, amount_tokens, fee_tokens, effective_price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		e.ID, e.MarketID, e.UserID, e.Action, uint8(e.Side), e.Shares, e.AmountTokens, e.FeeTokens,
		e.EffectivePrice.String(), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetLedgerEntriesByMarket(ctx context.Context, marketID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, action, side, shares::TEXT, amount_tokens::TEXT,
		        fee_tokens::TEXT, effective_price::TEXT, timestamp
		 FROM ledger_entries WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger entries for market %s: %w", marketID, err)
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, user_id, action, side, shares::TEXT, amount_tokens::TEXT,
		        fee_tokens::TEXT, effective_price::TEXT, timestamp
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger entries for user %s: %w", userID, err)
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// pgxRow and pgxRows are the narrow subsets of pgx.Row/pgx.Rows this
// package needs, kept as local interfaces so scan helpers are testable
// without a live pool.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func (s *PostgresStore) scanMarketText(row pgxRow) (*market.Market, error) {
	var m market.Market
	var titleCol, yesS, noS, bS, poolS, volS, feesS string
	var outcomeCol int16

	if err := row.Scan(&titleCol, &m.StartTime, &m.EndTime, &m.ResolutionTime,
		&yesS, &noS, &bS, &poolS, &volS, &m.Resolved, &outcomeCol, &feesS, &m.FeeRateBps); err != nil {
		return nil, err
	}

	var err error
	if m.Title, err = columnToTitle(titleCol); err != nil {
		return nil, err
	}
	if m.TotalYesShares, err = strconv.ParseUint(yesS, 10, 64); err != nil {
		return nil, err
	}
	if m.TotalNoShares, err = strconv.ParseUint(noS, 10, 64); err != nil {
		return nil, err
	}
	if m.B, err = strconv.ParseUint(bS, 10, 64); err != nil {
		return nil, err
	}
	if m.PoolBalance, err = strconv.ParseUint(poolS, 10, 64); err != nil {
		return nil, err
	}
	if m.TotalVolume, err = strconv.ParseUint(volS, 10, 64); err != nil {
		return nil, err
	}
	if m.TotalFeesCollected, err = strconv.ParseUint(feesS, 10, 64); err != nil {
		return nil, err
	}
	m.Outcome = columnToOutcome(outcomeCol)
	return &m, nil
}

func scanLedgerEntries(rows pgxRows) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var side uint8
		var sharesS, amountS, feeS, priceS string

		if err := rows.Scan(&e.ID, &e.MarketID, &e.UserID, &e.Action, &side,
			&sharesS, &amountS, &feeS, &priceS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Side = market.Side(side)
		var err error
		if e.Shares, err = strconv.ParseUint(sharesS, 10, 64); err != nil {
			return nil, err
		}
		if e.AmountTokens, err = strconv.ParseUint(amountS, 10, 64); err != nil {
			return nil, err
		}
		if e.FeeTokens, err = strconv.ParseUint(feeS, 10, 64); err != nil {
			return nil, err
		}
		e.EffectivePrice, err = decimal.NewFromString(priceS)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
