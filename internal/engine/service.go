// Package engine provides the HTTP handlers and host-side orchestration
// for the prediction market: creating markets, placing bets, selling
// shares, resolving outcomes, and withdrawing collected fees.
//
// All monetary/share quantities exposed over the wire are plain uint64
// token counts or fixed-point prices — never float64, matching the
// core's own determinism requirement.
package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/lmsr-market/internal/lmsr"
	"github.com/atmx/lmsr-market/internal/market"
	"github.com/atmx/lmsr-market/internal/metrics"
	"github.com/atmx/lmsr-market/internal/store"
	"github.com/atmx/lmsr-market/internal/ws"

	"github.com/atmx/lmsr-market/internal/events"
)

// Service handles market operations. Uses a mutex for serialized
// mutation (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store         store.Store
	mu            sync.Mutex
	hub           *ws.Hub // optional WebSocket hub for real-time broadcasts
	defaultFeeBps uint64
}

// NewService creates a new engine service. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *ws.Hub, defaultFeeBps uint64) *Service {
	return &Service{
		store:         st,
		hub:           hub,
		defaultFeeBps: defaultFeeBps,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Title               string `json:"title"`
	StartTime           uint64 `json:"start_time"`
	EndTime             uint64 `json:"end_time"`
	ResolutionTime      uint64 `json:"resolution_time"`
	InitialYesLiquidity uint64 `json:"initial_yes_liquidity"`
	InitialNoLiquidity  uint64 `json:"initial_no_liquidity"`
	B                   uint64 `json:"b"` // liquidity parameter; 0 -> default
	FeeRateBps          uint64 `json:"fee_rate_bps,omitempty"`
}

// BetRequest is the JSON body for POST /markets/{marketID}/bet.
type BetRequest struct {
	Side   string `json:"side"` // "YES" or "NO"
	Amount uint64 `json:"amount"`
}

// BetResponse is the JSON body returned from a successful bet.
type BetResponse struct {
	Shares   uint64 `json:"shares"`
	PriceYes uint64 `json:"price_yes"`
	PriceNo  uint64 `json:"price_no"`
}

// SellRequest is the JSON body for POST /markets/{marketID}/sell.
type SellRequest struct {
	Side   string `json:"side"`
	Shares uint64 `json:"shares"`
}

// SellResponse is the JSON body returned from a successful sell.
type SellResponse struct {
	NetPayout uint64 `json:"net_payout"`
	PriceYes  uint64 `json:"price_yes"`
	PriceNo   uint64 `json:"price_no"`
}

// ResolveRequest is the JSON body for POST /markets/{marketID}/resolve.
type ResolveRequest struct {
	OutcomeYes bool `json:"outcome_yes"`
}

// WithdrawFeesRequest is the JSON body for POST /markets/{marketID}/fees/withdraw.
type WithdrawFeesRequest struct {
	Amount uint64 `json:"amount"`
}

func sideFromString(s string) (market.Side, error) {
	switch s {
	case "YES":
		return market.SideYes, nil
	case "NO":
		return market.SideNo, nil
	default:
		return 0, lmsr.ErrInvalidBetType
	}
}

func sideString(s market.Side) string {
	if s == market.SideYes {
		return "YES"
	}
	return "NO"
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	feeRateBps := req.FeeRateBps
	if feeRateBps == 0 {
		feeRateBps = s.defaultFeeBps
	}

	b := req.B
	if b == 0 {
		b = 1_000_000 // default liquidity depth, in token units
	}

	m, err := market.New(
		market.TitleToWords([]byte(req.Title)),
		req.StartTime, req.EndTime, req.ResolutionTime,
		req.InitialYesLiquidity, req.InitialNoLiquidity,
		b, feeRateBps,
	)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := uuid.New().String()
	ctx := r.Context()
	if err := s.store.CreateMarket(ctx, id, m); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created", "id", id, "title", req.Title, "b", b)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	yes, err := m.GetYesPrice()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	no, err := m.GetNoPrice()
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"yes": yes, "no": no})
}

// PlaceBet handles POST /api/v1/markets/{marketID}/bet.
// Executes against the LMSR, returns shares minted and updated prices.
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	userID := r.URL.Query().Get("user_id")

	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, err := sideFromString(req.Side)
	if err != nil {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		writeError(w, "amount must be non-zero", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Serialize trade execution.
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	// The state machine itself takes no clock; the transaction layer is
	// where the trading window is enforced.
	if !m.IsActive(uint64(time.Now().Unix())) {
		writeError(w, "market is not open for trading", http.StatusConflict)
		return
	}

	rec := &events.Recorder{}
	shares, err := m.PlaceBet(side, req.Amount, rec)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.store.UpdateMarket(ctx, marketID, m); err != nil {
		writeError(w, "failed to update market state", http.StatusInternalServerError)
		return
	}
	s.drainEvents(marketID, rec)

	priceYes, _ := m.GetYesPrice()
	priceNo, _ := m.GetNoPrice()

	entry := &store.LedgerEntry{
		ID:             uuid.New().String(),
		MarketID:       marketID,
		UserID:         userID,
		Action:         "BET",
		Side:           side,
		Shares:         shares,
		AmountTokens:   req.Amount,
		FeeTokens:      mustFee(req.Amount, m.FeeRateBps),
		EffectivePrice: effectivePriceDecimal(req.Amount, shares),
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	metrics.TradesTotal.WithLabelValues(sideString(side)).Inc()
	metrics.TradeLatency.WithLabelValues(sideString(side)).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(marketID, sideString(side)).Add(float64(req.Amount))

	slog.Info("bet placed", "market_id", marketID, "user", userID, "side", req.Side, "amount", req.Amount, "shares", shares)

	if s.hub != nil {
		s.hub.Broadcast(ws.Message{
			Type:     "bet_placed",
			MarketID: marketID,
			Side:     req.Side,
			Shares:   strconv.FormatUint(shares, 10),
			Amount:   strconv.FormatUint(req.Amount, 10),
			PriceYes: strconv.FormatUint(priceYes, 10),
			PriceNo:  strconv.FormatUint(priceNo, 10),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BetResponse{Shares: shares, PriceYes: priceYes, PriceNo: priceNo})
}

// SellShares handles POST /api/v1/markets/{marketID}/sell.
func (s *Service) SellShares(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	userID := r.URL.Query().Get("user_id")

	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, err := sideFromString(req.Side)
	if err != nil {
		writeError(w, "side must be YES or NO", http.StatusBadRequest)
		return
	}
	if req.Shares == 0 {
		writeError(w, "shares must be non-zero", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	details, err := m.CalculateSellDetails(side, req.Shares)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	rec := &events.Recorder{}
	netPayout, err := m.SellShares(side, req.Shares, rec)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.store.UpdateMarket(ctx, marketID, m); err != nil {
		writeError(w, "failed to update market state", http.StatusInternalServerError)
		return
	}
	s.drainEvents(marketID, rec)

	priceYes, _ := m.GetYesPrice()
	priceNo, _ := m.GetNoPrice()

	entry := &store.LedgerEntry{
		ID:             uuid.New().String(),
		MarketID:       marketID,
		UserID:         userID,
		Action:         "SELL",
		Side:           side,
		Shares:         req.Shares,
		AmountTokens:   netPayout,
		FeeTokens:      details.Fee,
		EffectivePrice: effectivePriceDecimal(netPayout, req.Shares),
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}

	metrics.TradesTotal.WithLabelValues(sideString(side)).Inc()
	slog.Info("shares sold", "market_id", marketID, "user", userID, "side", req.Side, "shares", req.Shares, "net_payout", netPayout)

	if s.hub != nil {
		s.hub.Broadcast(ws.Message{
			Type:     "shares_sold",
			MarketID: marketID,
			Side:     req.Side,
			Shares:   strconv.FormatUint(req.Shares, 10),
			Amount:   strconv.FormatUint(netPayout, 10),
			PriceYes: strconv.FormatUint(priceYes, 10),
			PriceNo:  strconv.FormatUint(priceNo, 10),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SellResponse{NetPayout: netPayout, PriceYes: priceYes, PriceNo: priceNo})
}

// Resolve handles POST /api/v1/markets/{marketID}/resolve.
func (s *Service) Resolve(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	rec := &events.Recorder{}
	if err := m.Resolve(req.OutcomeYes, rec); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.store.UpdateMarket(ctx, marketID, m); err != nil {
		writeError(w, "failed to update market state", http.StatusInternalServerError)
		return
	}
	s.drainEvents(marketID, rec)

	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved", "market_id", marketID, "outcome_yes", req.OutcomeYes)

	if s.hub != nil {
		s.hub.Broadcast(ws.Message{
			Type:       "market_resolved",
			MarketID:   marketID,
			Resolved:   true,
			OutcomeYes: req.OutcomeYes,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// WithdrawFees handles POST /api/v1/markets/{marketID}/fees/withdraw.
func (s *Service) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req WithdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	withdrawn, err := m.WithdrawFees(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	if err := s.store.UpdateMarket(ctx, marketID, m); err != nil {
		writeError(w, "failed to update market state", http.StatusInternalServerError)
		return
	}

	metrics.FeesWithdrawnTotal.Add(float64(withdrawn))
	slog.Info("fees withdrawn", "market_id", marketID, "amount", withdrawn)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"withdrawn": withdrawn})
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns ledger entries to reconstruct price history.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	entries, err := s.store.GetLedgerEntriesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetUserHistory handles GET /api/v1/users/{userID}/history
func (s *Service) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	entries, err := s.store.GetLedgerEntriesByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to get user history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetPayout handles GET /api/v1/markets/{marketID}/payout, computing
// the collateral owed to a holder of the given yes/no share counts
// after resolution.
func (s *Service) GetPayout(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	yesShares, err := strconv.ParseUint(r.URL.Query().Get("yes_shares"), 10, 64)
	if err != nil {
		yesShares = 0
	}
	noShares, err := strconv.ParseUint(r.URL.Query().Get("no_shares"), 10, 64)
	if err != nil {
		noShares = 0
	}

	m, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	payout, err := m.CalculatePayout(yesShares, noShares)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"payout": payout})
}

// drainEvents empties rec's accumulated event words after a successful
// commit and logs them at debug level. The event buffer itself is not
// persisted; it is a per-call effect channel, not protocol state.
func (s *Service) drainEvents(marketID string, rec *events.Recorder) {
	words := rec.Drain()
	if len(words) == 0 {
		return
	}
	slog.Debug("market events", "market_id", marketID, "words", words)
}

// mustFee computes the fee for a bet amount for ledger purposes. A
// failure here (only possible if betAmount exceeds lmsr.MaxBetAmount,
// which PlaceBet would already have rejected) degrades to a zero fee
// record rather than failing the already-committed trade.
func mustFee(betAmount, feeRateBps uint64) uint64 {
	fee, err := lmsr.Fee(betAmount, feeRateBps)
	if err != nil {
		return 0
	}
	return fee
}

// effectivePriceDecimal renders a per-share price in human-readable
// decimal form for the audit ledger, derived from the protocol's own
// integer amount/shares — this is a display-only conversion downstream
// of the deterministic core, not used by any pricing calculation.
func effectivePriceDecimal(amountTokens, shares uint64) decimal.Decimal {
	if shares == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(amountTokens)).Div(decimal.NewFromInt(int64(shares)))
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
