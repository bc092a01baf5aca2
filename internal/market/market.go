// Package market implements the binary-outcome prediction market state
// machine: its data model, lifecycle, trading operations, and the exact
// on-disk word layout existing stored markets depend on.
//
// Market is deliberately synchronous and allocation-light on its
// hot paths — it takes no context.Context and performs no I/O. Callers
// that need to serialize concurrent access to the same market (the host
// layer in internal/engine) are responsible for that; Market itself
// assumes single-threaded, serialized access per instance.
package market

import (
	"errors"
	"fmt"

	"github.com/atmx/lmsr-market/internal/events"
	"github.com/atmx/lmsr-market/internal/lmsr"
	"github.com/atmx/lmsr-market/internal/safemath"
)

// Sentinel errors, one per kind named in the protocol's error taxonomy.
// Lower layers (safemath, fixedpoint, lmsr) define their own narrower
// sentinels; code here maps them onto these market-level kinds where a
// caller needs a stable, documented error to branch on.
var (
	ErrOverflow              = errors.New("market: overflow")
	ErrUnderflow             = errors.New("market: underflow")
	ErrDivisionByZero        = errors.New("market: division by zero")
	ErrInvalidCalculation    = errors.New("market: invalid calculation")
	ErrInvalidBetType        = errors.New("market: invalid bet type")
	ErrInvalidBetAmount      = errors.New("market: invalid bet amount")
	ErrBetTooLarge           = errors.New("market: bet amount too large")
	ErrInsufficientBalance   = errors.New("market: insufficient balance")
	ErrLiquidityTooHigh      = errors.New("market: liquidity too high")
	ErrInvalidMarketTitle    = errors.New("market: invalid market title")
	ErrInvalidMarketTime     = errors.New("market: invalid market time")
	ErrMarketAlreadyResolved = errors.New("market: already resolved")
)

// Outcome is the tri-valued resolution result. Wire-encoded as
// {0,1,2} per the persisted layout — do not renumber these constants.
type Outcome uint8

const (
	// OutcomeUnresolved means the market has not been resolved yet.
	OutcomeUnresolved Outcome = 0
	// OutcomeNo means NO won.
	OutcomeNo Outcome = 1
	// OutcomeYes means YES won.
	OutcomeYes Outcome = 2
)

// Side re-exports lmsr.Side so callers need only import this package
// for the common case of placing or selling a bet.
type Side = lmsr.Side

const (
	SideNo  = lmsr.SideNo
	SideYes = lmsr.SideYes
)

// maxTitleWords bounds the title blob to 8 u64 words (64 bytes). The
// persisted layout reserves at most this many words for the title.
const maxTitleWords = 8

// Market is a binary YES/NO prediction market priced by the LMSR.
// Title is an opaque byte blob packed 8 bytes per word; the core never
// interprets it beyond the length bound.
type Market struct {
	Title          []uint64
	StartTime      uint64
	EndTime        uint64
	ResolutionTime uint64

	TotalYesShares uint64
	TotalNoShares  uint64

	// B is the LMSR liquidity parameter (market depth).
	B uint64

	// PoolBalance is the collateral backing outstanding shares.
	PoolBalance uint64

	TotalVolume uint64

	Resolved bool
	Outcome  Outcome

	TotalFeesCollected uint64

	// FeeRateBps is the platform fee rate in basis points, applied to
	// every bet and sell against this market.
	FeeRateBps uint64
}

// TitleToWords packs a byte string into the 8-bytes-per-word encoding
// this format uses for opaque title blobs.
func TitleToWords(title []byte) []uint64 {
	words := make([]uint64, 0, (len(title)+7)/8)
	for i := 0; i < len(title); i += 8 {
		end := i + 8
		if end > len(title) {
			end = len(title)
		}
		var word uint64
		for j, b := range title[i:end] {
			word |= uint64(b) << (8 * uint(j))
		}
		words = append(words, word)
	}
	return words
}

// WordsToTitle unpacks the 8-bytes-per-word title encoding back into a
// byte string, stopping at the first zero byte (matching the original
// null-terminated unpacking behavior).
func WordsToTitle(words []uint64) []byte {
	out := make([]byte, 0, len(words)*8)
	for _, w := range words {
		for i := 0; i < 8; i++ {
			b := byte(w >> (8 * uint(i)))
			if b == 0 {
				return out
			}
			out = append(out, b)
		}
	}
	return out
}

// New constructs a market, validating title length, time ordering, the
// initial virtual liquidity on each side, and the LMSR liquidity
// parameter b.
func New(title []uint64, startTime, endTime, resolutionTime, initialYesLiquidity, initialNoLiquidity, b, feeRateBps uint64) (*Market, error) {
	if len(title) > maxTitleWords {
		return nil, ErrInvalidMarketTitle
	}
	if startTime >= endTime {
		return nil, ErrInvalidMarketTime
	}
	if endTime > resolutionTime {
		return nil, ErrInvalidMarketTime
	}
	if err := mapLmsrErr(lmsr.ValidateLiquidity(initialYesLiquidity)); err != nil {
		return nil, err
	}
	if err := mapLmsrErr(lmsr.ValidateLiquidity(initialNoLiquidity)); err != nil {
		return nil, err
	}
	if err := mapLmsrErr(lmsr.ValidateB(b)); err != nil {
		return nil, err
	}

	titleCopy := make([]uint64, len(title))
	copy(titleCopy, title)

	return &Market{
		Title:          titleCopy,
		StartTime:      startTime,
		EndTime:        endTime,
		ResolutionTime: resolutionTime,
		TotalYesShares: initialYesLiquidity,
		TotalNoShares:  initialNoLiquidity,
		B:              b,
		FeeRateBps:     feeRateBps,
	}, nil
}

// mapLmsrErr translates an internal/lmsr sentinel into the market-level
// equivalent, or returns nil/the error unchanged if there is no mapping.
func mapLmsrErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lmsr.ErrInvalidCalculation):
		return ErrInvalidCalculation
	case errors.Is(err, lmsr.ErrInvalidBetType):
		return ErrInvalidBetType
	case errors.Is(err, lmsr.ErrInvalidBetAmount):
		return ErrInvalidBetAmount
	case errors.Is(err, lmsr.ErrBetTooLarge):
		return ErrBetTooLarge
	case errors.Is(err, lmsr.ErrLiquidityTooHigh):
		return ErrLiquidityTooHigh
	case errors.Is(err, safemath.ErrOverflow):
		return ErrOverflow
	case errors.Is(err, safemath.ErrUnderflow):
		return ErrUnderflow
	case errors.Is(err, safemath.ErrDivisionByZero):
		return ErrDivisionByZero
	default:
		return err
	}
}

// IsActive reports whether the market accepts trades at currentTime:
// it must have started, not yet ended, and not be resolved.
func (m *Market) IsActive(currentTime uint64) bool {
	return currentTime >= m.StartTime && currentTime < m.EndTime && !m.Resolved
}

// CanResolve reports whether the market is eligible for resolution at
// currentTime: resolution time must have passed and it must not already
// be resolved. Resolve itself does not enforce this — see DESIGN.md.
func (m *Market) CanResolve(currentTime uint64) bool {
	return currentTime >= m.ResolutionTime && !m.Resolved
}

// GetYesPrice returns the marginal YES price, scaled to lmsr.PricePrecision.
func (m *Market) GetYesPrice() (uint64, error) {
	p, err := lmsr.PriceYes(m.TotalYesShares, m.TotalNoShares, m.B)
	return p, mapLmsrErr(err)
}

// GetNoPrice returns the marginal NO price, scaled to lmsr.PricePrecision.
func (m *Market) GetNoPrice() (uint64, error) {
	p, err := lmsr.PriceNo(m.TotalYesShares, m.TotalNoShares, m.B)
	return p, mapLmsrErr(err)
}

// CalculateShares previews how many shares betAmount would mint on the
// given side, without mutating the market.
func (m *Market) CalculateShares(side Side, betAmount uint64) (uint64, error) {
	shares, err := lmsr.CalculateShares(m.TotalYesShares, m.TotalNoShares, m.B, side, betAmount, m.FeeRateBps)
	return shares, mapLmsrErr(err)
}

// CalculateSellDetails previews the net payout and fee for selling
// sharesToSell shares of the given side, without mutating the market.
func (m *Market) CalculateSellDetails(side Side, sharesToSell uint64) (lmsr.SellDetails, error) {
	details, err := lmsr.CalculateSellDetails(m.TotalYesShares, m.TotalNoShares, m.B, side, sharesToSell, m.FeeRateBps)
	return details, mapLmsrErr(err)
}

// PlaceBet mints shares for betAmount tokens on the given side, funds
// the pool with the net amount after fees, and credits the fee vault.
// It records a PLAYER_UPDATE-less BET_UPDATE and MARKET_UPDATE event
// pair into rec, if rec is non-nil. Returns the number of shares minted.
func (m *Market) PlaceBet(side Side, betAmount uint64, rec *events.Recorder) (uint64, error) {
	if err := mapLmsrErr(lmsr.ValidateBetAmount(betAmount)); err != nil {
		return 0, err
	}

	shares, err := m.CalculateShares(side, betAmount)
	if err != nil {
		return 0, err
	}
	if shares == 0 {
		return 0, ErrInvalidBetAmount
	}

	feeTokens, err := mapLmsrErrPair(lmsr.Fee(betAmount, m.FeeRateBps))
	if err != nil {
		return 0, err
	}
	netTokens, err := safemath.SafeSub(betAmount, feeTokens)
	if err != nil {
		return 0, mapLmsrErr(err)
	}

	// Stage every new field value before committing any of them, so a
	// failure partway through leaves the market untouched.
	newYes, newNo := m.TotalYesShares, m.TotalNoShares
	if side == SideYes {
		newYes, err = safemath.SafeAdd(m.TotalYesShares, shares)
	} else {
		newNo, err = safemath.SafeAdd(m.TotalNoShares, shares)
	}
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newPool, err := safemath.SafeAdd(m.PoolBalance, netTokens)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newVolume, err := safemath.SafeAdd(m.TotalVolume, betAmount)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newFees, err := safemath.SafeAdd(m.TotalFeesCollected, feeTokens)
	if err != nil {
		return 0, mapLmsrErr(err)
	}

	m.TotalYesShares = newYes
	m.TotalNoShares = newNo
	m.PoolBalance = newPool
	m.TotalVolume = newVolume
	m.TotalFeesCollected = newFees

	if rec != nil {
		rec.RecordBetUpdate(uint64(side), shares, betAmount, feeTokens)
		rec.RecordMarketUpdate(m.TotalYesShares, m.TotalNoShares)
	}

	return shares, nil
}

// SellShares burns sharesToSell shares of the given side, pays the net
// proceeds out of the pool, and retains the fee. It does not gate on
// IsActive — see DESIGN.md's "sell-while-closed" decision.
func (m *Market) SellShares(side Side, sharesToSell uint64, rec *events.Recorder) (uint64, error) {
	var currentShares uint64
	if side == SideYes {
		currentShares = m.TotalYesShares
	} else {
		currentShares = m.TotalNoShares
	}
	if sharesToSell > currentShares {
		return 0, ErrInsufficientBalance
	}

	details, err := m.CalculateSellDetails(side, sharesToSell)
	if err != nil {
		return 0, err
	}
	if details.NetPayout == 0 {
		return 0, ErrInvalidBetAmount
	}
	if details.NetPayout > m.PoolBalance {
		return 0, ErrInsufficientBalance
	}

	// Same staged-commit discipline as PlaceBet: no field changes until
	// every arithmetic step has succeeded.
	newYes, newNo := m.TotalYesShares, m.TotalNoShares
	if side == SideYes {
		newYes, err = safemath.SafeSub(m.TotalYesShares, sharesToSell)
	} else {
		newNo, err = safemath.SafeSub(m.TotalNoShares, sharesToSell)
	}
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newPool, err := safemath.SafeSub(m.PoolBalance, details.NetPayout)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newFees, err := safemath.SafeAdd(m.TotalFeesCollected, details.Fee)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	txValue, err := safemath.SafeAdd(details.NetPayout, details.Fee)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	newVolume, err := safemath.SafeAdd(m.TotalVolume, txValue)
	if err != nil {
		return 0, mapLmsrErr(err)
	}

	m.TotalYesShares = newYes
	m.TotalNoShares = newNo
	m.PoolBalance = newPool
	m.TotalFeesCollected = newFees
	m.TotalVolume = newVolume

	if rec != nil {
		rec.RecordBetUpdate(uint64(side), sharesToSell, details.NetPayout, details.Fee)
		rec.RecordMarketUpdate(m.TotalYesShares, m.TotalNoShares)
	}

	return details.NetPayout, nil
}

// Resolve settles the market to outcomeYes (true = YES wins). It does
// not gate on CanResolve — see DESIGN.md's "resolve time gate" decision.
func (m *Market) Resolve(outcomeYes bool, rec *events.Recorder) error {
	if m.Resolved {
		return ErrMarketAlreadyResolved
	}
	m.Resolved = true
	if outcomeYes {
		m.Outcome = OutcomeYes
	} else {
		m.Outcome = OutcomeNo
	}
	if rec != nil {
		rec.RecordMarketUpdate(m.TotalYesShares, m.TotalNoShares)
	}
	return nil
}

// CalculatePayout returns the proportional share of the pool owed to a
// holder of yesShares/noShares after resolution. Returns 0 before
// resolution or if the pool is empty.
func (m *Market) CalculatePayout(yesShares, noShares uint64) (uint64, error) {
	if !m.Resolved || m.PoolBalance == 0 {
		return 0, nil
	}
	switch m.Outcome {
	case OutcomeYes:
		if m.TotalYesShares == 0 {
			return 0, nil
		}
		payout, err := safemath.SafeDivHighPrecision(yesShares, m.PoolBalance, m.TotalYesShares)
		return payout, mapLmsrErr(err)
	case OutcomeNo:
		if m.TotalNoShares == 0 {
			return 0, nil
		}
		payout, err := safemath.SafeDivHighPrecision(noShares, m.PoolBalance, m.TotalNoShares)
		return payout, mapLmsrErr(err)
	default:
		return 0, nil
	}
}

// WithdrawFees removes amount from the accumulated fee vault. It has no
// effect on PoolBalance — fees are tracked separately from collateral
// by design.
func (m *Market) WithdrawFees(amount uint64) (uint64, error) {
	if amount == 0 || amount > m.TotalFeesCollected {
		return 0, ErrInvalidBetAmount
	}
	var err error
	m.TotalFeesCollected, err = safemath.SafeSub(m.TotalFeesCollected, amount)
	if err != nil {
		return 0, mapLmsrErr(err)
	}
	return amount, nil
}

// mapLmsrErrPair is a small helper for call sites that get back
// (value, error) from internal/lmsr and want the error remapped.
func mapLmsrErrPair(v uint64, err error) (uint64, error) {
	return v, mapLmsrErr(err)
}

// MarshalWords serializes the market into the exact word sequence
// existing stored markets use: a length-prefixed title, the time and
// share/liquidity fields in declaration order, the resolved flag as
// 0/1, the outcome tag as {0,1,2}, and the fee vault total. FeeRateBps
// is host configuration, not protocol state, and is not part of this
// layout.
func (m *Market) MarshalWords() []uint64 {
	words := make([]uint64, 0, 10+len(m.Title))
	words = append(words, uint64(len(m.Title)))
	words = append(words, m.Title...)
	words = append(words,
		m.StartTime,
		m.EndTime,
		m.ResolutionTime,
		m.TotalYesShares,
		m.TotalNoShares,
		m.B,
		m.PoolBalance,
		m.TotalVolume,
	)
	if m.Resolved {
		words = append(words, 1)
	} else {
		words = append(words, 0)
	}
	words = append(words, uint64(m.Outcome))
	words = append(words, m.TotalFeesCollected)
	return words
}

// UnmarshalWords reconstructs a market from the word sequence produced
// by MarshalWords. FeeRateBps must be supplied separately by the host,
// since it is not part of the persisted wire layout.
func UnmarshalWords(words []uint64, feeRateBps uint64) (*Market, error) {
	r := wordReader{words: words}

	titleLen, err := r.next()
	if err != nil {
		return nil, err
	}
	if titleLen > maxTitleWords {
		return nil, ErrInvalidMarketTitle
	}
	title := make([]uint64, titleLen)
	for i := range title {
		if title[i], err = r.next(); err != nil {
			return nil, err
		}
	}

	m := &Market{Title: title, FeeRateBps: feeRateBps}
	if m.StartTime, err = r.next(); err != nil {
		return nil, err
	}
	if m.EndTime, err = r.next(); err != nil {
		return nil, err
	}
	if m.ResolutionTime, err = r.next(); err != nil {
		return nil, err
	}
	if m.TotalYesShares, err = r.next(); err != nil {
		return nil, err
	}
	if m.TotalNoShares, err = r.next(); err != nil {
		return nil, err
	}
	if m.B, err = r.next(); err != nil {
		return nil, err
	}
	if m.PoolBalance, err = r.next(); err != nil {
		return nil, err
	}
	if m.TotalVolume, err = r.next(); err != nil {
		return nil, err
	}
	resolvedWord, err := r.next()
	if err != nil {
		return nil, err
	}
	m.Resolved = resolvedWord != 0

	outcomeWord, err := r.next()
	if err != nil {
		return nil, err
	}
	switch outcomeWord {
	case 0:
		m.Outcome = OutcomeUnresolved
	case 1:
		m.Outcome = OutcomeNo
	case 2:
		m.Outcome = OutcomeYes
	default:
		return nil, fmt.Errorf("market: unmarshal words: %w: unknown outcome tag %d", ErrInvalidCalculation, outcomeWord)
	}

	if m.TotalFeesCollected, err = r.next(); err != nil {
		return nil, err
	}
	return m, nil
}

// wordReader walks a []uint64 word sequence, erroring instead of
// panicking on a short read.
type wordReader struct {
	words []uint64
	pos   int
}

func (r *wordReader) next() (uint64, error) {
	if r.pos >= len(r.words) {
		return 0, fmt.Errorf("market: unmarshal words: %w: word sequence truncated at index %d", ErrInvalidCalculation, r.pos)
	}
	w := r.words[r.pos]
	r.pos++
	return w, nil
}
