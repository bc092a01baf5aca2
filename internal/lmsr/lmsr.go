// Package lmsr implements the logarithmic market scoring rule cost
// function, marginal prices, buy/sell quotes, the platform fee policy,
// and the share-amount solver for a binary YES/NO market.
//
// Every quantity here is a plain uint64: share counts and token amounts
// are unscaled integers, while intermediate quotes from the cost
// function are expressed in fixed-point units of Scale (see
// internal/fixedpoint) before being floored back down to whole tokens.
// Nothing in this package uses float64 — determinism across replaying
// hosts depends on that.
package lmsr

import (
	"errors"

	"github.com/atmx/lmsr-market/internal/fixedpoint"
	"github.com/atmx/lmsr-market/internal/safemath"
)

// Protocol constants. These match deployed state exactly and must never
// be changed without a migration — everything downstream (stored
// markets, past quotes) assumes this scale and these bounds.
const (
	// FPScale is the fixed-point scale used by Cost/Price/quote
	// functions internally. Equal to fixedpoint.Scale.
	FPScale = fixedpoint.Scale

	// PricePrecision is the scale of a returned YES/NO price: a price
	// of PricePrecision represents 1.0 (certainty).
	PricePrecision = 1_000_000

	// FeeBasisPoints is the denominator for a fee rate expressed in
	// basis points.
	FeeBasisPoints = 10_000

	// MinLiquidity and MaxLiquidity bound each side's initial virtual
	// share supply at market creation.
	MinLiquidity = 1_000
	MaxLiquidity = 1_000_000_000_000

	// MaxBetAmount bounds a single bet or sell's token amount.
	MaxBetAmount = 100_000_000

	// MaxShares bounds a single trade's share delta and the solver's
	// search range.
	MaxShares = 1_000_000_000
)

// Side selects which outcome a bet, sell, or quote applies to.
type Side uint8

const (
	// SideNo buys/sells NO shares.
	SideNo Side = 0
	// SideYes buys/sells YES shares.
	SideYes Side = 1
)

var (
	ErrInvalidCalculation = errors.New("lmsr: invalid calculation")
	ErrInvalidBetType     = errors.New("lmsr: invalid bet type")
	ErrInvalidBetAmount   = errors.New("lmsr: invalid bet amount")
	ErrBetTooLarge        = errors.New("lmsr: bet amount too large")
	ErrLiquidityTooHigh   = errors.New("lmsr: liquidity too high")
)

// SideFromUint64 validates a raw bet_type/sell_type value (1 = YES,
// 0 = NO) and converts it to a Side. Any other value is rejected with
// ErrInvalidBetType.
func SideFromUint64(v uint64) (Side, error) {
	switch v {
	case 1:
		return SideYes, nil
	case 0:
		return SideNo, nil
	default:
		return 0, ErrInvalidBetType
	}
}

// expQOverB computes exp(q/b) in fixed-point units of Scale.
func expQOverB(q, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrInvalidCalculation
	}
	qOverB, err := safemath.SafeDivHighPrecision(q, fixedpoint.Scale, b)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Exp(qOverB)
}

// Cost computes the LMSR cost function
//
//	C(q_yes, q_no) = b * ln(exp(q_yes/b) + exp(q_no/b))
//
// expressed in fixed-point units of Scale.
func Cost(qYes, qNo, b uint64) (uint64, error) {
	eYes, err := expQOverB(qYes, b)
	if err != nil {
		return 0, err
	}
	eNo, err := expQOverB(qNo, b)
	if err != nil {
		return 0, err
	}
	sumE, err := safemath.SafeAdd(eYes, eNo)
	if err != nil {
		return 0, err
	}
	lnSum, err := fixedpoint.Ln(sumE)
	if err != nil {
		return 0, err
	}
	return safemath.SafeMulHighPrecision(b, lnSum)
}

// PriceYes returns the marginal YES price in fixed-point units of
// PricePrecision.
func PriceYes(qYes, qNo, b uint64) (uint64, error) {
	eYes, err := expQOverB(qYes, b)
	if err != nil {
		return 0, err
	}
	eNo, err := expQOverB(qNo, b)
	if err != nil {
		return 0, err
	}
	denom, err := safemath.SafeAdd(eYes, eNo)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Div(eYes, denom)
}

// PriceNo returns the marginal NO price: PricePrecision - PriceYes.
func PriceNo(qYes, qNo, b uint64) (uint64, error) {
	pYes, err := PriceYes(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(PricePrecision, pYes)
}

// BuyYesQuote returns the fixed-point cost of buying deltaYes additional
// YES shares.
func BuyYesQuote(qYes, qNo, b, deltaYes uint64) (uint64, error) {
	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	newQYes, err := safemath.SafeAdd(qYes, deltaYes)
	if err != nil {
		return 0, err
	}
	after, err := Cost(newQYes, qNo, b)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(after, before)
}

// BuyNoQuote returns the fixed-point cost of buying deltaNo additional
// NO shares.
func BuyNoQuote(qYes, qNo, b, deltaNo uint64) (uint64, error) {
	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	newQNo, err := safemath.SafeAdd(qNo, deltaNo)
	if err != nil {
		return 0, err
	}
	after, err := Cost(qYes, newQNo, b)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(after, before)
}

// SellYesQuote returns the fixed-point payout for selling sYes YES
// shares back to the market maker. Fails with ErrInvalidBetAmount if
// sYes exceeds the outstanding YES supply.
func SellYesQuote(qYes, qNo, b, sYes uint64) (uint64, error) {
	if sYes > qYes {
		return 0, ErrInvalidBetAmount
	}
	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	after, err := Cost(qYes-sYes, qNo, b)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(before, after)
}

// SellNoQuote returns the fixed-point payout for selling sNo NO shares
// back to the market maker. Fails with ErrInvalidBetAmount if sNo
// exceeds the outstanding NO supply.
func SellNoQuote(qYes, qNo, b, sNo uint64) (uint64, error) {
	if sNo > qNo {
		return 0, ErrInvalidBetAmount
	}
	before, err := Cost(qYes, qNo, b)
	if err != nil {
		return 0, err
	}
	after, err := Cost(qYes, qNo-sNo, b)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(before, after)
}

// Fee computes the platform fee owed on amount at the given basis-point
// rate, rounded up so that any nonzero trade pays at least one unit of
// fee. Fails with ErrBetTooLarge if amount exceeds MaxBetAmount.
func Fee(amount, feeRateBps uint64) (uint64, error) {
	if amount > MaxBetAmount {
		return 0, ErrBetTooLarge
	}
	numerator, err := safemath.SafeMulHighPrecision(amount, feeRateBps)
	if err != nil {
		return 0, err
	}
	rounded, err := safemath.SafeAdd(numerator, FeeBasisPoints-1)
	if err != nil {
		return 0, err
	}
	return safemath.SafeDiv(rounded, FeeBasisPoints)
}

// Net returns betAmount minus its platform fee.
func Net(betAmount, feeRateBps uint64) (uint64, error) {
	fee, err := Fee(betAmount, feeRateBps)
	if err != nil {
		return 0, err
	}
	return safemath.SafeSub(betAmount, fee)
}

// EffectivePrice returns the average price paid per share, in fixed-point
// units of PricePrecision. Returns 0 if shares is 0.
func EffectivePrice(amount, shares uint64) (uint64, error) {
	if shares == 0 {
		return 0, nil
	}
	return safemath.SafeDivHighPrecision(amount, PricePrecision, shares)
}

// ValidateB rejects a zero liquidity parameter. It applies no minimum or
// maximum; ValidateLiquidity's bounds are for the seeded share supply.
func ValidateB(b uint64) error {
	if b == 0 {
		return ErrInvalidCalculation
	}
	return nil
}

// ValidateLiquidity enforces MinLiquidity <= liquidity <= MaxLiquidity.
func ValidateLiquidity(liquidity uint64) error {
	if liquidity < MinLiquidity {
		return ErrInvalidCalculation
	}
	if liquidity > MaxLiquidity {
		return ErrLiquidityTooHigh
	}
	return nil
}

// ValidateBetAmount enforces 0 < betAmount <= MaxBetAmount.
func ValidateBetAmount(betAmount uint64) error {
	if betAmount == 0 {
		return ErrInvalidBetAmount
	}
	if betAmount > MaxBetAmount {
		return ErrBetTooLarge
	}
	return nil
}

// ValidateShares enforces 0 < shares <= MaxShares.
func ValidateShares(shares uint64) error {
	if shares == 0 {
		return ErrInvalidBetAmount
	}
	if shares > MaxShares {
		return ErrBetTooLarge
	}
	return nil
}

// CalculateShares binary-searches for the largest share delta whose
// buy quote (in whole tokens, floored) does not exceed the bet's net
// amount after fees, matching the market's cost function exactly.
// feeRateBps is the platform fee rate in basis points.
func CalculateShares(qYes, qNo, b uint64, side Side, betAmount, feeRateBps uint64) (uint64, error) {
	if err := ValidateBetAmount(betAmount); err != nil {
		return 0, err
	}
	netAmount, err := Net(betAmount, feeRateBps)
	if err != nil {
		return 0, err
	}

	buyQuote := BuyYesQuote
	if side == SideNo {
		buyQuote = BuyNoQuote
	}

	var lo, hi uint64 = 0, MaxShares
	for lo < hi {
		mid := lo + (hi-lo+1)/2

		quote, err := buyQuote(qYes, qNo, b, mid)
		if errors.Is(err, safemath.ErrOverflow) || errors.Is(err, safemath.ErrUnderflow) {
			// A delta whose cost leaves the arithmetic range of the
			// series is unaffordable; keep searching below it.
			hi = mid - 1
			continue
		}
		if err != nil {
			return 0, err
		}

		// The search is only sound if buy cost is non-decreasing in the
		// share delta. The truncated series guarantees that inside its
		// domain; a violation means the state is outside it.
		prev, err := buyQuote(qYes, qNo, b, mid-1)
		if err != nil {
			return 0, err
		}
		if quote < prev {
			return 0, ErrInvalidCalculation
		}

		quoteTokens := quote / PricePrecision
		if quoteTokens <= netAmount {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if err := ValidateShares(lo); err != nil {
		return 0, err
	}
	return lo, nil
}

// SellDetails holds the net payout and fee (in whole tokens) for
// selling shares back to the market.
type SellDetails struct {
	NetPayout uint64
	Fee       uint64
}

// CalculateSellDetails quotes the net payout and fee for selling
// sharesToSell shares of the given side back to the market maker.
func CalculateSellDetails(qYes, qNo, b uint64, side Side, sharesToSell, feeRateBps uint64) (SellDetails, error) {
	if err := ValidateShares(sharesToSell); err != nil {
		return SellDetails{}, err
	}

	var grossQuote uint64
	var err error
	if side == SideYes {
		grossQuote, err = SellYesQuote(qYes, qNo, b, sharesToSell)
	} else {
		grossQuote, err = SellNoQuote(qYes, qNo, b, sharesToSell)
	}
	if err != nil {
		return SellDetails{}, err
	}

	grossTokens := grossQuote / PricePrecision
	if grossTokens == 0 {
		return SellDetails{}, nil
	}

	fee, err := Fee(grossTokens, feeRateBps)
	if err != nil {
		return SellDetails{}, err
	}
	netPayout, err := safemath.SafeSub(grossTokens, fee)
	if err != nil {
		return SellDetails{}, err
	}
	return SellDetails{NetPayout: netPayout, Fee: fee}, nil
}
