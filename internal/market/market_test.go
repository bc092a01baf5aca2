package market

import (
	"errors"
	"reflect"
	"testing"

	"github.com/atmx/lmsr-market/internal/events"
	"github.com/atmx/lmsr-market/internal/lmsr"
)

const testFeeRateBps = 100 // 1%

func newTestMarket(t *testing.T) *Market {
	t.Helper()
	m, err := New(TitleToWords([]byte("will it rain")), 0, 1000, 2000, 1000, 1000, 10000, testFeeRateBps)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	return m
}

func TestTitleRoundTrip(t *testing.T) {
	title := []byte("hello market")
	words := TitleToWords(title)
	back := WordsToTitle(words)
	if string(back) != string(title) {
		t.Errorf("WordsToTitle(TitleToWords(%q)) = %q", title, back)
	}
}

func TestNewRejectsOversizeTitle(t *testing.T) {
	title := make([]uint64, maxTitleWords+1)
	if _, err := New(title, 0, 100, 200, 1000, 1000, 10000, testFeeRateBps); !errors.Is(err, ErrInvalidMarketTitle) {
		t.Errorf("New with oversize title err = %v, want ErrInvalidMarketTitle", err)
	}
}

func TestNewRejectsBadTimeOrdering(t *testing.T) {
	if _, err := New(nil, 100, 100, 200, 1000, 1000, 10000, testFeeRateBps); !errors.Is(err, ErrInvalidMarketTime) {
		t.Errorf("New with start==end err = %v, want ErrInvalidMarketTime", err)
	}
	if _, err := New(nil, 0, 300, 200, 1000, 1000, 10000, testFeeRateBps); !errors.Is(err, ErrInvalidMarketTime) {
		t.Errorf("New with end>resolution err = %v, want ErrInvalidMarketTime", err)
	}
}

func TestNewRejectsBadLiquidity(t *testing.T) {
	if _, err := New(nil, 0, 100, 200, lmsr.MinLiquidity-1, 1000, 10000, testFeeRateBps); !errors.Is(err, ErrInvalidCalculation) {
		t.Errorf("New with too-low liquidity err = %v, want ErrInvalidCalculation", err)
	}
	if _, err := New(nil, 0, 100, 200, lmsr.MaxLiquidity+1, 1000, 10000, testFeeRateBps); !errors.Is(err, ErrLiquidityTooHigh) {
		t.Errorf("New with too-high liquidity err = %v, want ErrLiquidityTooHigh", err)
	}
}

func TestIsActiveAndCanResolve(t *testing.T) {
	m := newTestMarket(t)
	if m.IsActive(500) != true {
		t.Errorf("IsActive(500) = false, want true")
	}
	if m.IsActive(1999) != false {
		t.Errorf("IsActive(1999) = true, want false (after end)")
	}
	if m.IsActive(2500) != false {
		t.Errorf("IsActive(2500) = true, want false (after end)")
	}
	if m.CanResolve(1999) != false {
		t.Errorf("CanResolve(1999) = true, want false (before resolution time)")
	}
	if m.CanResolve(2000) != true {
		t.Errorf("CanResolve(2000) = false, want true")
	}
}

func TestPlaceBetMintsSharesAndFundsPool(t *testing.T) {
	m := newTestMarket(t)
	var rec events.Recorder

	shares, err := m.PlaceBet(SideYes, 1000, &rec)
	if err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}
	if shares == 0 {
		t.Fatalf("PlaceBet minted 0 shares")
	}
	if m.TotalYesShares != 1000+shares {
		t.Errorf("TotalYesShares = %d, want %d", m.TotalYesShares, 1000+shares)
	}
	// 1% of 1000 is exactly 10; the pool gets the rest.
	if m.TotalFeesCollected != 10 {
		t.Errorf("TotalFeesCollected = %d, want 10", m.TotalFeesCollected)
	}
	if m.PoolBalance != 990 {
		t.Errorf("PoolBalance = %d, want 990", m.PoolBalance)
	}
	if m.TotalVolume != 1000 {
		t.Errorf("TotalVolume = %d, want 1000", m.TotalVolume)
	}
	if rec.Len() == 0 {
		t.Errorf("recorder captured no events")
	}
}

func TestPlaceBetMovesPrice(t *testing.T) {
	m := newTestMarket(t)

	before, err := m.GetYesPrice()
	if err != nil {
		t.Fatalf("GetYesPrice err = %v", err)
	}
	if before != 500_000 {
		t.Fatalf("fresh symmetric market YES price = %d, want 500000", before)
	}

	if _, err := m.PlaceBet(SideYes, 10000, nil); err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}

	after, err := m.GetYesPrice()
	if err != nil {
		t.Fatalf("GetYesPrice err = %v", err)
	}
	if after <= before {
		t.Errorf("YES price after a YES buy = %d, want > %d", after, before)
	}
}

func TestPlaceBetRejectsZeroAmount(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.PlaceBet(SideYes, 0, nil); !errors.Is(err, ErrInvalidBetAmount) {
		t.Errorf("PlaceBet(0) err = %v, want ErrInvalidBetAmount", err)
	}
}

func TestSellSharesRoundTrip(t *testing.T) {
	m := newTestMarket(t)
	shares, err := m.PlaceBet(SideYes, 10000, nil)
	if err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}

	poolBefore := m.PoolBalance
	payout, err := m.SellShares(SideYes, shares, nil)
	if err != nil {
		t.Fatalf("SellShares err = %v", err)
	}
	if payout == 0 {
		t.Errorf("SellShares payout = 0, want > 0")
	}
	// Selling back should net less than what was paid in, because fees
	// are charged on both legs.
	if payout >= 10000 {
		t.Errorf("SellShares payout = %d, want < original bet 10000 (fees both ways)", payout)
	}
	// The pool drains by exactly the net payout; the fee leg goes to the
	// vault, never out of the pool.
	if m.PoolBalance != poolBefore-payout {
		t.Errorf("PoolBalance = %d, want %d - %d", m.PoolBalance, poolBefore, payout)
	}
}

func TestSellSharesInsufficientBalance(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.SellShares(SideYes, m.TotalYesShares+1, nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("SellShares(more than held) err = %v, want ErrInsufficientBalance", err)
	}
}

func TestResolveAndPayout(t *testing.T) {
	m := newTestMarket(t)
	yesShares, err := m.PlaceBet(SideYes, 10000, nil)
	if err != nil {
		t.Fatalf("PlaceBet YES err = %v", err)
	}
	noShares, err := m.PlaceBet(SideNo, 5000, nil)
	if err != nil {
		t.Fatalf("PlaceBet NO err = %v", err)
	}

	if err := m.Resolve(true, nil); err != nil {
		t.Fatalf("Resolve err = %v", err)
	}
	if m.Outcome != OutcomeYes {
		t.Errorf("Outcome = %v, want OutcomeYes", m.Outcome)
	}

	payout, err := m.CalculatePayout(yesShares, 0)
	if err != nil {
		t.Fatalf("CalculatePayout err = %v", err)
	}
	if payout == 0 {
		t.Errorf("CalculatePayout for full YES holder = 0, want > 0")
	}

	losing, err := m.CalculatePayout(0, noShares)
	if err != nil {
		t.Fatalf("CalculatePayout err = %v", err)
	}
	if losing != 0 {
		t.Errorf("CalculatePayout for NO holder after YES resolution = %d, want 0", losing)
	}

	snapshot := *m
	if err := m.Resolve(false, nil); !errors.Is(err, ErrMarketAlreadyResolved) {
		t.Errorf("double Resolve err = %v, want ErrMarketAlreadyResolved", err)
	}
	snapshot.Title, m.Title = nil, nil
	if !reflect.DeepEqual(snapshot, *m) {
		t.Errorf("failed Resolve mutated the market: %+v != %+v", *m, snapshot)
	}
}

func TestFailedOperationsLeaveStateUnchanged(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.PlaceBet(SideYes, 10000, nil); err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}

	snapshot := *m
	snapshot.Title = nil

	if _, err := m.PlaceBet(SideYes, lmsr.MaxBetAmount+1, nil); !errors.Is(err, ErrBetTooLarge) {
		t.Fatalf("oversized PlaceBet err = %v, want ErrBetTooLarge", err)
	}
	if _, err := m.PlaceBet(SideNo, 0, nil); !errors.Is(err, ErrInvalidBetAmount) {
		t.Fatalf("zero PlaceBet err = %v, want ErrInvalidBetAmount", err)
	}
	if _, err := m.SellShares(SideNo, m.TotalNoShares+1, nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("oversell err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := m.WithdrawFees(m.TotalFeesCollected + 1); !errors.Is(err, ErrInvalidBetAmount) {
		t.Fatalf("over-withdraw err = %v, want ErrInvalidBetAmount", err)
	}

	got := *m
	got.Title = nil
	if !reflect.DeepEqual(got, snapshot) {
		t.Errorf("failed operations mutated the market: %+v != %+v", got, snapshot)
	}
}

func TestCalculatePayoutBeforeResolution(t *testing.T) {
	m := newTestMarket(t)
	payout, err := m.CalculatePayout(1000, 0)
	if err != nil {
		t.Fatalf("CalculatePayout err = %v", err)
	}
	if payout != 0 {
		t.Errorf("CalculatePayout before resolution = %d, want 0", payout)
	}
}

func TestWithdrawFees(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.PlaceBet(SideYes, 10000, nil); err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}

	collected := m.TotalFeesCollected
	withdrawn, err := m.WithdrawFees(collected)
	if err != nil {
		t.Fatalf("WithdrawFees err = %v", err)
	}
	if withdrawn != collected {
		t.Errorf("WithdrawFees = %d, want %d", withdrawn, collected)
	}
	if m.TotalFeesCollected != 0 {
		t.Errorf("TotalFeesCollected after full withdrawal = %d, want 0", m.TotalFeesCollected)
	}

	if _, err := m.WithdrawFees(1); !errors.Is(err, ErrInvalidBetAmount) {
		t.Errorf("WithdrawFees beyond vault err = %v, want ErrInvalidBetAmount", err)
	}
}

func TestMarshalUnmarshalWordsRoundTrip(t *testing.T) {
	m := newTestMarket(t)
	if _, err := m.PlaceBet(SideYes, 10000, nil); err != nil {
		t.Fatalf("PlaceBet err = %v", err)
	}
	if err := m.Resolve(true, nil); err != nil {
		t.Fatalf("Resolve err = %v", err)
	}
	if _, err := m.WithdrawFees(1); err != nil {
		t.Fatalf("WithdrawFees err = %v", err)
	}

	words := m.MarshalWords()
	back, err := UnmarshalWords(words, testFeeRateBps)
	if err != nil {
		t.Fatalf("UnmarshalWords err = %v", err)
	}

	if back.StartTime != m.StartTime || back.EndTime != m.EndTime || back.ResolutionTime != m.ResolutionTime {
		t.Errorf("time fields did not round-trip: got %+v, want %+v", back, m)
	}
	if back.TotalYesShares != m.TotalYesShares || back.TotalNoShares != m.TotalNoShares {
		t.Errorf("share fields did not round-trip: got %+v, want %+v", back, m)
	}
	if back.B != m.B || back.PoolBalance != m.PoolBalance || back.TotalVolume != m.TotalVolume {
		t.Errorf("liquidity/pool fields did not round-trip: got %+v, want %+v", back, m)
	}
	if back.Resolved != m.Resolved || back.Outcome != m.Outcome {
		t.Errorf("resolution fields did not round-trip: got %+v, want %+v", back, m)
	}
	if back.TotalFeesCollected != m.TotalFeesCollected {
		t.Errorf("TotalFeesCollected did not round-trip: got %d, want %d", back.TotalFeesCollected, m.TotalFeesCollected)
	}
	if len(back.Title) != len(m.Title) {
		t.Fatalf("title length did not round-trip: got %d, want %d", len(back.Title), len(m.Title))
	}
	for i := range m.Title {
		if back.Title[i] != m.Title[i] {
			t.Errorf("title word[%d] = %d, want %d", i, back.Title[i], m.Title[i])
		}
	}
}

func TestUnmarshalWordsOutcomeTagEncoding(t *testing.T) {
	// {0,1,2} = {unresolved, NO wins, YES wins}, matching the persisted
	// wire format this layout must stay compatible with.
	base := []uint64{0, 10, 20, 30, 0, 0, 10000, 0, 0, 1 /*resolved*/, 0, 0}
	m, err := UnmarshalWords(base, testFeeRateBps)
	if err != nil {
		t.Fatalf("UnmarshalWords err = %v", err)
	}
	if m.Outcome != OutcomeUnresolved {
		t.Errorf("outcome tag 0 = %v, want OutcomeUnresolved", m.Outcome)
	}

	base[len(base)-2] = 1
	m, err = UnmarshalWords(base, testFeeRateBps)
	if err != nil {
		t.Fatalf("UnmarshalWords err = %v", err)
	}
	if m.Outcome != OutcomeNo {
		t.Errorf("outcome tag 1 = %v, want OutcomeNo", m.Outcome)
	}

	base[len(base)-2] = 2
	m, err = UnmarshalWords(base, testFeeRateBps)
	if err != nil {
		t.Fatalf("UnmarshalWords err = %v", err)
	}
	if m.Outcome != OutcomeYes {
		t.Errorf("outcome tag 2 = %v, want OutcomeYes", m.Outcome)
	}
}

func TestUnmarshalWordsTruncated(t *testing.T) {
	if _, err := UnmarshalWords([]uint64{0, 10, 20}, testFeeRateBps); !errors.Is(err, ErrInvalidCalculation) {
		t.Errorf("UnmarshalWords truncated err = %v, want ErrInvalidCalculation", err)
	}
}

func FuzzPlaceBetNeverOverdrawsPool(f *testing.F) {
	f.Add(uint64(1000), uint64(1))
	f.Add(uint64(1000), uint64(lmsr.MaxBetAmount))

	f.Fuzz(func(t *testing.T, b, betAmount uint64) {
		if b < lmsr.MinLiquidity || b > lmsr.MaxLiquidity {
			return
		}
		if betAmount == 0 || betAmount > lmsr.MaxBetAmount {
			return
		}
		m, err := New(nil, 0, 1000, 2000, lmsr.MinLiquidity, lmsr.MinLiquidity, b, testFeeRateBps)
		if err != nil {
			t.Fatalf("New err = %v", err)
		}
		if _, err := m.PlaceBet(SideYes, betAmount, nil); err != nil {
			return
		}
		// The pool can never be asked to pay out more than it holds;
		// selling everything back should never error with overflow.
		if _, err := m.SellShares(SideYes, m.TotalYesShares-lmsr.MinLiquidity, nil); err != nil {
			if !errors.Is(err, ErrInsufficientBalance) && !errors.Is(err, ErrInvalidBetAmount) {
				t.Fatalf("unexpected SellShares err = %v", err)
			}
		}
	})
}
