package lmsr

import (
	"errors"
	"testing"
)

const feeRateBps = 100 // 1%, matches the default platform fee rate

func TestCost(t *testing.T) {
	cost, err := Cost(1000, 1000, 10000)
	if err != nil {
		t.Fatalf("Cost err = %v", err)
	}
	if cost == 0 {
		t.Errorf("Cost(1000,1000,10000) = 0, want > 0")
	}
}

func TestCostZeroLiquidityParameter(t *testing.T) {
	if _, err := Cost(1000, 1000, 0); !errors.Is(err, ErrInvalidCalculation) {
		t.Errorf("Cost with b=0 err = %v, want ErrInvalidCalculation", err)
	}
	if _, err := PriceYes(1000, 1000, 0); !errors.Is(err, ErrInvalidCalculation) {
		t.Errorf("PriceYes with b=0 err = %v, want ErrInvalidCalculation", err)
	}
}

func TestPriceYesPriceNoSumToOne(t *testing.T) {
	pYes, err := PriceYes(1000, 1000, 10000)
	if err != nil {
		t.Fatalf("PriceYes err = %v", err)
	}
	pNo, err := PriceNo(1000, 1000, 10000)
	if err != nil {
		t.Fatalf("PriceNo err = %v", err)
	}
	if pYes+pNo != PricePrecision {
		t.Errorf("PriceYes+PriceNo = %d, want %d", pYes+pNo, uint64(PricePrecision))
	}
}

func TestPriceYesBalancedMarketIsHalf(t *testing.T) {
	pYes, err := PriceYes(0, 0, 10000)
	if err != nil {
		t.Fatalf("PriceYes err = %v", err)
	}
	// exp(0)=Scale for both sides, so price should land exactly at 0.5.
	if pYes != PricePrecision/2 {
		t.Errorf("PriceYes(0,0,b) = %d, want %d", pYes, uint64(PricePrecision/2))
	}
}

func TestPriceSymmetricSeededLiquidity(t *testing.T) {
	// With equal seeded supply on both sides the exp terms are identical,
	// so the price must be exactly one half, not merely close to it.
	pYes, err := PriceYes(1000, 1000, 10000)
	if err != nil {
		t.Fatalf("PriceYes err = %v", err)
	}
	pNo, err := PriceNo(1000, 1000, 10000)
	if err != nil {
		t.Fatalf("PriceNo err = %v", err)
	}
	if pYes != 500_000 || pNo != 500_000 {
		t.Errorf("symmetric market prices = (%d, %d), want (500000, 500000)", pYes, pNo)
	}
}

func TestBuyYesQuotePositive(t *testing.T) {
	quote, err := BuyYesQuote(1000, 1000, 10000, 100)
	if err != nil {
		t.Fatalf("BuyYesQuote err = %v", err)
	}
	if quote == 0 {
		t.Errorf("BuyYesQuote(...) = 0, want > 0")
	}
}

func TestBuyNoQuotePositive(t *testing.T) {
	quote, err := BuyNoQuote(1000, 1000, 10000, 100)
	if err != nil {
		t.Fatalf("BuyNoQuote err = %v", err)
	}
	if quote == 0 {
		t.Errorf("BuyNoQuote(...) = 0, want > 0")
	}
}

func TestSellYesQuotePositive(t *testing.T) {
	payout, err := SellYesQuote(1000, 1000, 10000, 100)
	if err != nil {
		t.Fatalf("SellYesQuote err = %v", err)
	}
	if payout == 0 {
		t.Errorf("SellYesQuote(...) = 0, want > 0")
	}
}

func TestSellYesQuoteExceedsSupply(t *testing.T) {
	if _, err := SellYesQuote(100, 1000, 10000, 101); !errors.Is(err, ErrInvalidBetAmount) {
		t.Errorf("SellYesQuote with sYes>qYes err = %v, want ErrInvalidBetAmount", err)
	}
}

func TestFeeRoundsUp(t *testing.T) {
	tests := []struct {
		amount uint64
		want   uint64
	}{
		{amount: 1, want: 1},       // ceil(1*100/10000) = ceil(0.01) = 1
		{amount: 50, want: 1},      // ceil(0.5) = 1
		{amount: 99, want: 1},      // ceil(0.99) = 1
		{amount: 100, want: 1},     // ceil(1) = 1
		{amount: 150, want: 2},     // ceil(1.5) = 2
		{amount: 1960, want: 20},   // ceil(19.6) = 20
		{amount: 10000, want: 100}, // exact: 10000*100/10000 = 100
	}
	for _, tt := range tests {
		got, err := Fee(tt.amount, feeRateBps)
		if err != nil {
			t.Fatalf("Fee(%d) err = %v", tt.amount, err)
		}
		if got != tt.want {
			t.Errorf("Fee(%d) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestFeeTooLarge(t *testing.T) {
	if _, err := Fee(MaxBetAmount+1, feeRateBps); !errors.Is(err, ErrBetTooLarge) {
		t.Errorf("Fee(MaxBetAmount+1) err = %v, want ErrBetTooLarge", err)
	}
}

func TestNetIsAmountMinusFee(t *testing.T) {
	net, err := Net(10000, feeRateBps)
	if err != nil {
		t.Fatalf("Net err = %v", err)
	}
	if net != 9900 {
		t.Errorf("Net(10000) = %d, want 9900", net)
	}
}

func TestValidateBetAmount(t *testing.T) {
	if err := ValidateBetAmount(1000); err != nil {
		t.Errorf("ValidateBetAmount(1000) err = %v, want nil", err)
	}
	if err := ValidateBetAmount(0); !errors.Is(err, ErrInvalidBetAmount) {
		t.Errorf("ValidateBetAmount(0) err = %v, want ErrInvalidBetAmount", err)
	}
	if err := ValidateBetAmount(MaxBetAmount + 1); !errors.Is(err, ErrBetTooLarge) {
		t.Errorf("ValidateBetAmount(MaxBetAmount+1) err = %v, want ErrBetTooLarge", err)
	}
}

func TestValidateLiquidity(t *testing.T) {
	if err := ValidateLiquidity(MinLiquidity); err != nil {
		t.Errorf("ValidateLiquidity(MinLiquidity) err = %v, want nil", err)
	}
	if err := ValidateLiquidity(MinLiquidity - 1); !errors.Is(err, ErrInvalidCalculation) {
		t.Errorf("ValidateLiquidity(MinLiquidity-1) err = %v, want ErrInvalidCalculation", err)
	}
	if err := ValidateLiquidity(MaxLiquidity + 1); !errors.Is(err, ErrLiquidityTooHigh) {
		t.Errorf("ValidateLiquidity(MaxLiquidity+1) err = %v, want ErrLiquidityTooHigh", err)
	}
}

func TestSideFromUint64(t *testing.T) {
	if s, err := SideFromUint64(1); err != nil || s != SideYes {
		t.Errorf("SideFromUint64(1) = (%v,%v), want (SideYes,nil)", s, err)
	}
	if s, err := SideFromUint64(0); err != nil || s != SideNo {
		t.Errorf("SideFromUint64(0) = (%v,%v), want (SideNo,nil)", s, err)
	}
	if _, err := SideFromUint64(2); !errors.Is(err, ErrInvalidBetType) {
		t.Errorf("SideFromUint64(2) err = %v, want ErrInvalidBetType", err)
	}
}

func TestCalculateSharesMatchesQuote(t *testing.T) {
	shares, err := CalculateShares(0, 0, 10000, SideYes, 1000, feeRateBps)
	if err != nil {
		t.Fatalf("CalculateShares err = %v", err)
	}
	if shares == 0 {
		t.Fatalf("CalculateShares returned 0 shares for a valid bet")
	}

	net, err := Net(1000, feeRateBps)
	if err != nil {
		t.Fatalf("Net err = %v", err)
	}

	quote, err := BuyYesQuote(0, 0, 10000, shares)
	if err != nil {
		t.Fatalf("BuyYesQuote err = %v", err)
	}
	if quote/PricePrecision > net {
		t.Errorf("CalculateShares returned %d shares costing %d tokens, exceeds net amount %d", shares, quote/PricePrecision, net)
	}

	// One more share should cost more than the net amount (or be the
	// solver's search ceiling), otherwise the solver left value on the
	// table.
	if shares < MaxShares {
		quotePlusOne, err := BuyYesQuote(0, 0, 10000, shares+1)
		if err != nil {
			t.Fatalf("BuyYesQuote(shares+1) err = %v", err)
		}
		if quotePlusOne/PricePrecision <= net {
			t.Errorf("CalculateShares under-filled: shares+1 still affordable")
		}
	}
}

func TestCalculateSellDetailsZeroQuote(t *testing.T) {
	// Selling a single share against enormous liquidity can floor to a
	// zero gross quote; the result should be the zero value, not an error.
	details, err := CalculateSellDetails(1_000, 1_000, MaxLiquidity, SideYes, 1, feeRateBps)
	if err != nil {
		t.Fatalf("CalculateSellDetails err = %v", err)
	}
	if details.NetPayout != 0 || details.Fee != 0 {
		t.Errorf("CalculateSellDetails with negligible quote = %+v, want zero value", details)
	}
}

func FuzzCost(f *testing.F) {
	f.Add(uint64(0), uint64(0), uint64(10000))
	f.Add(uint64(1000), uint64(1000), uint64(10000))
	f.Add(uint64(1), uint64(1_000_000), uint64(MinLiquidity))

	f.Fuzz(func(t *testing.T, qYes, qNo, b uint64) {
		if b == 0 || b > MaxLiquidity || qYes > MaxShares || qNo > MaxShares {
			return
		}
		cost, err := Cost(qYes, qNo, b)
		if err != nil {
			return
		}
		// Cost must never go negative in this representation (it's a
		// uint64), and buying more of one side should never decrease it.
		moreCost, err := Cost(qYes+1, qNo, b)
		if err != nil {
			return
		}
		if moreCost < cost {
			t.Fatalf("Cost(%d+1,%d,%d)=%d < Cost(%d,%d,%d)=%d, cost function not monotonic", qYes, qNo, b, moreCost, qYes, qNo, b, cost)
		}
	})
}
