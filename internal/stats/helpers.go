package stats

import (
	"math/big"
	"time"

	"ammSettle/internal/numeric"
)

const apyPlaces = 4

func computeRate(fee *big.Int, tvl *big.Int) *big.Rat {
	if fee == nil || fee.Sign() == 0 || tvl == nil || tvl.Sign() == 0 {
		return nil
	}
	return new(big.Rat).SetFrac(fee, tvl)
}

// computeFeeRate returns the pool-wide fee yield over the window. Both sides of
// a constant product pool hold equal value, so the yield is the mean of the
// per-side rates; a side without fees contributes zero.
func computeFeeRate(fee0, fee1, tvl0, tvl1 *big.Int) *big.Rat {
	rate0 := computeRate(fee0, tvl0)
	rate1 := computeRate(fee1, tvl1)
	if rate0 == nil && rate1 == nil {
		return nil
	}
	sum := new(big.Rat)
	if rate0 != nil {
		sum.Add(sum, rate0)
	}
	if rate1 != nil {
		sum.Add(sum, rate1)
	}
	return sum.Quo(sum, big.NewRat(2, 1))
}

// computeAPY annualizes the window fee yield and returns it as a percentage.
func computeAPY(fee0, fee1, tvl0, tvl1 *big.Int, windowSeconds uint64) float64 {
	if windowSeconds == 0 {
		return 0
	}
	rate := computeFeeRate(fee0, fee1, tvl0, tvl1)
	if rate == nil {
		return 0
	}
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	window := big.NewRat(int64(windowSeconds), 1)
	apy := new(big.Rat).Mul(rate, yearSeconds)
	apy.Quo(apy, window)
	apy.Mul(apy, big.NewRat(100, 1))
	return numeric.DisplayFloat(apy, apyPlaces)
}
