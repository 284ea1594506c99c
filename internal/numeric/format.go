package numeric

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const ratioScale = 18

// Ratio returns num/den as an exact rational. ok is false for a zero denominator.
func Ratio(num, den *big.Int) (*big.Rat, bool) {
	if IsZero(den) {
		return nil, false
	}
	return new(big.Rat).SetFrac(Clone(num), Clone(den)), true
}

// ScaledRatio returns (num / 10^numDec) / (den / 10^denDec).
func ScaledRatio(num *big.Int, numDec uint8, den *big.Int, denDec uint8) (*big.Rat, bool) {
	max := WiderDecimals(numDec, denDec)
	return Ratio(Rescale(num, numDec, max), Rescale(den, denDec, max))
}

// FormatAmount renders value as a fixed point string with the token's decimals.
func FormatAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	rat := new(big.Rat).SetFrac(abs, Pow10(decimals))
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

// Display rounds r for presentation. Only display paths use this; the result
// never feeds back into balances.
func Display(r *big.Rat, places int32) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(ratioScale))
	if err != nil {
		return decimal.Zero
	}
	return d.Round(places)
}

// DisplayFloat is Display converted to float64.
func DisplayFloat(r *big.Rat, places int32) float64 {
	f, _ := Display(r, places).Float64()
	return f
}

// RatString renders r with the fixed ratio scale used in stored records.
func RatString(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	return r.FloatString(ratioScale)
}
