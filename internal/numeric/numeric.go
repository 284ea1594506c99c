// Package numeric implements the arbitrary-precision amount arithmetic used by
// the pool math. Amounts are non-negative integers scaled by token decimals and
// are never converted to floating point for balance-affecting computation.
package numeric

import (
	"fmt"
	"math/big"
)

// SupportedDecimals is the widest token precision accepted by Rescale.
const SupportedDecimals = 18

var pow10 [SupportedDecimals + 1]*big.Int

func init() {
	ten := big.NewInt(10)
	pow10[0] = big.NewInt(1)
	for i := 1; i <= SupportedDecimals; i++ {
		pow10[i] = new(big.Int).Mul(pow10[i-1], ten)
	}
}

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone copies v, mapping nil to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Add returns a + b.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(Clone(a), Clone(b))
}

// Sub returns a - b. When b exceeds a the result saturates to zero and ok is false.
func Sub(a, b *big.Int) (*big.Int, bool) {
	a, b = Clone(a), Clone(b)
	if a.Cmp(b) < 0 {
		return new(big.Int), false
	}
	return a.Sub(a, b), true
}

// Mul returns a * b.
func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(Clone(a), Clone(b))
}

// Div returns the truncated quotient a / b. ok is false for a zero divisor.
func Div(a, b *big.Int) (*big.Int, bool) {
	if IsZero(b) {
		return nil, false
	}
	return new(big.Int).Quo(Clone(a), b), true
}

// MulDiv returns a * b / c without intermediate truncation.
func MulDiv(a, b, c *big.Int) (*big.Int, bool) {
	return Div(Mul(a, b), c)
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if Clone(a).Cmp(Clone(b)) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// Sqrt returns the integer square root of v.
func Sqrt(v *big.Int) *big.Int {
	if IsZero(v) || v.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Sqrt(v)
}

// Pow10 returns 10^n for n within the supported range.
func Pow10(n uint8) *big.Int {
	if int(n) > SupportedDecimals {
		return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	}
	return pow10[n]
}

// WiderDecimals returns the larger of two token precisions. Pool computation is
// done at this precision so neither side is biased by truncation.
func WiderDecimals(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

// Rescale converts amount from one decimal precision to another, multiplying
// or truncating by the matching power of ten.
func Rescale(amount *big.Int, from, to uint8) *big.Int {
	v := Clone(amount)
	switch {
	case from == to:
		return v
	case from < to:
		return v.Mul(v, Pow10(to-from))
	default:
		return v.Quo(v, Pow10(from-to))
	}
}

// ValidDecimals reports whether d is within the rescale range.
func ValidDecimals(d uint8) bool {
	return int(d) <= SupportedDecimals
}

// Parse reads a base-10 non-negative integer amount.
func Parse(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	return parsed, nil
}
