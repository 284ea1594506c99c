// Package liquidity computes proportional pool deposits and withdrawals
// against current reserves and LP supply.
package liquidity

import (
	"errors"
	"fmt"
	"math/big"

	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

var (
	ErrZeroAmount     = errors.New("liquidity: zero amount")
	ErrEmptyPool      = errors.New("liquidity: pool has no reserves")
	ErrZeroMint       = errors.New("liquidity: deposit too small to mint lp tokens")
	ErrInsufficientLP = errors.New("liquidity: insufficient lp balance")
	ErrAmountTooSmall = errors.New("liquidity: withdrawal does not cover transfer fee")
)

// Deposit is the outcome of adding to an existing pool.
type Deposit struct {
	// Amount0 and Amount1 are the amounts credited to the pool.
	Amount0 *big.Int
	Amount1 *big.Int
	// Excess0 and Excess1 are deposited amounts beyond the reserve ratio.
	Excess0  *big.Int
	Excess1  *big.Int
	LPAmount *big.Int
	After    model.Pool
}

// Withdrawal is the outcome of burning LP tokens.
type Withdrawal struct {
	LPAmount *big.Int
	// Amount is the balance share, LPFee the share of accrued LP fees.
	Amount0 *big.Int
	LPFee0  *big.Int
	Amount1 *big.Int
	LPFee1  *big.Int
	// Receive is what is sent after the token transfer fee.
	Receive0 *big.Int
	Receive1 *big.Int
	After    model.Pool
}

// Pair returns the amount of the other side matching amount at the current ratio.
// side is the pool side (0 or 1) amount belongs to.
func Pair(pool model.Pool, t0, t1 model.Token, side int, amount *big.Int) (*big.Int, error) {
	if numeric.IsZero(amount) {
		return nil, ErrZeroAmount
	}
	r0, r1 := pool.Reserve0(), pool.Reserve1()
	if r0.Sign() == 0 || r1.Sign() == 0 {
		return nil, fmt.Errorf("pool %d: %w", pool.ID, ErrEmptyPool)
	}
	dec := numeric.WiderDecimals(t0.Decimals, t1.Decimals)
	r0s := numeric.Rescale(r0, t0.Decimals, dec)
	r1s := numeric.Rescale(r1, t1.Decimals, dec)
	if side == 0 {
		out, _ := numeric.MulDiv(numeric.Rescale(amount, t0.Decimals, dec), r1s, r0s)
		return numeric.Rescale(out, dec, t1.Decimals), nil
	}
	out, _ := numeric.MulDiv(numeric.Rescale(amount, t1.Decimals, dec), r0s, r1s)
	return numeric.Rescale(out, dec, t0.Decimals), nil
}

// Add deposits into an existing pool. A nil amount is derived from the other;
// when both are given the side yielding the smaller mint decides.
func Add(pool model.Pool, t0, t1 model.Token, amount0, amount1 *big.Int) (Deposit, error) {
	if numeric.IsZero(amount0) && numeric.IsZero(amount1) {
		return Deposit{}, ErrZeroAmount
	}
	r0, r1 := pool.Reserve0(), pool.Reserve1()
	supply := numeric.Clone(pool.LPTotalSupply)
	if r0.Sign() == 0 || r1.Sign() == 0 || supply.Sign() == 0 {
		return Deposit{}, fmt.Errorf("pool %d: %w", pool.ID, ErrEmptyPool)
	}

	if numeric.IsZero(amount1) {
		paired, err := Pair(pool, t0, t1, 0, amount0)
		if err != nil {
			return Deposit{}, err
		}
		amount1 = paired
	} else if numeric.IsZero(amount0) {
		paired, err := Pair(pool, t0, t1, 1, amount1)
		if err != nil {
			return Deposit{}, err
		}
		amount0 = paired
	}

	mint0, _ := numeric.MulDiv(supply, amount0, r0)
	mint1, _ := numeric.MulDiv(supply, amount1, r1)

	dep := Deposit{Excess0: numeric.Zero(), Excess1: numeric.Zero()}
	if mint0.Cmp(mint1) <= 0 {
		paired, err := Pair(pool, t0, t1, 0, amount0)
		if err != nil {
			return Deposit{}, err
		}
		used := numeric.Min(paired, amount1)
		dep.Amount0, dep.Amount1, dep.LPAmount = numeric.Clone(amount0), used, mint0
		dep.Excess1, _ = numeric.Sub(amount1, used)
	} else {
		paired, err := Pair(pool, t0, t1, 1, amount1)
		if err != nil {
			return Deposit{}, err
		}
		used := numeric.Min(paired, amount0)
		dep.Amount0, dep.Amount1, dep.LPAmount = used, numeric.Clone(amount1), mint1
		dep.Excess0, _ = numeric.Sub(amount0, used)
	}
	if dep.LPAmount.Sign() == 0 {
		return Deposit{}, ErrZeroMint
	}

	after := pool.Clone()
	after.Balance0 = numeric.Add(after.Balance0, dep.Amount0)
	after.Balance1 = numeric.Add(after.Balance1, dep.Amount1)
	after.LPTotalSupply = numeric.Add(after.LPTotalSupply, dep.LPAmount)
	dep.After = after
	return dep, nil
}

// Bootstrap mints the first LP supply as isqrt(a0*a1) at the wider token
// precision, rescaled to the LP token's decimals.
func Bootstrap(t0, t1 model.Token, amount0, amount1 *big.Int, lpDecimals uint8) (*big.Int, error) {
	if numeric.IsZero(amount0) || numeric.IsZero(amount1) {
		return nil, ErrZeroAmount
	}
	dec := numeric.WiderDecimals(t0.Decimals, t1.Decimals)
	product := numeric.Mul(numeric.Rescale(amount0, t0.Decimals, dec), numeric.Rescale(amount1, t1.Decimals, dec))
	lp := numeric.Rescale(numeric.Sqrt(product), dec, lpDecimals)
	if lp.Sign() == 0 {
		return nil, ErrZeroMint
	}
	return lp, nil
}

// Remove burns lpAmount for a proportional share of balances and accrued LP fees.
func Remove(pool model.Pool, t0, t1 model.Token, lpAmount *big.Int) (Withdrawal, error) {
	if numeric.IsZero(lpAmount) {
		return Withdrawal{}, ErrZeroAmount
	}
	supply := numeric.Clone(pool.LPTotalSupply)
	if lpAmount.Cmp(supply) > 0 {
		return Withdrawal{}, fmt.Errorf("burn %s of supply %s: %w", lpAmount, supply, ErrInsufficientLP)
	}

	share := func(v *big.Int) *big.Int {
		out, _ := numeric.MulDiv(v, lpAmount, supply)
		return out
	}
	w := Withdrawal{
		LPAmount: numeric.Clone(lpAmount),
		Amount0:  share(pool.Balance0),
		LPFee0:   share(pool.LPFee0),
		Amount1:  share(pool.Balance1),
		LPFee1:   share(pool.LPFee1),
	}

	var ok bool
	w.Receive0, ok = numeric.Sub(numeric.Add(w.Amount0, w.LPFee0), t0.TransferFee())
	if !ok || w.Receive0.Sign() == 0 {
		return Withdrawal{}, fmt.Errorf("%s side: %w", t0.Symbol, ErrAmountTooSmall)
	}
	w.Receive1, ok = numeric.Sub(numeric.Add(w.Amount1, w.LPFee1), t1.TransferFee())
	if !ok || w.Receive1.Sign() == 0 {
		return Withdrawal{}, fmt.Errorf("%s side: %w", t1.Symbol, ErrAmountTooSmall)
	}

	after := pool.Clone()
	after.Balance0, _ = numeric.Sub(after.Balance0, w.Amount0)
	after.LPFee0, _ = numeric.Sub(after.LPFee0, w.LPFee0)
	after.Balance1, _ = numeric.Sub(after.Balance1, w.Amount1)
	after.LPFee1, _ = numeric.Sub(after.LPFee1, w.LPFee1)
	after.LPTotalSupply, _ = numeric.Sub(after.LPTotalSupply, lpAmount)
	w.After = after
	return w, nil
}

// Underlying returns the pool amounts backing an LP balance without fees deducted.
func Underlying(pool model.Pool, lpAmount *big.Int) (*big.Int, *big.Int) {
	supply := numeric.Clone(pool.LPTotalSupply)
	if supply.Sign() == 0 || numeric.IsZero(lpAmount) {
		return numeric.Zero(), numeric.Zero()
	}
	a0, _ := numeric.MulDiv(pool.Reserve0(), lpAmount, supply)
	a1, _ := numeric.MulDiv(pool.Reserve1(), lpAmount, supply)
	return a0, a1
}
