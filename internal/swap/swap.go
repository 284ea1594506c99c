// Package swap implements the constant-product swap calculation: single pool
// legs, hub routing, prices and slippage. All functions are pure; callers
// persist the returned pool states.
package swap

import (
	"errors"
	"fmt"
	"math/big"

	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

var (
	ErrInsufficientPool = errors.New("swap: insufficient pool balance")
	ErrSlippageExceeded = errors.New("swap: slippage exceeded")
	ErrAmountTooSmall   = errors.New("swap: receive amount does not cover fees")
	ErrEmptyPool        = errors.New("swap: pool has no reserves")
	ErrTokenNotInPool   = errors.New("swap: token not in pool")
	ErrNoRoute          = errors.New("swap: no pool route")
)

const (
	bpsDenominator = 10000
	maxFeeLevel    = 100
)

// Params tunes one leg.
type Params struct {
	// FeeLevel is the user's LP fee discount in percent (0-100).
	FeeLevel uint8
	// GasFee overrides the receive token's transfer fee when non-nil.
	GasFee *big.Int
}

// Leg is the result of swapping through one pool.
type Leg struct {
	Before       model.Pool
	After        model.Pool
	PayToken     model.Token
	ReceiveToken model.Token
	PayAmount    *big.Int
	// Gross is the curve output before any fee is taken.
	Gross       *big.Int
	LPFee       *big.Int
	ProtocolFee *big.Int
	GasFee      *big.Int
	// Receive is what the user is owed: Gross minus fees and gas.
	Receive  *big.Int
	MidPrice *big.Rat
	Price    *big.Rat
}

// UserLPFeeBPS applies the fee discount level to the pool's LP fee rate.
func UserLPFeeBPS(lpFeeBPS uint16, feeLevel uint8) *big.Int {
	if feeLevel > maxFeeLevel {
		feeLevel = maxFeeLevel
	}
	v := big.NewInt(int64(maxFeeLevel - int(feeLevel)))
	v.Mul(v, big.NewInt(int64(lpFeeBPS)))
	return v.Quo(v, big.NewInt(maxFeeLevel))
}

func sides(pool model.Pool, pay uint32) (in, out int, err error) {
	switch pay {
	case pool.Token0:
		return 0, 1, nil
	case pool.Token1:
		return 1, 0, nil
	default:
		return 0, 0, fmt.Errorf("token %d in pool %d: %w", pay, pool.ID, ErrTokenNotInPool)
	}
}

func reserve(pool model.Pool, side int) *big.Int {
	if side == 0 {
		return pool.Reserve0()
	}
	return pool.Reserve1()
}

// MidPrice is the price of one pay token in receive tokens at current reserves.
func MidPrice(pool model.Pool, pay, receive model.Token) (*big.Rat, error) {
	in, out, err := sides(pool, pay.ID)
	if err != nil {
		return nil, err
	}
	price, ok := numeric.ScaledRatio(reserve(pool, out), receive.Decimals, reserve(pool, in), pay.Decimals)
	if !ok || price.Sign() == 0 {
		return nil, fmt.Errorf("pool %d: %w", pool.ID, ErrEmptyPool)
	}
	return price, nil
}

// Quote computes one leg. A zero amount returns only the mid price and leaves
// the pool unchanged.
func Quote(pool model.Pool, pay, receive model.Token, amount *big.Int, p Params) (Leg, error) {
	if !pool.Has(receive.ID) || pay.ID == receive.ID {
		return Leg{}, fmt.Errorf("token %d in pool %d: %w", receive.ID, pool.ID, ErrTokenNotInPool)
	}
	in, out, err := sides(pool, pay.ID)
	if err != nil {
		return Leg{}, err
	}
	mid, err := MidPrice(pool, pay, receive)
	if err != nil {
		return Leg{}, err
	}

	leg := Leg{
		Before:       pool.Clone(),
		After:        pool.Clone(),
		PayToken:     pay,
		ReceiveToken: receive,
		PayAmount:    numeric.Clone(amount),
		Gross:        numeric.Zero(),
		LPFee:        numeric.Zero(),
		ProtocolFee:  numeric.Zero(),
		GasFee:       numeric.Zero(),
		Receive:      numeric.Zero(),
		MidPrice:     mid,
		Price:        new(big.Rat).Set(mid),
	}
	if numeric.IsZero(amount) {
		return leg, nil
	}

	// Curve math runs at the wider precision of the two tokens.
	dec := numeric.WiderDecimals(pay.Decimals, receive.Decimals)
	inScaled := numeric.Rescale(amount, pay.Decimals, dec)
	reserveIn := numeric.Rescale(reserve(pool, in), pay.Decimals, dec)
	reserveOut := numeric.Rescale(reserve(pool, out), receive.Decimals, dec)
	outScaled, ok := numeric.MulDiv(inScaled, reserveOut, numeric.Add(reserveIn, inScaled))
	if !ok {
		return Leg{}, fmt.Errorf("pool %d: %w", pool.ID, ErrEmptyPool)
	}
	gross := numeric.Rescale(outScaled, dec, receive.Decimals)

	balanceOut := pool.Balance1
	if out == 0 {
		balanceOut = pool.Balance0
	}
	if gross.Cmp(numeric.Clone(balanceOut)) > 0 {
		return Leg{}, fmt.Errorf("pool %d needs %s: %w", pool.ID, gross, ErrInsufficientPool)
	}

	fee, _ := numeric.MulDiv(gross, UserLPFeeBPS(pool.LPFeeBPS, p.FeeLevel), big.NewInt(bpsDenominator))
	protocol := numeric.Zero()
	if pool.LPFeeBPS > 0 {
		protocol, _ = numeric.MulDiv(fee, big.NewInt(int64(pool.ProtocolFeeBPS)), big.NewInt(int64(pool.LPFeeBPS)))
		protocol = numeric.Min(protocol, fee)
	}
	lpPart, _ := numeric.Sub(fee, protocol)

	gas := receive.TransferFee()
	if p.GasFee != nil {
		gas = numeric.Clone(p.GasFee)
	}
	net, ok := numeric.Sub(gross, numeric.Add(fee, gas))
	if !ok || net.Sign() == 0 {
		return Leg{}, fmt.Errorf("output %s, fee %s, gas %s: %w", gross, fee, gas, ErrAmountTooSmall)
	}

	price, _ := numeric.ScaledRatio(gross, receive.Decimals, amount, pay.Decimals)

	leg.Gross = gross
	leg.LPFee = lpPart
	leg.ProtocolFee = protocol
	leg.GasFee = gas
	leg.Receive = net
	leg.Price = price
	applyLeg(&leg.After, in, out, amount, gross, lpPart, protocol)
	return leg, nil
}

// applyLeg moves the pay amount in and the gross output out. The LP share of
// the fee stays in the pool as lp_fee; the protocol share leaves the reserves.
func applyLeg(pool *model.Pool, in, out int, pay, gross, lpPart, protocol *big.Int) {
	if in == 0 {
		pool.Balance0 = numeric.Add(pool.Balance0, pay)
	} else {
		pool.Balance1 = numeric.Add(pool.Balance1, pay)
	}
	if out == 0 {
		pool.Balance0, _ = numeric.Sub(pool.Balance0, gross)
		pool.LPFee0 = numeric.Add(pool.LPFee0, lpPart)
		pool.ProtocolFee0 = numeric.Add(pool.ProtocolFee0, protocol)
	} else {
		pool.Balance1, _ = numeric.Sub(pool.Balance1, gross)
		pool.LPFee1 = numeric.Add(pool.LPFee1, lpPart)
		pool.ProtocolFee1 = numeric.Add(pool.ProtocolFee1, protocol)
	}
}
