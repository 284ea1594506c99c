package settle

import (
	"context"
	"fmt"
	"math/big"

	"ammSettle/internal/ledger"
	"ammSettle/internal/liquidity"
	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

// leg is one side of a two-token deposit, in pool order.
type leg struct {
	token  model.Token
	amount *big.Int
	ref    string
}

// orient puts the two deposit sides in pool order (lower token ID first).
func orient(a, b leg) (leg, leg) {
	if a.token.ID > b.token.ID {
		return b, a
	}
	return a, b
}

// depositPair collects both sides. When the first side fails, the second is
// still verified if it references an existing transfer so that it can be
// returned; a pull-based second side is not taken at all.
func (r *run) depositPair(ctx context.Context, legs [2]leg) (received [2]bool, err error) {
	var errs [2]error
	errs[0] = r.deposit(ctx, 0, legs[0].token, legs[0].amount, legs[0].ref)
	received[0] = errs[0] == nil
	if errs[0] == nil || legs[1].ref != "" {
		errs[1] = r.deposit(ctx, 1, legs[1].token, legs[1].amount, legs[1].ref)
		received[1] = errs[1] == nil
	} else {
		errs[1] = fmt.Errorf("%s deposit skipped", legs[1].token.Symbol)
	}
	if errs[0] != nil {
		return received, errs[0]
	}
	return received, errs[1]
}

// returnDeposits refunds every side that was received.
func (r *run) returnDeposits(ctx context.Context, legs [2]leg, received [2]bool) {
	for side := 0; side < 2; side++ {
		if received[side] {
			r.refund(ctx, side, legs[side].token, legs[side].amount)
		}
	}
}

// AddLiquidity deposits both sides of an existing pool and mints LP tokens.
func (e *Engine) AddLiquidity(ctx context.Context, principal string, args model.AddLiquidityArgs) (model.Reply, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{AddLiquidity: &args})
	if err != nil {
		return model.Reply{}, err
	}
	return e.runAddLiquidity(ctx, r, args)
}

func (e *Engine) AddLiquidityAsync(ctx context.Context, principal string, args model.AddLiquidityArgs) (uint64, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{AddLiquidity: &args})
	if err != nil {
		return 0, err
	}
	e.spawn(ctx, r, func(ctx context.Context, r *run) (model.Reply, error) {
		return e.runAddLiquidity(ctx, r, args)
	})
	return r.req.ID, nil
}

func (e *Engine) runAddLiquidity(ctx context.Context, r *run, args model.AddLiquidityArgs) (model.Reply, error) {
	var (
		legs [2]leg
		pool model.Pool
	)
	err := e.ledger.View(ctx, func(tx *ledger.Tx) error {
		a, err := activeToken(tx, args.Token0)
		if err != nil {
			return err
		}
		b, err := activeToken(tx, args.Token1)
		if err != nil {
			return err
		}
		if pool, err = activePool(tx, a, b); err != nil {
			return err
		}
		legs[0], legs[1] = orient(
			leg{token: a, amount: numeric.Clone(args.Amount0), ref: args.TxRef0},
			leg{token: b, amount: numeric.Clone(args.Amount1), ref: args.TxRef1},
		)
		if legs[0].amount.Sign() < 0 || legs[1].amount.Sign() < 0 {
			return fmt.Errorf("negative amount: %w", ErrInvalidArgs)
		}
		// A missing side is derived from the current reserve ratio.
		for side := 0; side < 2; side++ {
			if legs[side].amount.Sign() > 0 {
				continue
			}
			other := 1 - side
			if legs[other].amount.Sign() == 0 {
				return fmt.Errorf("deposit amounts: %w", ErrZeroAmount)
			}
			paired, err := liquidity.Pair(pool, legs[0].token, legs[1].token, other, legs[other].amount)
			if err != nil {
				return err
			}
			if paired.Sign() == 0 {
				return fmt.Errorf("paired amount: %w", ErrZeroAmount)
			}
			legs[side].amount = paired
		}
		return nil
	})
	if err != nil {
		return r.fail(ctx, validationStatus(err), err)
	}
	r.validated = true
	r.poolIDs = []uint32{pool.ID}

	received, err := r.depositPair(ctx, legs)
	if err != nil {
		r.returnDeposits(ctx, legs, received)
		return r.fail(ctx, "", err)
	}

	r.mustCheckpoint(ctx, model.StatusCalculatePoolAmounts, "")
	var (
		dep      liquidity.Deposit
		lpToken  uint32
		excesses [2]*big.Int
	)
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		latest, err := activePool(tx, legs[0].token, legs[1].token)
		if err != nil {
			return err
		}
		dep, err = liquidity.Add(latest, legs[0].token, legs[1].token, legs[0].amount, legs[1].amount)
		if err != nil {
			return err
		}
		// Excess too small to pay its own transfer fee stays in the pool.
		excesses = [2]*big.Int{dep.Excess0, dep.Excess1}
		balances := [2]**big.Int{&dep.After.Balance0, &dep.After.Balance1}
		for side := 0; side < 2; side++ {
			if excesses[side].Sign() > 0 && excesses[side].Cmp(legs[side].token.TransferFee()) <= 0 {
				*balances[side] = numeric.Add(*balances[side], excesses[side])
				excesses[side] = numeric.Zero()
			}
		}
		if err := tx.AppendStatus(r.req.ID, r.entry(model.StatusCalculatePoolAmountsSuccess, dep.LPAmount.String())); err != nil {
			return err
		}
		if err := tx.PutPool(dep.After); err != nil {
			return err
		}
		if err := tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdatePoolAmountsSuccess, "")); err != nil {
			return err
		}
		lpToken = dep.After.LPToken
		if err := creditLP(tx, r.user.ID, lpToken, dep.LPAmount); err != nil {
			return err
		}
		return tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdateLPBalanceSuccess, dep.LPAmount.String()))
	})
	if err != nil {
		r.mustCheckpoint(ctx, model.StatusCalculatePoolAmountsFailed, err.Error())
		r.returnDeposits(ctx, legs, [2]bool{true, true})
		return r.fail(ctx, "", err)
	}

	for side := 0; side < 2; side++ {
		if excesses[side].Sign() > 0 {
			r.refund(ctx, side, legs[side].token, excesses[side])
		}
	}
	return r.succeed(ctx, model.Reply{Liquidity: &model.LiquidityDetail{
		PoolID:   dep.After.ID,
		Token0:   legs[0].token.ID,
		Amount0:  dep.Amount0,
		Token1:   legs[1].token.ID,
		Amount1:  dep.Amount1,
		LPToken:  lpToken,
		LPAmount: dep.LPAmount,
	}})
}

// RemoveLiquidity burns LP tokens and pays out the proportional reserves.
func (e *Engine) RemoveLiquidity(ctx context.Context, principal string, args model.RemoveLiquidityArgs) (model.Reply, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{RemoveLiquidity: &args})
	if err != nil {
		return model.Reply{}, err
	}
	return e.runRemoveLiquidity(ctx, r, args)
}

func (e *Engine) RemoveLiquidityAsync(ctx context.Context, principal string, args model.RemoveLiquidityArgs) (uint64, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{RemoveLiquidity: &args})
	if err != nil {
		return 0, err
	}
	e.spawn(ctx, r, func(ctx context.Context, r *run) (model.Reply, error) {
		return e.runRemoveLiquidity(ctx, r, args)
	})
	return r.req.ID, nil
}

func (e *Engine) runRemoveLiquidity(ctx context.Context, r *run, args model.RemoveLiquidityArgs) (model.Reply, error) {
	var (
		t0, t1       model.Token
		dest0, dest1 = args.ReceiveAddress0, args.ReceiveAddress1
	)
	err := e.ledger.View(ctx, func(tx *ledger.Tx) error {
		a, err := activeToken(tx, args.Token0)
		if err != nil {
			return err
		}
		b, err := activeToken(tx, args.Token1)
		if err != nil {
			return err
		}
		if a.ID > b.ID {
			a, b = b, a
			dest0, dest1 = dest1, dest0
		}
		t0, t1 = a, b
		pool, err := activePool(tx, t0, t1)
		if err != nil {
			return err
		}
		if !positive(args.RemoveLPAmount) {
			return fmt.Errorf("lp amount: %w", ErrZeroAmount)
		}
		balance, err := tx.LPBalance(r.user.ID, pool.LPToken)
		if err != nil {
			return err
		}
		if balance.Cmp(args.RemoveLPAmount) < 0 {
			return fmt.Errorf("hold %s, remove %s: %w", balance, args.RemoveLPAmount, ErrInsufficientLP)
		}
		return nil
	})
	if err != nil {
		return r.fail(ctx, validationStatus(err), err)
	}
	r.validated = true

	r.mustCheckpoint(ctx, model.StatusCalculatePoolAmounts, "")
	var w liquidity.Withdrawal
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		pool, err := activePool(tx, t0, t1)
		if err != nil {
			return err
		}
		if w, err = liquidity.Remove(pool, t0, t1, args.RemoveLPAmount); err != nil {
			return err
		}
		if err := debitLP(tx, r.user.ID, pool.LPToken, args.RemoveLPAmount); err != nil {
			return err
		}
		if err := tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdateLPBalanceSuccess, args.RemoveLPAmount.String())); err != nil {
			return err
		}
		if err := tx.PutPool(w.After); err != nil {
			return err
		}
		return tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdatePoolAmountsSuccess, ""))
	})
	if err != nil {
		return r.fail(ctx, model.StatusCalculatePoolAmountsFailed, err)
	}
	r.poolIDs = []uint32{w.After.ID}

	r.send(ctx, 0, t0, w.Receive0, dest0)
	r.send(ctx, 1, t1, w.Receive1, dest1)
	return r.succeed(ctx, model.Reply{Liquidity: &model.LiquidityDetail{
		PoolID:   w.After.ID,
		Token0:   t0.ID,
		Amount0:  w.Amount0,
		LPFee0:   w.LPFee0,
		Token1:   t1.ID,
		Amount1:  w.Amount1,
		LPFee1:   w.LPFee1,
		LPToken:  w.After.LPToken,
		LPAmount: w.LPAmount,
	}})
}

func creditLP(tx *ledger.Tx, userID, token uint32, amount *big.Int) error {
	balance, err := tx.LPBalance(userID, token)
	if err != nil {
		return err
	}
	return tx.SetLPBalance(userID, token, numeric.Add(balance, amount))
}

func debitLP(tx *ledger.Tx, userID, token uint32, amount *big.Int) error {
	balance, err := tx.LPBalance(userID, token)
	if err != nil {
		return err
	}
	rest, ok := numeric.Sub(balance, amount)
	if !ok {
		return fmt.Errorf("hold %s, need %s: %w", balance, amount, ErrInsufficientLP)
	}
	return tx.SetLPBalance(userID, token, rest)
}
