package settle

import (
	"context"
	"errors"
	"fmt"

	"ammSettle/internal/ledger"
	"ammSettle/internal/liquidity"
	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

// AddPool creates a pool from two initial deposits and mints the bootstrap LP supply.
func (e *Engine) AddPool(ctx context.Context, principal string, args model.AddPoolArgs) (model.Reply, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{AddPool: &args})
	if err != nil {
		return model.Reply{}, err
	}
	return e.runAddPool(ctx, r, args)
}

func (e *Engine) AddPoolAsync(ctx context.Context, principal string, args model.AddPoolArgs) (uint64, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{AddPool: &args})
	if err != nil {
		return 0, err
	}
	e.spawn(ctx, r, func(ctx context.Context, r *run) (model.Reply, error) {
		return e.runAddPool(ctx, r, args)
	})
	return r.req.ID, nil
}

func (e *Engine) runAddPool(ctx context.Context, r *run, args model.AddPoolArgs) (model.Reply, error) {
	lpFeeBPS := e.cfg.LPFeeBPS
	if args.LPFeeBPS != nil {
		lpFeeBPS = *args.LPFeeBPS
	}
	var legs [2]leg
	err := e.ledger.View(ctx, func(tx *ledger.Tx) error {
		a, err := activeToken(tx, args.Token0)
		if err != nil {
			return err
		}
		b, err := activeToken(tx, args.Token1)
		if err != nil {
			return err
		}
		if a.ID == b.ID {
			return fmt.Errorf("pool needs two distinct tokens: %w", ErrInvalidArgs)
		}
		if a.IsLP() || b.IsLP() {
			return fmt.Errorf("lp tokens cannot be pooled: %w", ErrInvalidArgs)
		}
		if lpFeeBPS == 0 || lpFeeBPS > 10000 {
			return fmt.Errorf("lp fee %d bps: %w", lpFeeBPS, ErrInvalidArgs)
		}
		if _, ok, err := tx.PoolByPair(a.ID, b.ID); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%s/%s: %w", a.Symbol, b.Symbol, ErrPoolExists)
		}
		if !positive(args.Amount0) || !positive(args.Amount1) {
			return fmt.Errorf("initial deposit: %w", ErrZeroAmount)
		}
		legs[0], legs[1] = orient(
			leg{token: a, amount: numeric.Clone(args.Amount0), ref: args.TxRef0},
			leg{token: b, amount: numeric.Clone(args.Amount1), ref: args.TxRef1},
		)
		_, err = liquidity.Bootstrap(legs[0].token, legs[1].token, legs[0].amount, legs[1].amount, e.cfg.LPTokenDecimals)
		return err
	})
	if err != nil {
		return r.fail(ctx, model.StatusValidateArgsFailed, err)
	}
	r.validated = true

	received, err := r.depositPair(ctx, legs)
	if err != nil {
		r.returnDeposits(ctx, legs, received)
		return r.fail(ctx, "", err)
	}

	r.mustCheckpoint(ctx, model.StatusCalculatePoolAmounts, "")
	var (
		pool model.Pool
		lp   model.Token
	)
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		// A concurrent request may have created the pair while deposits were verified.
		if _, ok, err := tx.PoolByPair(legs[0].token.ID, legs[1].token.ID); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%s/%s: %w", legs[0].token.Symbol, legs[1].token.Symbol, ErrPoolExists)
		}
		minted, err := liquidity.Bootstrap(legs[0].token, legs[1].token, legs[0].amount, legs[1].amount, e.cfg.LPTokenDecimals)
		if err != nil {
			return err
		}
		now := e.now()
		lp, err = tx.InsertToken(model.Token{
			Chain:     model.ChainLP,
			Address:   fmt.Sprintf("%d-%d", legs[0].token.ID, legs[1].token.ID),
			Symbol:    legs[0].token.Symbol + "_" + legs[1].token.Symbol + "_LP",
			Decimals:  e.cfg.LPTokenDecimals,
			Fee:       numeric.Zero(),
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		pool, err = tx.InsertPool(model.Pool{
			Token0:         legs[0].token.ID,
			Token1:         legs[1].token.ID,
			Balance0:       numeric.Clone(legs[0].amount),
			Balance1:       numeric.Clone(legs[1].amount),
			LPFee0:         numeric.Zero(),
			LPFee1:         numeric.Zero(),
			ProtocolFee0:   numeric.Zero(),
			ProtocolFee1:   numeric.Zero(),
			LPFeeBPS:       lpFeeBPS,
			ProtocolFeeBPS: e.cfg.ProtocolFeeBPS,
			LPToken:        lp.ID,
			LPTotalSupply:  minted,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		lp.PoolID = pool.ID
		if err := tx.PutToken(lp); err != nil {
			return err
		}
		if err := tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdatePoolAmountsSuccess, fmt.Sprintf("pool %d", pool.ID))); err != nil {
			return err
		}
		if err := creditLP(tx, r.user.ID, lp.ID, minted); err != nil {
			return err
		}
		return tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdateLPBalanceSuccess, minted.String()))
	})
	if err != nil {
		if errors.Is(err, ledger.ErrExists) {
			err = fmt.Errorf("%w: %v", ErrPoolExists, err)
		}
		r.mustCheckpoint(ctx, model.StatusUpdatePoolAmountsFailed, err.Error())
		r.returnDeposits(ctx, legs, [2]bool{true, true})
		return r.fail(ctx, "", err)
	}
	r.poolIDs = []uint32{pool.ID}

	return r.succeed(ctx, model.Reply{Liquidity: &model.LiquidityDetail{
		PoolID:   pool.ID,
		Token0:   pool.Token0,
		Amount0:  numeric.Clone(pool.Balance0),
		Token1:   pool.Token1,
		Amount1:  numeric.Clone(pool.Balance1),
		LPToken:  lp.ID,
		LPAmount: numeric.Clone(pool.LPTotalSupply),
	}})
}
