package settle

import (
	"context"
	"fmt"
	"math/big"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/swap"
)

// Quote prices a swap against the current pools without changing state. A zero
// amount returns the mid price only.
func (e *Engine) Quote(ctx context.Context, payToken, receiveToken string, amount *big.Int, feeLevel uint8) (swap.Route, error) {
	return ledger.Latest(ctx, e.ledger, func(tx *ledger.Tx) (swap.Route, error) {
		pay, err := activeToken(tx, payToken)
		if err != nil {
			return swap.Route{}, err
		}
		receive, err := activeToken(tx, receiveToken)
		if err != nil {
			return swap.Route{}, err
		}
		return e.plan(tx, pay, receive, amount, feeLevel)
	})
}

// Swap settles a swap and returns its terminal reply.
func (e *Engine) Swap(ctx context.Context, principal string, args model.SwapArgs) (model.Reply, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{Swap: &args})
	if err != nil {
		return model.Reply{}, err
	}
	return e.runSwap(ctx, r, args)
}

// SwapAsync creates the request and settles it in the background.
func (e *Engine) SwapAsync(ctx context.Context, principal string, args model.SwapArgs) (uint64, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{Swap: &args})
	if err != nil {
		return 0, err
	}
	e.spawn(ctx, r, func(ctx context.Context, r *run) (model.Reply, error) {
		return e.runSwap(ctx, r, args)
	})
	return r.req.ID, nil
}

func (e *Engine) plan(tx *ledger.Tx, pay, receive model.Token, amount *big.Int, feeLevel uint8) (swap.Route, error) {
	hubs := make([]model.Token, 0, len(e.cfg.HubTokens))
	for _, identity := range e.cfg.HubTokens {
		hub, ok, err := tx.TokenByIdentity(identity)
		if err != nil {
			return swap.Route{}, err
		}
		if ok && !hub.Removed {
			hubs = append(hubs, hub)
		}
	}
	return swap.Plan(tx.PoolByPair, pay, receive, hubs, amount, feeLevel)
}

func (e *Engine) runSwap(ctx context.Context, r *run, args model.SwapArgs) (model.Reply, error) {
	var pay, receive model.Token
	err := e.ledger.View(ctx, func(tx *ledger.Tx) error {
		var err error
		if pay, err = activeToken(tx, args.PayToken); err != nil {
			return err
		}
		if receive, err = activeToken(tx, args.ReceiveToken); err != nil {
			return err
		}
		if pay.IsLP() || receive.IsLP() {
			return fmt.Errorf("lp tokens are not swappable: %w", ErrInvalidArgs)
		}
		if !positive(args.PayAmount) {
			return fmt.Errorf("pay amount: %w", ErrZeroAmount)
		}
		if args.MaxSlippage != nil && *args.MaxSlippage < 0 {
			return fmt.Errorf("negative max slippage: %w", ErrInvalidArgs)
		}
		// The route must exist now; the amounts are recomputed after the deposit.
		_, err = e.plan(tx, pay, receive, args.PayAmount, r.user.FeeLevel)
		return err
	})
	if err != nil {
		return r.fail(ctx, validationStatus(err), err)
	}
	r.validated = true

	if err := r.deposit(ctx, 0, pay, args.PayAmount, args.PayTxRef); err != nil {
		return r.fail(ctx, "", err)
	}

	maxSlippage := e.cfg.MaxSlippage
	if args.MaxSlippage != nil {
		maxSlippage = *args.MaxSlippage
	}
	r.mustCheckpoint(ctx, model.StatusCalculatePoolAmounts, "")
	var route swap.Route
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		user, _, err := tx.User(r.user.ID)
		if err != nil {
			return err
		}
		route, err = e.plan(tx, pay, receive, args.PayAmount, user.FeeLevel)
		if err != nil {
			return err
		}
		if err := swap.CheckSlippage(route, maxSlippage, args.ReceiveAmount); err != nil {
			return err
		}
		if err := tx.AppendStatus(r.req.ID, r.entry(model.StatusCalculatePoolAmountsSuccess, route.ReceiveAmount.String())); err != nil {
			return err
		}
		for _, leg := range route.Legs {
			if err := tx.PutPool(leg.After); err != nil {
				return err
			}
		}
		return tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdatePoolAmountsSuccess, ""))
	})
	if err != nil {
		r.mustCheckpoint(ctx, model.StatusCalculatePoolAmountsFailed, err.Error())
		r.refund(ctx, 0, pay, args.PayAmount)
		return r.fail(ctx, "", err)
	}
	for _, leg := range route.Legs {
		r.poolIDs = append(r.poolIDs, leg.After.ID)
	}

	r.send(ctx, 1, receive, route.ReceiveAmount, args.ReceiveAddress)
	return r.succeed(ctx, model.Reply{Swap: route.Detail()})
}
