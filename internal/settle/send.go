package settle

import (
	"context"
	"fmt"
	"strings"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
)

// Send moves LP tokens to another user inside the ledger.
func (e *Engine) Send(ctx context.Context, principal string, args model.SendArgs) (model.Reply, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{Send: &args})
	if err != nil {
		return model.Reply{}, err
	}
	return e.runSend(ctx, r, args)
}

func (e *Engine) SendAsync(ctx context.Context, principal string, args model.SendArgs) (uint64, error) {
	r, err := e.begin(ctx, principal, model.RequestArgs{Send: &args})
	if err != nil {
		return 0, err
	}
	e.spawn(ctx, r, func(ctx context.Context, r *run) (model.Reply, error) {
		return e.runSend(ctx, r, args)
	})
	return r.req.ID, nil
}

func (e *Engine) runSend(ctx context.Context, r *run, args model.SendArgs) (model.Reply, error) {
	to := strings.TrimSpace(args.ToPrincipal)
	var token model.Token
	err := e.ledger.View(ctx, func(tx *ledger.Tx) error {
		var err error
		if token, err = activeToken(tx, args.Token); err != nil {
			return err
		}
		if !token.IsLP() {
			return fmt.Errorf("%s is not an lp token: %w", token.Symbol, ErrInvalidArgs)
		}
		if !positive(args.Amount) {
			return fmt.Errorf("send amount: %w", ErrZeroAmount)
		}
		if to == "" || to == r.principal() {
			return fmt.Errorf("recipient %q: %w", to, ErrInvalidArgs)
		}
		return nil
	})
	if err != nil {
		return r.fail(ctx, model.StatusValidateArgsFailed, err)
	}
	r.validated = true
	if token.PoolID != 0 {
		r.poolIDs = []uint32{token.PoolID}
	}

	r.mustCheckpoint(ctx, model.StatusUpdateLPBalance, "")
	var recipient model.User
	err = e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := debitLP(tx, r.user.ID, token.ID, args.Amount); err != nil {
			return err
		}
		var err error
		if recipient, err = tx.EnsureUser(to, e.now()); err != nil {
			return err
		}
		if err := creditLP(tx, recipient.ID, token.ID, args.Amount); err != nil {
			return err
		}
		return tx.AppendStatus(r.req.ID, r.entry(model.StatusUpdateLPBalanceSuccess, args.Amount.String()))
	})
	if err != nil {
		return r.fail(ctx, model.StatusUpdateLPBalanceFailed, err)
	}
	return r.succeed(ctx, model.Reply{Send: &model.SendDetail{
		Token:    token.ID,
		Amount:   args.Amount,
		ToUserID: recipient.ID,
	}})
}
