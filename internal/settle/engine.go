// Package settle runs the settlement state machines: every user operation
// creates a Request, checkpoints each step before its side effect, and ends
// with exactly one reply. Funds verified on the way in are either applied to
// a pool, returned, or recorded as a claim.
package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ammSettle/internal/claims"
	"ammSettle/internal/events"
	"ammSettle/internal/ledger"
	"ammSettle/internal/metrics"
	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
	"ammSettle/internal/swap"
	"ammSettle/internal/transfer"
)

var (
	ErrInvalidArgs    = errors.New("settle: invalid arguments")
	ErrTokenNotFound  = errors.New("settle: token not found")
	ErrPoolNotFound   = errors.New("settle: pool not found")
	ErrPoolExists     = errors.New("settle: pool already exists")
	ErrZeroAmount     = errors.New("settle: amount must be positive")
	ErrInsufficientLP = errors.New("settle: insufficient lp balance")
)

// Config holds the fee and routing parameters of the engine.
type Config struct {
	LPFeeBPS        uint16
	ProtocolFeeBPS  uint16
	LPTokenDecimals uint8
	// MaxSlippage is the default slippage limit in percent.
	MaxSlippage float64
	// HubTokens are token identities tried as intermediates when no direct pool exists.
	HubTokens []string
}

func DefaultConfig() Config {
	return Config{
		LPFeeBPS:        30,
		ProtocolFeeBPS:  5,
		LPTokenDecimals: 8,
		MaxSlippage:     2.0,
	}
}

// Engine owns the settlement flows.
type Engine struct {
	ledger    *ledger.Ledger
	verifier  *transfer.Verifier
	cfg       Config
	log       *zap.Logger
	publisher events.Publisher
	metrics   *metrics.Metrics
	meta      TokenMetaFetcher
	now       func() time.Time

	wg sync.WaitGroup
}

// Option customises an Engine.
type Option func(*Engine)

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTokenMeta installs the on-chain metadata source used by AddToken.
func WithTokenMeta(f TokenMetaFetcher) Option {
	return func(e *Engine) { e.meta = f }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(l *ledger.Ledger, v *transfer.Verifier, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		ledger:    l,
		verifier:  v,
		cfg:       cfg,
		log:       logger,
		publisher: events.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger exposes the engine's ledger for the query surface.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Wait blocks until every background continuation has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// spawn continues a run in the background. The continuation is detached from
// the caller's cancellation and is the only writer of the request's reply.
func (e *Engine) spawn(ctx context.Context, r *run, fn func(ctx context.Context, r *run) (model.Reply, error)) {
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("settlement continuation aborted", zap.Any("panic", rec))
			}
		}()
		_, _ = fn(ctx, r)
	}()
}

// run is the in-memory continuation of one request.
type run struct {
	e    *Engine
	req  model.Request
	user model.User
	log  *zap.Logger

	// validated is set once the arguments passed validation; only then is a
	// Transaction recorded for the run.
	validated bool
	poolIDs   []uint32
	transfers []uint64
	claims    []uint64
}

// begin ensures the caller's user record and creates the request.
func (e *Engine) begin(ctx context.Context, principal string, args model.RequestArgs) (*run, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return nil, fmt.Errorf("caller principal required: %w", ErrInvalidArgs)
	}
	now := e.now()
	r := &run{e: e}
	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		user, err := tx.EnsureUser(principal, now)
		if err != nil {
			return err
		}
		if args.Swap != nil {
			if user, err = applyReferral(tx, user, args.Swap.ReferredBy); err != nil {
				return err
			}
		}
		req, err := tx.InsertRequest(model.Request{
			UserID:    user.ID,
			Args:      args,
			Statuses:  []model.StatusEntry{{Code: model.StatusStart, At: now}},
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		r.user, r.req = user, req
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", args.Kind(), err)
	}
	r.log = e.log.With(zap.Uint64("request_id", r.req.ID), zap.String("kind", string(args.Kind())))
	return r, nil
}

// applyReferral records the referrer on a user's first referred swap.
func applyReferral(tx *ledger.Tx, user model.User, referrer string) (model.User, error) {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" || user.ReferredBy != 0 || referrer == user.Principal {
		return user, nil
	}
	ref, ok, err := tx.UserByPrincipal(referrer)
	if err != nil || !ok {
		return user, err
	}
	user.ReferredBy = ref.ID
	return user, tx.PutUser(user)
}

func (r *run) principal() string {
	return r.user.Principal
}

func (r *run) entry(code model.StatusCode, msg string) model.StatusEntry {
	return model.StatusEntry{Code: code, Message: msg, At: r.e.now()}
}

// checkpoint durably appends a status before the step it names runs.
func (r *run) checkpoint(ctx context.Context, code model.StatusCode, msg string) error {
	r.log.Debug("checkpoint", zap.String("status", string(code)), zap.String("message", msg))
	return r.e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		return tx.AppendStatus(r.req.ID, r.entry(code, msg))
	})
}

// fail finishes the run with a failed reply carrying cause. code is the failing
// checkpoint to append, or empty when the step already recorded it.
func (r *run) fail(ctx context.Context, code model.StatusCode, cause error) (model.Reply, error) {
	r.log.Info("request failed", zap.String("status", string(code)), zap.Error(cause))
	reply := model.Reply{Status: model.ReplyFailed, Error: cause.Error()}
	if err := r.appendAndFinish(ctx, code, cause.Error(), &reply); err != nil {
		return reply, err
	}
	return reply, cause
}

// succeed finishes the run with a success reply.
func (r *run) succeed(ctx context.Context, reply model.Reply) (model.Reply, error) {
	reply.Status = model.ReplySuccess
	if err := r.appendAndFinish(ctx, "", "", &reply); err != nil {
		return reply, err
	}
	return reply, nil
}

// appendAndFinish writes the failing checkpoint, the Transaction and the reply
// in one commit, then publishes the Transaction.
func (r *run) appendAndFinish(ctx context.Context, code model.StatusCode, msg string, reply *model.Reply) error {
	now := r.e.now()
	reply.Kind = r.req.Kind()
	reply.RequestID = r.req.ID
	reply.TransferIDs = append([]uint64(nil), r.transfers...)
	reply.ClaimIDs = append([]uint64(nil), r.claims...)
	reply.Timestamp = now

	var (
		txn   model.Transaction
		wrote bool
	)
	err := r.e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		final := r.entry(model.StatusSuccess, "")
		if reply.Status == model.ReplyFailed {
			if code != "" {
				if err := tx.AppendStatus(r.req.ID, r.entry(code, msg)); err != nil {
					return err
				}
			}
			final = r.entry(model.StatusFailed, msg)
		}
		if r.validated {
			t, err := tx.InsertTransaction(model.Transaction{
				RequestID:   r.req.ID,
				UserID:      r.user.ID,
				Kind:        reply.Kind,
				Status:      reply.Status,
				Error:       reply.Error,
				PoolIDs:     r.poolIDs,
				Swap:        reply.Swap,
				Liquidity:   reply.Liquidity,
				Send:        reply.Send,
				TransferIDs: reply.TransferIDs,
				ClaimIDs:    reply.ClaimIDs,
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}
			reply.TxID = t.ID
			txn, wrote = t, true
		}
		return tx.SetReply(r.req.ID, *reply, final)
	})
	if err != nil {
		r.log.Error("finalize request", zap.Error(err))
		return fmt.Errorf("finalize request %d: %w", r.req.ID, err)
	}
	r.e.metrics.RecordRequest(string(reply.Kind), string(reply.Status))
	if wrote {
		if err := r.e.publisher.Publish(ctx, txn); err != nil {
			r.e.metrics.RecordPublishError()
			r.log.Warn("publish transaction", zap.Uint64("tx_id", txn.ID), zap.Error(err))
		}
	}
	return nil
}

// deposit verifies (or pulls) an inbound transfer and records it. The duplicate
// reference check runs inside the insert, against the state after verification.
func (r *run) deposit(ctx context.Context, side int, token model.Token, amount *big.Int, ref string) error {
	start, success, failed := model.VerifyStatus(side)
	if err := r.checkpoint(ctx, start, fmt.Sprintf("%s %s", numeric.FormatAmount(amount, token.Decimals), token.Symbol)); err != nil {
		return err
	}

	var (
		receipt model.TransferReceipt
		err     error
	)
	if strings.TrimSpace(ref) != "" {
		receipt, err = r.e.verifier.VerifyInbound(ctx, token, ref, r.principal(), amount)
	} else {
		receipt, err = r.e.verifier.PullAllowance(ctx, token, amount, r.principal())
	}
	if err != nil {
		err = fmt.Errorf("verify %s deposit: %w", token.Symbol, err)
		if cerr := r.checkpoint(ctx, failed, err.Error()); cerr != nil {
			return cerr
		}
		return err
	}

	var id uint64
	err = r.e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		t, err := tx.InsertTransfer(model.Transfer{
			RequestID: r.req.ID,
			TokenID:   token.ID,
			Direction: model.DirectionIn,
			Amount:    numeric.Clone(amount),
			Ref:       receipt.Ref,
			CreatedAt: r.e.now(),
		})
		if err != nil {
			return err
		}
		id = t.ID
		return tx.AppendStatus(r.req.ID, r.entry(success, receipt.Ref))
	})
	if err != nil {
		err = fmt.Errorf("record %s deposit %s: %w", token.Symbol, receipt.Ref, err)
		if cerr := r.checkpoint(ctx, failed, err.Error()); cerr != nil {
			return cerr
		}
		return err
	}
	r.transfers = append(r.transfers, id)
	return nil
}

// refund returns a verified deposit minus the token's transfer fee. When the
// send fails the obligation becomes a claim.
func (r *run) refund(ctx context.Context, side int, token model.Token, amount *big.Int) {
	start, success, failed := model.ReturnStatus(side)
	r.payout(ctx, side, token, amount, r.principal(), start, success, failed, true)
}

// send pays an amount the run owes; on failure it records a claim for it.
func (r *run) send(ctx context.Context, side int, token model.Token, amount *big.Int, destination string) {
	start, success, failed := model.SendStatus(side)
	r.payout(ctx, side, token, amount, destination, start, success, failed, false)
}

// payout sends gross minus the transfer fee to destination. isRefund selects
// refund accounting; the claim on failure covers the same net amount.
func (r *run) payout(ctx context.Context, side int, token model.Token, gross *big.Int, destination string, start, success, failed model.StatusCode, isRefund bool) {
	amount := gross
	if isRefund {
		net, ok := numeric.Sub(gross, token.TransferFee())
		if !ok || net.Sign() == 0 {
			r.mustCheckpoint(ctx, failed, fmt.Sprintf("%s refund of %s does not cover the transfer fee", token.Symbol, gross))
			return
		}
		amount = net
	}
	if strings.TrimSpace(destination) == "" {
		destination = r.principal()
	}

	r.mustCheckpoint(ctx, start, fmt.Sprintf("%s %s to %s", numeric.FormatAmount(amount, token.Decimals), token.Symbol, destination))
	receipt, err := r.e.verifier.SendOutbound(ctx, token, amount, destination)
	if err != nil {
		if isRefund {
			r.e.metrics.RecordRefund(false)
		}
		r.claim(ctx, side, token, amount, destination, failed, err)
		return
	}
	if isRefund {
		r.e.metrics.RecordRefund(true)
	}
	var id uint64
	err = r.e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		t, err := tx.InsertTransfer(model.Transfer{
			RequestID: r.req.ID,
			TokenID:   token.ID,
			Direction: model.DirectionOut,
			Amount:    numeric.Clone(amount),
			Ref:       receipt.Ref,
			CreatedAt: r.e.now(),
		})
		if err != nil {
			return err
		}
		id = t.ID
		return tx.AppendStatus(r.req.ID, r.entry(success, receipt.Ref))
	})
	if err != nil {
		r.log.Error("record outbound transfer", zap.String("ref", receipt.Ref), zap.Error(err))
		return
	}
	r.transfers = append(r.transfers, id)
}

// claim records the failed payment and the claim for it in one commit.
func (r *run) claim(ctx context.Context, side int, token model.Token, amount *big.Int, destination string, failed model.StatusCode, cause error) {
	var id uint64
	err := r.e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		if err := tx.AppendStatus(r.req.ID, r.entry(failed, cause.Error())); err != nil {
			return err
		}
		c, err := claims.Create(tx, model.Claim{
			UserID:      r.user.ID,
			TokenID:     token.ID,
			Amount:      numeric.Clone(amount),
			RequestID:   r.req.ID,
			Destination: destination,
			LastError:   cause.Error(),
		}, r.e.now())
		if err != nil {
			return err
		}
		if errors.Is(cause, transfer.ErrUnconfirmed) {
			// The broadcast payout may still land; only an explicit retry resends it.
			c.Status = model.ClaimFailed
			if err := tx.PutClaim(c); err != nil {
				return err
			}
		}
		id = c.ID
		return tx.AppendStatus(r.req.ID, r.entry(model.ClaimStatusCode(side), fmt.Sprintf("claim %d", c.ID)))
	})
	if err != nil {
		panic(&ledger.FatalError{Op: "create claim", Err: err})
	}
	r.claims = append(r.claims, id)
	r.e.metrics.RecordClaim("created")
	r.log.Warn("outbound payment failed, claim created",
		zap.String("token", token.Symbol),
		zap.String("amount", amount.String()),
		zap.Uint64("claim_id", id),
		zap.Error(cause))
}

func (r *run) mustCheckpoint(ctx context.Context, code model.StatusCode, msg string) {
	if err := r.checkpoint(ctx, code, msg); err != nil {
		r.log.Error("checkpoint", zap.String("status", string(code)), zap.Error(err))
	}
}

// activeToken resolves a registered, non-removed token.
func activeToken(tx *ledger.Tx, identity string) (model.Token, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return model.Token{}, fmt.Errorf("empty token: %w", ErrInvalidArgs)
	}
	t, ok, err := tx.TokenByIdentity(identity)
	if err != nil {
		return model.Token{}, err
	}
	if !ok || t.Removed {
		return model.Token{}, fmt.Errorf("%s: %w", identity, ErrTokenNotFound)
	}
	return t, nil
}

// activePool resolves the pool of two tokens.
func activePool(tx *ledger.Tx, a, b model.Token) (model.Pool, error) {
	p, ok, err := tx.PoolByPair(a.ID, b.ID)
	if err != nil {
		return model.Pool{}, err
	}
	if !ok || p.Removed {
		return model.Pool{}, fmt.Errorf("%s/%s: %w", a.Symbol, b.Symbol, ErrPoolNotFound)
	}
	return p, nil
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// validationStatus picks the checkpoint that names a validation failure.
func validationStatus(err error) model.StatusCode {
	if errors.Is(err, ErrPoolNotFound) || errors.Is(err, swap.ErrNoRoute) {
		return model.StatusPoolLookupFailed
	}
	return model.StatusValidateArgsFailed
}
