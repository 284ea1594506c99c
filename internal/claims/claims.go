// Package claims pays out obligations that could not be settled inline. A
// claim moves Pending -> Claiming -> Processed, or to Failed with a bounded
// number of owner retries.
package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"ammSettle/internal/ledger"
	"ammSettle/internal/metrics"
	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
	"ammSettle/internal/transfer"
)

var (
	ErrNotFound     = errors.New("claims: claim not found")
	ErrUnauthorized = errors.New("claims: caller does not own the claim")
	ErrNotPending   = errors.New("claims: claim is not pending")
	ErrNotFailed    = errors.New("claims: claim is not failed")
	ErrMaxRetries   = errors.New("claims: max retries reached")
)

const DefaultMaxRetries = 2

// Create inserts a pending claim inside the caller's transaction.
func Create(tx *ledger.Tx, c model.Claim, now time.Time) (model.Claim, error) {
	if c.Amount == nil || c.Amount.Sign() <= 0 {
		return model.Claim{}, fmt.Errorf("claim amount must be positive")
	}
	c.Status = model.ClaimPending
	c.RetryCount = 0
	c.TxRef = ""
	c.CreatedAt = now
	c.UpdatedAt = now
	return tx.InsertClaim(c)
}

// Service processes claims against the transfer verifier.
type Service struct {
	ledger     *ledger.Ledger
	verifier   *transfer.Verifier
	maxRetries uint8
	log        *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(l *ledger.Ledger, v *transfer.Verifier, maxRetries uint8, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	s := &Service{ledger: l, verifier: v, maxRetries: maxRetries, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process pays out a pending claim owned by principal.
func (s *Service) Process(ctx context.Context, principal string, id uint64) (model.Claim, error) {
	owner, err := s.owner(ctx, principal)
	if err != nil {
		return model.Claim{}, err
	}
	return s.process(ctx, id, &owner, false)
}

// Retry pays out a failed claim again, up to the retry limit.
func (s *Service) Retry(ctx context.Context, principal string, id uint64) (model.Claim, error) {
	owner, err := s.owner(ctx, principal)
	if err != nil {
		return model.Claim{}, err
	}
	return s.process(ctx, id, &owner, true)
}

// ProcessAny pays out a pending claim on behalf of its owner. It serves the
// background sweep and operators.
func (s *Service) ProcessAny(ctx context.Context, id uint64) (model.Claim, error) {
	return s.process(ctx, id, nil, false)
}

func (s *Service) owner(ctx context.Context, principal string) (uint32, error) {
	principal = strings.TrimSpace(principal)
	var id uint32
	err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
		user, ok, err := tx.UserByPrincipal(principal)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("principal %q: %w", principal, ErrUnauthorized)
		}
		id = user.ID
		return nil
	})
	return id, err
}

// process marks the claim Claiming and opens its request in one commit before
// the outbound call, so a second caller sees the in-flight marker.
func (s *Service) process(ctx context.Context, id uint64, owner *uint32, retry bool) (model.Claim, error) {
	var (
		claim model.Claim
		token model.Token
		req   model.Request
	)
	err := s.ledger.Update(ctx, func(tx *ledger.Tx) error {
		c, ok, err := tx.Claim(id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("claim %d: %w", id, ErrNotFound)
		}
		if owner != nil && c.UserID != *owner {
			return fmt.Errorf("claim %d: %w", id, ErrUnauthorized)
		}
		switch {
		case retry && c.Status != model.ClaimFailed:
			return fmt.Errorf("claim %d is %s: %w", id, c.Status, ErrNotFailed)
		case retry && c.RetryCount >= s.maxRetries:
			return fmt.Errorf("claim %d after %d attempts: %w", id, c.RetryCount, ErrMaxRetries)
		case !retry && c.Status != model.ClaimPending:
			return fmt.Errorf("claim %d is %s: %w", id, c.Status, ErrNotPending)
		}
		t, ok, err := tx.Token(c.TokenID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("claim %d token %d: %w", id, c.TokenID, ledger.ErrNotFound)
		}
		now := s.now()
		c.Status = model.ClaimClaiming
		c.UpdatedAt = now
		if err := tx.PutClaim(c); err != nil {
			return err
		}
		req, err = tx.InsertRequest(model.Request{
			UserID: c.UserID,
			Args:   model.RequestArgs{Claim: &model.ClaimArgs{ClaimID: id, Retry: retry}},
			Statuses: []model.StatusEntry{
				{Code: model.StatusStart, At: now},
				{Code: model.StatusClaimProcessing, Message: fmt.Sprintf("claim %d", id), At: now},
			},
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		claim, token = c, t
		return nil
	})
	if err != nil {
		return model.Claim{}, err
	}

	log := s.log.With(zap.Uint64("claim_id", id), zap.Uint64("request_id", req.ID))
	receipt, sendErr := s.verifier.SendOutbound(ctx, token, claim.Amount, claim.Destination)

	err = s.ledger.Update(ctx, func(tx *ledger.Tx) error {
		now := s.now()
		detail := &model.ClaimDetail{ClaimID: id, Token: token.ID, Amount: numeric.Clone(claim.Amount)}
		reply := model.Reply{Kind: model.KindClaim, Claim: detail, Timestamp: now}
		claim.UpdatedAt = now

		if sendErr == nil {
			claim.Status = model.ClaimProcessed
			claim.TxRef = receipt.Ref
			claim.LastError = ""
			detail.TxRef = receipt.Ref
			t, err := tx.InsertTransfer(model.Transfer{
				RequestID: req.ID,
				TokenID:   token.ID,
				Direction: model.DirectionOut,
				Amount:    numeric.Clone(claim.Amount),
				Ref:       receipt.Ref,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			reply.Status = model.ReplySuccess
			reply.TransferIDs = []uint64{t.ID}
			if err := tx.PutClaim(claim); err != nil {
				return err
			}
			return tx.SetReply(req.ID, reply, model.StatusEntry{Code: model.StatusClaimSuccess, Message: receipt.Ref, At: now})
		}

		claim.Status = model.ClaimFailed
		claim.LastError = sendErr.Error()
		if retry {
			claim.RetryCount++
		} else {
			claim.RetryCount = 1
		}
		if _, err := tx.InsertRecovery(model.RecoveryEntry{
			ClaimID:   id,
			UserID:    claim.UserID,
			TokenID:   token.ID,
			Amount:    numeric.Clone(claim.Amount),
			Error:     sendErr.Error(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.PutClaim(claim); err != nil {
			return err
		}
		reply.Status = model.ReplyFailed
		reply.Error = sendErr.Error()
		return tx.SetReply(req.ID, reply, model.StatusEntry{Code: model.StatusClaimFailed, Message: sendErr.Error(), At: now})
	})
	if err != nil {
		// The claim stays Claiming; operators resolve it from the recovery view.
		log.Error("record claim outcome", zap.NamedError("send_error", sendErr), zap.Error(err))
		return claim, fmt.Errorf("record claim %d outcome: %w", id, err)
	}
	if sendErr != nil {
		s.metrics.RecordClaim("failed")
		log.Warn("claim payout failed", zap.Uint8("retry_count", claim.RetryCount), zap.Error(sendErr))
		return claim, fmt.Errorf("claim %d payout: %w", id, sendErr)
	}
	s.metrics.RecordClaim("processed")
	log.Info("claim processed", zap.String("tx_ref", receipt.Ref))
	return claim, nil
}

// Outcome is the result of one claim in a batch.
type Outcome struct {
	ClaimID uint64            `json:"claim_id"`
	Status  model.ClaimStatus `json:"status"`
	TxRef   string            `json:"tx_ref,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BatchResult sums a batch per token and lists each claim's outcome.
type BatchResult struct {
	// Requested sums the amounts of every claim in the batch that was found.
	Requested map[uint32]*big.Int `json:"requested"`
	// Paid sums the amounts that were paid out.
	Paid     map[uint32]*big.Int `json:"paid"`
	Outcomes []Outcome           `json:"outcomes"`
}

// Batch processes ids one by one; a failing claim does not stop the rest. An
// empty principal processes as operator.
func (s *Service) Batch(ctx context.Context, principal string, ids []uint64) (BatchResult, error) {
	res := BatchResult{Requested: make(map[uint32]*big.Int), Paid: make(map[uint32]*big.Int)}
	var owner *uint32
	if strings.TrimSpace(principal) != "" {
		id, err := s.owner(ctx, principal)
		if err != nil {
			return res, err
		}
		owner = &id
	}
	for _, id := range ids {
		var current model.Claim
		err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
			c, ok, err := tx.Claim(id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("claim %d: %w", id, ErrNotFound)
			}
			current = c
			return nil
		})
		if err != nil {
			res.Outcomes = append(res.Outcomes, Outcome{ClaimID: id, Error: err.Error()})
			continue
		}
		if owner == nil || current.UserID == *owner {
			res.Requested[current.TokenID] = numeric.Add(res.Requested[current.TokenID], current.Amount)
		}

		claim, err := s.process(ctx, id, owner, current.Status == model.ClaimFailed)
		out := Outcome{ClaimID: id, Status: current.Status}
		if claim.ID != 0 {
			out.Status = claim.Status
			out.TxRef = claim.TxRef
		}
		if err != nil {
			out.Error = err.Error()
		}
		if err == nil && claim.Status == model.ClaimProcessed {
			res.Paid[claim.TokenID] = numeric.Add(res.Paid[claim.TokenID], claim.Amount)
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	return res, nil
}

// Sweep pays out up to limit pending claims, oldest first. It returns the
// number of claims paid.
func (s *Service) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := ledger.Latest(ctx, s.ledger, func(tx *ledger.Tx) ([]model.Claim, error) {
		return tx.ClaimsByStatus(model.ClaimPending, limit)
	})
	if err != nil {
		return 0, fmt.Errorf("list pending claims: %w", err)
	}
	paid := 0
	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return paid, err
		}
		if _, err := s.ProcessAny(ctx, c.ID); err != nil {
			if errors.Is(err, ErrNotPending) {
				continue
			}
			s.log.Debug("sweep claim", zap.Uint64("claim_id", c.ID), zap.Error(err))
			continue
		}
		paid++
	}
	return paid, nil
}
