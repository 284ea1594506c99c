package claims

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/storage"
	"ammSettle/internal/transfer"
)

type harness struct {
	ledger  *ledger.Ledger
	svc     *Service
	token   model.Token
	mu      sync.Mutex
	failFor map[string]bool
	sends   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ledger: ledger.New(storage.NewMemoryKV(), nil), failFor: make(map[string]bool)}
	verifier := transfer.NewVerifier(nil)
	verifier.Register(model.ChainEVM, transfer.FuncAdapter{
		TransferFunc: func(_ context.Context, _ model.Token, amount *big.Int, dest string) (model.TransferReceipt, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sends++
			if h.failFor[dest] {
				return model.TransferReceipt{}, errors.New("recipient rejected")
			}
			return model.TransferReceipt{Ref: "0xpaid-" + dest, Amount: new(big.Int).Set(amount)}, nil
		},
	})
	clock := func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	h.svc = NewService(h.ledger, verifier, DefaultMaxRetries, nil, WithClock(clock))

	require.NoError(t, h.ledger.Update(context.Background(), func(tx *ledger.Tx) error {
		var err error
		h.token, err = tx.InsertToken(model.Token{
			Chain:    model.ChainEVM,
			Address:  "0x00000000000000000000000000000000000000aa",
			Symbol:   "USDC",
			Decimals: 6,
			Features: model.TokenFeatures{TransferRef: true},
		})
		return err
	}))
	return h
}

func (h *harness) setFail(dest string, fail bool) {
	h.mu.Lock()
	h.failFor[dest] = fail
	h.mu.Unlock()
}

func (h *harness) createClaim(t *testing.T, principal string, amount int64, dest string) model.Claim {
	t.Helper()
	var c model.Claim
	require.NoError(t, h.ledger.Update(context.Background(), func(tx *ledger.Tx) error {
		user, err := tx.EnsureUser(principal, time.Unix(1, 0))
		if err != nil {
			return err
		}
		c, err = Create(tx, model.Claim{
			UserID:      user.ID,
			TokenID:     h.token.ID,
			Amount:      big.NewInt(amount),
			Destination: dest,
		}, time.Unix(2, 0))
		return err
	}))
	return c
}

func (h *harness) claim(t *testing.T, id uint64) model.Claim {
	t.Helper()
	var c model.Claim
	require.NoError(t, h.ledger.View(context.Background(), func(tx *ledger.Tx) error {
		var ok bool
		var err error
		c, ok, err = tx.Claim(id)
		if err == nil && !ok {
			err = errors.New("claim missing")
		}
		return err
	}))
	return c
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	h := newHarness(t)
	err := h.ledger.Update(context.Background(), func(tx *ledger.Tx) error {
		_, err := Create(tx, model.Claim{UserID: 1, TokenID: h.token.ID, Amount: big.NewInt(0)}, time.Now())
		return err
	})
	require.Error(t, err)
}

func TestProcessRequiresOwner(t *testing.T) {
	h := newHarness(t)
	c := h.createClaim(t, "alice", 500, "0xalice")
	h.createClaim(t, "bob", 1, "0xbob")

	_, err := h.svc.Process(context.Background(), "bob", c.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.svc.Process(context.Background(), "mallory", c.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.Equal(t, model.ClaimPending, h.claim(t, c.ID).Status)
	require.Zero(t, h.sends)
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t)
	c := h.createClaim(t, "alice", 500, "0xalice")

	got, err := h.svc.Process(context.Background(), "alice", c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ClaimProcessed, got.Status)
	require.Equal(t, "0xpaid-0xalice", got.TxRef)

	stored := h.claim(t, c.ID)
	require.Equal(t, model.ClaimProcessed, stored.Status)

	_, err = h.svc.Process(context.Background(), "alice", c.ID)
	require.ErrorIs(t, err, ErrNotPending)
	require.Equal(t, 1, h.sends)

	// The payout is audited as a claim request with a success reply.
	require.NoError(t, h.ledger.View(context.Background(), func(tx *ledger.Tx) error {
		reqs, err := tx.UserRequests(stored.UserID, 0)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		require.Equal(t, model.KindClaim, reqs[0].Kind())
		require.True(t, reqs[0].Reply.Succeeded())
		require.Equal(t, "0xpaid-0xalice", reqs[0].Reply.Claim.TxRef)
		transfers, err := tx.RequestTransfers(reqs[0].ID)
		require.NoError(t, err)
		require.Len(t, transfers, 1)
		require.Equal(t, model.DirectionOut, transfers[0].Direction)
		return nil
	}))
}

func TestFailureRetryLimit(t *testing.T) {
	h := newHarness(t)
	h.setFail("0xalice", true)
	c := h.createClaim(t, "alice", 500, "0xalice")

	got, err := h.svc.Process(context.Background(), "alice", c.ID)
	require.Error(t, err)
	require.Equal(t, model.ClaimFailed, got.Status)
	require.Equal(t, uint8(1), got.RetryCount)
	require.Equal(t, "recipient rejected", got.LastError)

	_, err = h.svc.Process(context.Background(), "alice", c.ID)
	require.ErrorIs(t, err, ErrNotPending)

	got, err = h.svc.Retry(context.Background(), "alice", c.ID)
	require.Error(t, err)
	require.Equal(t, uint8(2), got.RetryCount)

	_, err = h.svc.Retry(context.Background(), "alice", c.ID)
	require.ErrorIs(t, err, ErrMaxRetries)
	require.Contains(t, err.Error(), "max retries reached")

	stored := h.claim(t, c.ID)
	require.Equal(t, model.ClaimFailed, stored.Status)

	require.NoError(t, h.ledger.View(context.Background(), func(tx *ledger.Tx) error {
		entries, err := tx.RecoveryEntries(0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		require.Equal(t, c.ID, entries[0].ClaimID)
		require.Equal(t, "recipient rejected", entries[0].Error)
		return nil
	}))
}

func TestRetryRecovers(t *testing.T) {
	h := newHarness(t)
	h.setFail("0xalice", true)
	c := h.createClaim(t, "alice", 500, "0xalice")

	_, err := h.svc.Retry(context.Background(), "alice", c.ID)
	require.ErrorIs(t, err, ErrNotFailed)

	_, err = h.svc.Process(context.Background(), "alice", c.ID)
	require.Error(t, err)

	h.setFail("0xalice", false)
	got, err := h.svc.Retry(context.Background(), "alice", c.ID)
	require.NoError(t, err)
	require.Equal(t, model.ClaimProcessed, got.Status)
	require.Empty(t, got.LastError)
}

func TestInFlightClaimIsNotProcessedTwice(t *testing.T) {
	l := ledger.New(storage.NewMemoryKV(), nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	verifier := transfer.NewVerifier(nil)
	verifier.Register(model.ChainEVM, transfer.FuncAdapter{
		TransferFunc: func(_ context.Context, _ model.Token, amount *big.Int, dest string) (model.TransferReceipt, error) {
			close(entered)
			<-release
			return model.TransferReceipt{Ref: "0xslow", Amount: amount}, nil
		},
	})
	h := &harness{ledger: l, svc: NewService(l, verifier, 0, nil)}
	require.NoError(t, l.Update(context.Background(), func(tx *ledger.Tx) error {
		var err error
		h.token, err = tx.InsertToken(model.Token{Chain: model.ChainEVM, Address: "0x00000000000000000000000000000000000000bb", Symbol: "DAI", Decimals: 18})
		return err
	}))
	c := h.createClaim(t, "alice", 9, "0xalice")

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Process(context.Background(), "alice", c.ID)
		done <- err
	}()
	<-entered
	require.Equal(t, model.ClaimClaiming, h.claim(t, c.ID).Status)

	_, err := h.svc.Process(context.Background(), "alice", c.ID)
	require.ErrorIs(t, err, ErrNotPending)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, model.ClaimProcessed, h.claim(t, c.ID).Status)
}

func TestBatchSumsPerTokenAndContinues(t *testing.T) {
	h := newHarness(t)
	h.setFail("0xbad", true)
	a := h.createClaim(t, "alice", 100, "0xalice")
	b := h.createClaim(t, "alice", 50, "0xbad")
	c := h.createClaim(t, "alice", 25, "0xalice")
	foreign := h.createClaim(t, "bob", 7, "0xbob")

	res, err := h.svc.Batch(context.Background(), "alice", []uint64{a.ID, b.ID, c.ID, foreign.ID, 999})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 5)
	require.Equal(t, "175", res.Requested[h.token.ID].String())
	require.Equal(t, "125", res.Paid[h.token.ID].String())

	require.Equal(t, model.ClaimProcessed, res.Outcomes[0].Status)
	require.Equal(t, model.ClaimFailed, res.Outcomes[1].Status)
	require.NotEmpty(t, res.Outcomes[1].Error)
	require.Equal(t, model.ClaimProcessed, res.Outcomes[2].Status)
	require.Contains(t, res.Outcomes[3].Error, "does not own")
	require.Contains(t, res.Outcomes[4].Error, "not found")
	require.Equal(t, model.ClaimPending, h.claim(t, foreign.ID).Status)
}

func TestSweepProcessesPending(t *testing.T) {
	h := newHarness(t)
	h.setFail("0xbad", true)
	h.createClaim(t, "alice", 100, "0xalice")
	bad := h.createClaim(t, "bob", 50, "0xbad")
	h.createClaim(t, "carol", 25, "0xcarol")

	paid, err := h.svc.Sweep(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, paid)
	require.Equal(t, model.ClaimFailed, h.claim(t, bad.ID).Status)

	// Failed claims wait for their owner's retry.
	paid, err = h.svc.Sweep(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, paid)
}
