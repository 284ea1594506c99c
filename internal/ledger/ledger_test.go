package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

type failingKV struct {
	*storage.MemoryKV
}

func (f failingKV) Apply(context.Context, []storage.Write) error {
	return errors.New("disk full")
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(storage.NewMemoryKV(), nil)
}

func swapRequest(userID uint32) model.Request {
	return model.Request{
		UserID:    userID,
		Args:      model.RequestArgs{Swap: &model.SwapArgs{PayToken: "1", PayAmount: big.NewInt(10), ReceiveToken: "2"}},
		CreatedAt: time.Unix(100, 0).UTC(),
	}
}

func TestIDsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	var ids []uint64
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Update(ctx, func(tx *Tx) error {
			r, err := tx.InsertRequest(swapRequest(1))
			ids = append(ids, r.ID)
			return err
		}))
	}
	require.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestUpdateDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	boom := errors.New("boom")
	err := l.Update(ctx, func(tx *Tx) error {
		if _, err := tx.InsertRequest(swapRequest(1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	last, err := Latest(ctx, l, func(tx *Tx) (uint64, error) {
		return tx.LastID(storage.RegionRequests)
	})
	require.NoError(t, err)
	require.Zero(t, last)
}

func TestViewIsReadOnly(t *testing.T) {
	l := newTestLedger(t)
	err := l.View(context.Background(), func(tx *Tx) error {
		_, err := tx.InsertRequest(swapRequest(1))
		return err
	})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestCommitFailurePanicsWithFatalError(t *testing.T) {
	l := New(failingKV{storage.NewMemoryKV()}, nil)

	defer func() {
		rec := recover()
		fatal, ok := rec.(*FatalError)
		require.True(t, ok, "expected FatalError, got %v", rec)
		require.Equal(t, "commit", fatal.Op)
	}()
	_ = l.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.InsertRequest(swapRequest(1))
		return err
	})
	t.Fatal("expected panic")
}

func TestDuplicateInboundReference(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	in := model.Transfer{RequestID: 1, TokenID: 7, Direction: model.DirectionIn, Amount: big.NewInt(5), Ref: "0xabc"}
	var first model.Transfer
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.InsertTransfer(in)
		return err
	}))

	err := l.Update(ctx, func(tx *Tx) error {
		_, err := tx.InsertTransfer(in)
		return err
	})
	require.ErrorIs(t, err, ErrDuplicateTransfer)

	// Same reference on another token is a different transfer.
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		other := in
		other.TokenID = 8
		_, err := tx.InsertTransfer(other)
		return err
	}))

	// Archiving the record keeps the reference consumed.
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		return tx.DeleteTransfer(first)
	}))
	err = l.Update(ctx, func(tx *Tx) error {
		_, err := tx.InsertTransfer(in)
		return err
	})
	require.ErrorIs(t, err, ErrDuplicateTransfer)
}

func TestReplyIsSetOnce(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	var id uint64
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		r, err := tx.InsertRequest(swapRequest(1))
		id = r.ID
		return err
	}))

	final := model.StatusEntry{Code: model.StatusSuccess}
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		return tx.SetReply(id, model.Reply{Kind: model.KindSwap, Status: model.ReplySuccess}, final)
	}))

	err := l.Update(ctx, func(tx *Tx) error {
		return tx.SetReply(id, model.Reply{Kind: model.KindSwap, Status: model.ReplyFailed}, model.StatusEntry{Code: model.StatusFailed})
	})
	require.ErrorIs(t, err, ErrRequestFinalized)

	err = l.Update(ctx, func(tx *Tx) error {
		return tx.AppendStatus(id, model.StatusEntry{Code: model.StatusPoolLookup})
	})
	require.ErrorIs(t, err, ErrRequestFinalized)

	req, err := Latest(ctx, l, func(tx *Tx) (model.Request, error) {
		r, _, err := tx.Request(id)
		return r, err
	})
	require.NoError(t, err)
	require.Equal(t, model.ReplySuccess, req.Reply.Status)
	require.Equal(t, id, req.Reply.RequestID)
	require.Len(t, req.Statuses, 1)
}

func TestReadYourWritesInsideUpdate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		if _, err := tx.InsertRequest(swapRequest(4)); err != nil {
			return err
		}
		if _, err := tx.InsertRequest(swapRequest(4)); err != nil {
			return err
		}
		reqs, err := tx.UserRequests(4, 0)
		require.NoError(t, err)
		require.Len(t, reqs, 2)
		require.Equal(t, uint64(2), reqs[0].ID)
		return nil
	}))
}

func TestTokensPoolsAndUsers(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	now := time.Unix(100, 0).UTC()

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		a, err := tx.InsertToken(model.Token{Chain: model.ChainEVM, Address: "0xAbC", Symbol: "A", Decimals: 6})
		require.NoError(t, err)
		b, err := tx.InsertToken(model.Token{Chain: model.ChainSolana, Address: "So1", Symbol: "B", Decimals: 9})
		require.NoError(t, err)

		_, err = tx.InsertToken(model.Token{Chain: model.ChainEVM, Address: "0xabc"})
		require.ErrorIs(t, err, ErrExists)

		found, ok, err := tx.TokenByIdentity("EVM.0xabc")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, a.ID, found.ID)

		p, err := tx.InsertPool(model.Pool{Token0: b.ID, Token1: a.ID})
		require.NoError(t, err)
		require.Equal(t, a.ID, p.Token0)

		byPair, ok, err := tx.PoolByPair(b.ID, a.ID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, p.ID, byPair.ID)

		_, err = tx.InsertPool(model.Pool{Token0: a.ID, Token1: b.ID})
		require.ErrorIs(t, err, ErrExists)

		u1, err := tx.EnsureUser("alice", now)
		require.NoError(t, err)
		u2, err := tx.EnsureUser("alice", now)
		require.NoError(t, err)
		require.Equal(t, u1.ID, u2.ID)
		return nil
	}))
}

func TestLPBalances(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.SetLPBalance(1, 3, big.NewInt(50)))
		require.NoError(t, tx.SetLPBalance(1, 4, big.NewInt(7)))
		return tx.SetLPBalance(2, 3, big.NewInt(1))
	}))

	balances, err := Latest(ctx, l, func(tx *Tx) ([]model.LPBalance, error) {
		return tx.UserLPBalances(1)
	})
	require.NoError(t, err)
	require.Len(t, balances, 2)
	require.Equal(t, "50", balances[0].Amount.String())

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		return tx.SetLPBalance(1, 3, new(big.Int))
	}))
	bal, err := Latest(ctx, l, func(tx *Tx) (*big.Int, error) {
		return tx.LPBalance(1, 3)
	})
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestClaimsByStatus(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		for i := 0; i < 3; i++ {
			status := model.ClaimPending
			if i == 1 {
				status = model.ClaimFailed
			}
			if _, err := tx.InsertClaim(model.Claim{UserID: 1, TokenID: 2, Amount: big.NewInt(int64(i + 1)), Status: status}); err != nil {
				return err
			}
		}
		return nil
	}))

	pending, err := Latest(ctx, l, func(tx *Tx) ([]model.Claim, error) {
		return tx.ClaimsByStatus(model.ClaimPending, 0)
	})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(1), pending[0].ID)
	require.Equal(t, uint64(3), pending[1].ID)
}

func TestTransactionIndexesAndDelete(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	var txn model.Transaction
	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		var err error
		txn, err = tx.InsertTransaction(model.Transaction{RequestID: 7, UserID: 3, Status: model.ReplySuccess, CreatedAt: time.Unix(50, 0)})
		if err != nil {
			return err
		}
		_, err = tx.InsertTransaction(model.Transaction{RequestID: 7, UserID: 3})
		require.ErrorIs(t, err, ErrExists)
		return nil
	}))

	got, ok, err := func() (model.Transaction, bool, error) {
		var got model.Transaction
		var ok bool
		err := l.View(ctx, func(tx *Tx) error {
			var err error
			got, ok, err = tx.RequestTransaction(7)
			return err
		})
		return got, ok, err
	}()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, txn.ID, got.ID)

	require.NoError(t, l.Update(ctx, func(tx *Tx) error {
		return tx.DeleteTransaction(txn)
	}))
	require.NoError(t, l.View(ctx, func(tx *Tx) error {
		_, ok, err := tx.RequestTransaction(7)
		require.NoError(t, err)
		require.False(t, ok)
		list, err := tx.UserTransactions(3, 0)
		require.NoError(t, err)
		require.Empty(t, list)
		return nil
	}))
}
