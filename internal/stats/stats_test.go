package stats

import (
	"context"
	"math/big"
	"testing"
	"time"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

var now = time.Unix(1_700_000_000, 0).UTC()

func hop(poolID, pay uint32, payAmount int64, receive uint32, receiveAmount, lpFee int64) model.SwapHop {
	return model.SwapHop{
		PoolID:        poolID,
		PayToken:      pay,
		PayAmount:     big.NewInt(payAmount),
		ReceiveToken:  receive,
		ReceiveAmount: big.NewInt(receiveAmount),
		LPFee:         big.NewInt(lpFee),
	}
}

func seed(t *testing.T) (*ledger.Ledger, model.Pool) {
	t.Helper()
	l := ledger.New(storage.NewMemoryKV(), nil)
	var pool model.Pool
	err := l.Update(context.Background(), func(tx *ledger.Tx) error {
		a, err := tx.InsertToken(model.Token{Chain: model.ChainEVM, Address: "0xa", Symbol: "AAA", Decimals: 6})
		if err != nil {
			return err
		}
		b, err := tx.InsertToken(model.Token{Chain: model.ChainEVM, Address: "0xb", Symbol: "BBB", Decimals: 6})
		if err != nil {
			return err
		}
		pool, err = tx.InsertPool(model.Pool{
			Token0:   a.ID,
			Token1:   b.ID,
			Balance0: big.NewInt(1_000_000),
			Balance1: big.NewInt(2_000_000),
			LPFeeBPS: 30,
		})
		if err != nil {
			return err
		}
		txs := []model.Transaction{
			{RequestID: 1, Status: model.ReplySuccess, CreatedAt: now.Add(-time.Hour),
				Swap: &model.SwapDetail{Hops: []model.SwapHop{hop(pool.ID, a.ID, 1000, b.ID, 1990, 6)}}},
			{RequestID: 2, Status: model.ReplySuccess, CreatedAt: now.Add(-2 * time.Hour),
				Swap: &model.SwapDetail{Hops: []model.SwapHop{hop(pool.ID, b.ID, 2000, a.ID, 995, 3)}}},
			{RequestID: 3, Status: model.ReplySuccess, CreatedAt: now.Add(-48 * time.Hour),
				Swap: &model.SwapDetail{Hops: []model.SwapHop{hop(pool.ID, a.ID, 50000, b.ID, 90000, 300)}}},
			{RequestID: 4, Status: model.ReplyFailed, CreatedAt: now.Add(-time.Minute),
				Swap: &model.SwapDetail{Hops: []model.SwapHop{hop(pool.ID, a.ID, 7, b.ID, 13, 1)}}},
			{RequestID: 5, Status: model.ReplySuccess, CreatedAt: now.Add(-time.Minute),
				Liquidity: &model.LiquidityDetail{PoolID: pool.ID}},
		}
		for _, txn := range txs {
			if _, err := tx.InsertTransaction(txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return l, pool
}

func TestCollectWindow(t *testing.T) {
	l, pool := seed(t)
	var accs map[uint32]*Accumulator
	err := l.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		accs, err = Collect(tx, now.Add(-DefaultWindow))
		return err
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	acc := accs[pool.ID]
	if acc == nil {
		t.Fatalf("no accumulator for pool %d", pool.ID)
	}
	if acc.SwapCount != 2 {
		t.Fatalf("swap count %d", acc.SwapCount)
	}
	if acc.Volume0.String() != "1995" || acc.Volume1.String() != "3990" {
		t.Fatalf("volume %s/%s", acc.Volume0, acc.Volume1)
	}
	if acc.Fees0.String() != "3" || acc.Fees1.String() != "6" {
		t.Fatalf("fees %s/%s", acc.Fees0, acc.Fees1)
	}
}

func TestRefreshWritesStats(t *testing.T) {
	l, pool := seed(t)
	r := NewRefresher(l, nil, WithClock(func() time.Time { return now }))
	n, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("updated %d pools", n)
	}
	var got model.Pool
	err = l.View(context.Background(), func(tx *ledger.Tx) error {
		var err error
		got, _, err = tx.Pool(pool.ID)
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got.Stats.SwapCount != 2 {
		t.Fatalf("swap count %d", got.Stats.SwapCount)
	}
	// 3e-6 of the reserves per day, annualized.
	if got.Stats.APY != 0.1095 {
		t.Fatalf("apy %v", got.Stats.APY)
	}
	if !got.Stats.UpdatedAt.Equal(now) {
		t.Fatalf("updated at %v", got.Stats.UpdatedAt)
	}
	if got.Balance0.String() != "1000000" {
		t.Fatalf("balance changed: %s", got.Balance0)
	}
}

func TestRefreshResetsIdlePools(t *testing.T) {
	l, pool := seed(t)
	later := now.Add(72 * time.Hour)
	r := NewRefresher(l, nil, WithClock(func() time.Time { return later }))
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	var got model.Pool
	_ = l.View(context.Background(), func(tx *ledger.Tx) error {
		got, _, _ = tx.Pool(pool.ID)
		return nil
	})
	if got.Stats.SwapCount != 0 || got.Stats.APY != 0 || got.Stats.Volume0.Sign() != 0 {
		t.Fatalf("stats not reset: %+v", got.Stats)
	}
}

func TestComputeAPY(t *testing.T) {
	if v := computeAPY(nil, nil, big.NewInt(1), big.NewInt(1), 86400); v != 0 {
		t.Fatalf("expected 0, got %v", v)
	}
	if v := computeAPY(big.NewInt(1), nil, big.NewInt(0), big.NewInt(0), 86400); v != 0 {
		t.Fatalf("expected 0 for empty pool, got %v", v)
	}
	// One side earns 1% per day, the other nothing.
	if v := computeAPY(big.NewInt(100), nil, big.NewInt(10000), big.NewInt(10000), 86400); v != 182.5 {
		t.Fatalf("expected 182.5, got %v", v)
	}
	if v := computeAPY(big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(1), 0); v != 0 {
		t.Fatalf("expected 0 for empty window, got %v", v)
	}
}
