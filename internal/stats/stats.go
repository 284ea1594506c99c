// Package stats maintains the rolling per-pool swap figures shown with each
// pool: volume, LP fees, swap count and APY over the last window.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
)

const DefaultWindow = 24 * time.Hour

// Refresher recomputes pool stats from the transaction log.
type Refresher struct {
	ledger *ledger.Ledger
	window time.Duration
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Refresher)

func WithWindow(window time.Duration) Option {
	return func(r *Refresher) {
		if window > 0 {
			r.window = window
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Refresher) { r.now = now }
}

func NewRefresher(l *ledger.Ledger, logger *zap.Logger, opts ...Option) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Refresher{ledger: l, window: DefaultWindow, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collect sums the successful swaps created at or after since, per pool.
func Collect(tx *ledger.Tx, since time.Time) (map[uint32]*Accumulator, error) {
	pools := make(map[uint32]model.Pool)
	accs := make(map[uint32]*Accumulator)
	err := tx.TransactionsSince(since, func(t model.Transaction) error {
		if t.Swap == nil || t.Status != model.ReplySuccess {
			return nil
		}
		for _, hop := range t.Swap.Hops {
			pool, ok := pools[hop.PoolID]
			if !ok {
				p, found, err := tx.Pool(hop.PoolID)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				pools[hop.PoolID] = p
				pool = p
			}
			acc := accs[hop.PoolID]
			if acc == nil {
				acc = NewAccumulator(hop.PoolID)
				accs[hop.PoolID] = acc
			}
			acc.AddHop(pool, hop)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return accs, nil
}

// Refresh rewrites the stats of every pool and returns the number of pools
// updated. Pools without swaps in the window are reset to zero.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	now := r.now().UTC()
	since := now.Add(-r.window)
	windowSeconds := uint64(r.window / time.Second)

	var accs map[uint32]*Accumulator
	err := r.ledger.View(ctx, func(tx *ledger.Tx) error {
		var err error
		accs, err = Collect(tx, since)
		return err
	})
	if err != nil {
		return 0, err
	}

	updated := 0
	err = r.ledger.Update(ctx, func(tx *ledger.Tx) error {
		pools, err := tx.Pools()
		if err != nil {
			return err
		}
		for _, pool := range pools {
			acc := accs[pool.ID]
			if acc == nil {
				acc = NewAccumulator(pool.ID)
			}
			pool.Stats = acc.Stats(pool, windowSeconds)
			pool.Stats.UpdatedAt = now
			if err := tx.PutPool(pool); err != nil {
				return fmt.Errorf("store pool %d stats: %w", pool.ID, err)
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.log.Debug("pool stats refreshed", zap.Int("pools", updated), zap.Int("active", len(accs)))
	return updated, nil
}
