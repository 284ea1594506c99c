package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

const (
	archiveCheckpoint       = "archive_requests"
	defaultArchiveBatchSize = 500
)

var archiveRegions = []storage.Region{
	storage.RegionRequests,
	storage.RegionTransfers,
	storage.RegionTransactions,
}

// Archiver moves finalized requests older than the retention period, with
// their transfers and transaction, from the live ledger to an archive sink.
// Inbound transfer references stay in the ledger so a reference can never be
// credited twice.
type Archiver struct {
	ledger    *ledger.Ledger
	sink      storage.ArchiveSink
	retention time.Duration
	batchSize uint64
	log       *zap.Logger
	now       func() time.Time
}

type ArchiverOption func(*Archiver)

func WithBatchSize(n uint64) ArchiverOption {
	return func(a *Archiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

func NewArchiver(l *ledger.Ledger, sink storage.ArchiveSink, retention time.Duration, logger *zap.Logger, opts ...ArchiverOption) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		ledger:    l,
		sink:      sink,
		retention: retention,
		batchSize: defaultArchiveBatchSize,
		log:       logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type archiveBatch struct {
	requests     []model.Request
	transfers    []model.Transfer
	transactions []model.Transaction
	raw          map[storage.Region][]json.RawMessage
	// last is the highest request ID covered by the batch.
	last uint64
	// done is set when a request that must stay live was reached.
	done bool
}

// Run archives eligible requests in ID order and returns how many were moved.
// It stops at the first request that is still open or inside the retention
// period.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	if a.sink == nil || a.retention <= 0 {
		return 0, nil
	}
	cutoff := a.now().Add(-a.retention)

	var from, to uint64
	err := a.ledger.View(ctx, func(tx *ledger.Tx) error {
		cp, _, err := tx.Checkpoint(archiveCheckpoint)
		if err != nil {
			return err
		}
		last, err := tx.LastID(storage.RegionRequests)
		if err != nil {
			return err
		}
		from, to = cp+1, last
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("load archive checkpoint: %w", err)
	}
	if to < from {
		return 0, nil
	}
	ranges, err := SplitRange(from, to, a.batchSize)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		batch, err := a.collect(ctx, r, cutoff)
		if err != nil {
			return archived, err
		}
		if batch.last == 0 {
			break
		}
		for _, region := range archiveRegions {
			if err := a.sink.Archive(region, batch.raw[region]); err != nil {
				return archived, fmt.Errorf("archive %s: %w", region, err)
			}
		}
		if err := a.prune(ctx, batch); err != nil {
			return archived, err
		}
		archived += len(batch.requests)
		if batch.done {
			break
		}
	}
	if archived > 0 {
		a.log.Info("requests archived", zap.Int("count", archived), zap.Time("cutoff", cutoff))
	}
	return archived, nil
}

func (a *Archiver) collect(ctx context.Context, r IDRange, cutoff time.Time) (archiveBatch, error) {
	batch := archiveBatch{raw: make(map[storage.Region][]json.RawMessage)}
	err := a.ledger.View(ctx, func(tx *ledger.Tx) error {
		for id := r.From; id <= r.To; id++ {
			req, ok, err := tx.Request(id)
			if err != nil {
				return err
			}
			if !ok {
				batch.last = id
				continue
			}
			if !req.Terminal() || req.CreatedAt.After(cutoff) {
				batch.done = true
				return nil
			}
			if err := batch.add(tx, storage.RegionRequests, req.ID); err != nil {
				return err
			}
			batch.requests = append(batch.requests, req)

			transfers, err := tx.RequestTransfers(req.ID)
			if err != nil {
				return err
			}
			for _, t := range transfers {
				if err := batch.add(tx, storage.RegionTransfers, t.ID); err != nil {
					return err
				}
				batch.transfers = append(batch.transfers, t)
			}

			txn, ok, err := tx.RequestTransaction(req.ID)
			if err != nil {
				return err
			}
			if ok {
				if err := batch.add(tx, storage.RegionTransactions, txn.ID); err != nil {
					return err
				}
				batch.transactions = append(batch.transactions, txn)
			}
			batch.last = id
		}
		return nil
	})
	if err != nil {
		return archiveBatch{}, fmt.Errorf("collect requests %d-%d: %w", r.From, r.To, err)
	}
	return batch, nil
}

func (b *archiveBatch) add(tx *ledger.Tx, region storage.Region, id uint64) error {
	raw, ok, err := tx.RawRecord(region, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %d: %w", region, id, ledger.ErrNotFound)
	}
	b.raw[region] = append(b.raw[region], raw)
	return nil
}

func (a *Archiver) prune(ctx context.Context, batch archiveBatch) error {
	return a.ledger.Update(ctx, func(tx *ledger.Tx) error {
		for _, t := range batch.transfers {
			if err := tx.DeleteTransfer(t); err != nil {
				return err
			}
		}
		for _, t := range batch.transactions {
			if err := tx.DeleteTransaction(t); err != nil {
				return err
			}
		}
		for _, r := range batch.requests {
			if err := tx.DeleteRequest(r); err != nil {
				return err
			}
		}
		return tx.SetCheckpoint(archiveCheckpoint, batch.last)
	})
}
