package ledger

import (
	"fmt"
	"strconv"
	"time"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func requestTxKey(requestID uint64) string {
	return fmt.Sprintf("req/%020d", requestID)
}

func (tx *Tx) Transaction(id uint64) (model.Transaction, bool, error) {
	return getRecord[model.Transaction](tx, storage.RegionTransactions, id)
}

// InsertTransaction writes the single transaction of a request.
func (tx *Tx) InsertTransaction(t model.Transaction) (model.Transaction, error) {
	if _, ok, err := tx.get(storage.RegionTransactions, requestTxKey(t.RequestID)); err != nil {
		return model.Transaction{}, err
	} else if ok {
		return model.Transaction{}, fmt.Errorf("transaction for request %d: %w", t.RequestID, ErrExists)
	}
	id, err := tx.nextID(storage.RegionTransactions)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = id
	if err := putRecord(tx, storage.RegionTransactions, id, t); err != nil {
		return model.Transaction{}, err
	}
	if err := tx.put(storage.RegionTransactions, userKey(t.UserID, id), marker); err != nil {
		return model.Transaction{}, err
	}
	if err := tx.put(storage.RegionTransactions, requestTxKey(t.RequestID), []byte(fmt.Sprint(id))); err != nil {
		return model.Transaction{}, err
	}
	return t, nil
}

// RequestTransaction returns the transaction written for a request, if any.
func (tx *Tx) RequestTransaction(requestID uint64) (model.Transaction, bool, error) {
	raw, ok, err := tx.get(storage.RegionTransactions, requestTxKey(requestID))
	if err != nil || !ok {
		return model.Transaction{}, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return model.Transaction{}, false, fmt.Errorf("parse transaction index for request %d: %w", requestID, err)
	}
	return tx.Transaction(id)
}

// UserTransactions lists a user's transactions, newest first.
func (tx *Tx) UserTransactions(userID uint32, limit int) ([]model.Transaction, error) {
	return listIndexed[model.Transaction](tx, storage.RegionTransactions, userPrefix(userID), limit)
}

// TransactionsSince visits transactions created at or after since, oldest first.
func (tx *Tx) TransactionsSince(since time.Time, fn func(model.Transaction) error) error {
	return scanRecords(tx, storage.RegionTransactions, func(t model.Transaction) (bool, error) {
		if t.CreatedAt.Before(since) {
			return true, nil
		}
		return true, fn(t)
	})
}

// DeleteTransaction removes an archived transaction and its indexes.
func (tx *Tx) DeleteTransaction(t model.Transaction) error {
	if err := tx.del(storage.RegionTransactions, idKey(t.ID)); err != nil {
		return err
	}
	if err := tx.del(storage.RegionTransactions, requestTxKey(t.RequestID)); err != nil {
		return err
	}
	return tx.del(storage.RegionTransactions, userKey(t.UserID, t.ID))
}
