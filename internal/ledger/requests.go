package ledger

import (
	"fmt"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func (tx *Tx) Request(id uint64) (model.Request, bool, error) {
	return getRecord[model.Request](tx, storage.RegionRequests, id)
}

// InsertRequest creates the audit record before any side effect of the operation.
func (tx *Tx) InsertRequest(r model.Request) (model.Request, error) {
	if r.Kind() == "" {
		return model.Request{}, fmt.Errorf("request without args")
	}
	id, err := tx.nextID(storage.RegionRequests)
	if err != nil {
		return model.Request{}, err
	}
	r.ID = id
	if err := putRecord(tx, storage.RegionRequests, id, r); err != nil {
		return model.Request{}, err
	}
	if err := tx.put(storage.RegionRequests, userKey(r.UserID, id), marker); err != nil {
		return model.Request{}, err
	}
	return r, nil
}

func (tx *Tx) mutableRequest(id uint64) (model.Request, error) {
	r, ok, err := tx.Request(id)
	if err != nil {
		return model.Request{}, err
	}
	if !ok {
		return model.Request{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	if r.Reply != nil {
		return model.Request{}, fmt.Errorf("request %d: %w", id, ErrRequestFinalized)
	}
	return r, nil
}

// AppendStatus adds a checkpoint to a request that has no reply yet.
func (tx *Tx) AppendStatus(id uint64, entry model.StatusEntry) error {
	r, err := tx.mutableRequest(id)
	if err != nil {
		return err
	}
	r.Statuses = append(r.Statuses, entry)
	return putRecord(tx, storage.RegionRequests, id, r)
}

// SetReply stores the terminal reply. A request's reply is written once.
func (tx *Tx) SetReply(id uint64, reply model.Reply, final model.StatusEntry) error {
	r, err := tx.mutableRequest(id)
	if err != nil {
		return err
	}
	reply.RequestID = id
	r.Statuses = append(r.Statuses, final)
	r.Reply = &reply
	return putRecord(tx, storage.RegionRequests, id, r)
}

// UserRequests lists a user's requests, newest first.
func (tx *Tx) UserRequests(userID uint32, limit int) ([]model.Request, error) {
	return listIndexed[model.Request](tx, storage.RegionRequests, userPrefix(userID), limit)
}

// DeleteRequest removes an archived request and its listing index.
func (tx *Tx) DeleteRequest(r model.Request) error {
	if err := tx.del(storage.RegionRequests, idKey(r.ID)); err != nil {
		return err
	}
	return tx.del(storage.RegionRequests, userKey(r.UserID, r.ID))
}
