package ledger

import (
	"fmt"
	"strconv"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func pairKey(a, b uint32) string {
	t0, t1 := model.OrderPair(a, b)
	return fmt.Sprintf("pair/%010d/%010d", t0, t1)
}

func (tx *Tx) Pool(id uint32) (model.Pool, bool, error) {
	return getRecord[model.Pool](tx, storage.RegionPools, uint64(id))
}

// PoolByPair finds the pool for two tokens in either order.
func (tx *Tx) PoolByPair(a, b uint32) (model.Pool, bool, error) {
	raw, ok, err := tx.get(storage.RegionPools, pairKey(a, b))
	if err != nil || !ok {
		return model.Pool{}, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return model.Pool{}, false, fmt.Errorf("parse pair index: %w", err)
	}
	return tx.Pool(uint32(id))
}

func (tx *Tx) Pools() ([]model.Pool, error) {
	var out []model.Pool
	err := scanRecords(tx, storage.RegionPools, func(p model.Pool) (bool, error) {
		out = append(out, p)
		return true, nil
	})
	return out, err
}

// InsertPool assigns the next pool ID. One pool per token pair.
func (tx *Tx) InsertPool(p model.Pool) (model.Pool, error) {
	if p.Token0 == p.Token1 {
		return model.Pool{}, fmt.Errorf("pool with identical tokens %d", p.Token0)
	}
	p.Token0, p.Token1 = model.OrderPair(p.Token0, p.Token1)
	if _, ok, err := tx.get(storage.RegionPools, pairKey(p.Token0, p.Token1)); err != nil {
		return model.Pool{}, err
	} else if ok {
		return model.Pool{}, fmt.Errorf("pool %d/%d: %w", p.Token0, p.Token1, ErrExists)
	}
	id, err := tx.nextID(storage.RegionPools)
	if err != nil {
		return model.Pool{}, err
	}
	p.ID = uint32(id)
	if err := putRecord(tx, storage.RegionPools, id, p); err != nil {
		return model.Pool{}, err
	}
	if err := tx.put(storage.RegionPools, pairKey(p.Token0, p.Token1), []byte(strconv.FormatUint(id, 10))); err != nil {
		return model.Pool{}, err
	}
	return p, nil
}

func (tx *Tx) PutPool(p model.Pool) error {
	if _, ok, err := tx.Pool(p.ID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("pool %d: %w", p.ID, ErrNotFound)
	}
	return putRecord(tx, storage.RegionPools, uint64(p.ID), p)
}
