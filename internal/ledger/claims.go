package ledger

import (
	"fmt"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func (tx *Tx) Claim(id uint64) (model.Claim, bool, error) {
	return getRecord[model.Claim](tx, storage.RegionClaims, id)
}

// InsertClaim records an owed payout.
func (tx *Tx) InsertClaim(c model.Claim) (model.Claim, error) {
	if !c.Status.Valid() {
		return model.Claim{}, fmt.Errorf("invalid claim status %d", c.Status)
	}
	id, err := tx.nextID(storage.RegionClaims)
	if err != nil {
		return model.Claim{}, err
	}
	c.ID = id
	if err := putRecord(tx, storage.RegionClaims, id, c); err != nil {
		return model.Claim{}, err
	}
	if err := tx.put(storage.RegionClaims, userKey(c.UserID, id), marker); err != nil {
		return model.Claim{}, err
	}
	return c, nil
}

func (tx *Tx) PutClaim(c model.Claim) error {
	if _, ok, err := tx.Claim(c.ID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("claim %d: %w", c.ID, ErrNotFound)
	}
	return putRecord(tx, storage.RegionClaims, c.ID, c)
}

// UserClaims lists a user's claims, newest first.
func (tx *Tx) UserClaims(userID uint32, limit int) ([]model.Claim, error) {
	return listIndexed[model.Claim](tx, storage.RegionClaims, userPrefix(userID), limit)
}

// ClaimsByStatus lists claims in a status, oldest first.
func (tx *Tx) ClaimsByStatus(status model.ClaimStatus, limit int) ([]model.Claim, error) {
	var out []model.Claim
	err := scanRecords(tx, storage.RegionClaims, func(c model.Claim) (bool, error) {
		if c.Status == status {
			out = append(out, c)
		}
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// InsertRecovery mirrors a failed payout into the operator recovery log.
func (tx *Tx) InsertRecovery(e model.RecoveryEntry) (model.RecoveryEntry, error) {
	id, err := tx.nextID(storage.RegionRecovery)
	if err != nil {
		return model.RecoveryEntry{}, err
	}
	e.ID = id
	if err := putRecord(tx, storage.RegionRecovery, id, e); err != nil {
		return model.RecoveryEntry{}, err
	}
	return e, nil
}

func (tx *Tx) RecoveryEntries(limit int) ([]model.RecoveryEntry, error) {
	var out []model.RecoveryEntry
	err := scanRecords(tx, storage.RegionRecovery, func(e model.RecoveryEntry) (bool, error) {
		out = append(out, e)
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}
