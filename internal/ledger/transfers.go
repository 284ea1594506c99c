package ledger

import (
	"fmt"
	"strconv"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

// refKey indexes inbound references. It survives archival so a reference
// can never be credited twice.
func refKey(tokenID uint32, ref string) string {
	return fmt.Sprintf("ref/%010d/%s", tokenID, ref)
}

func requestTransferKey(requestID, id uint64) string {
	return fmt.Sprintf("req/%020d/%020d", requestID, id)
}

func (tx *Tx) Transfer(id uint64) (model.Transfer, bool, error) {
	return getRecord[model.Transfer](tx, storage.RegionTransfers, id)
}

// TransferRefUsed reports whether an inbound reference was already credited.
func (tx *Tx) TransferRefUsed(tokenID uint32, ref string) (bool, error) {
	_, ok, err := tx.get(storage.RegionTransfers, refKey(tokenID, ref))
	return ok, err
}

// InsertTransfer records a money movement. Inbound references are unique per token.
func (tx *Tx) InsertTransfer(t model.Transfer) (model.Transfer, error) {
	if t.Direction == model.DirectionIn && t.Ref != "" {
		used, err := tx.TransferRefUsed(t.TokenID, t.Ref)
		if err != nil {
			return model.Transfer{}, err
		}
		if used {
			return model.Transfer{}, fmt.Errorf("token %d ref %s: %w", t.TokenID, t.Ref, ErrDuplicateTransfer)
		}
	}
	id, err := tx.nextID(storage.RegionTransfers)
	if err != nil {
		return model.Transfer{}, err
	}
	t.ID = id
	if err := putRecord(tx, storage.RegionTransfers, id, t); err != nil {
		return model.Transfer{}, err
	}
	if t.Direction == model.DirectionIn && t.Ref != "" {
		if err := tx.put(storage.RegionTransfers, refKey(t.TokenID, t.Ref), []byte(strconv.FormatUint(id, 10))); err != nil {
			return model.Transfer{}, err
		}
	}
	if err := tx.put(storage.RegionTransfers, requestTransferKey(t.RequestID, id), marker); err != nil {
		return model.Transfer{}, err
	}
	return t, nil
}

// RequestTransfers lists the transfers of one request in insertion order.
func (tx *Tx) RequestTransfers(requestID uint64) ([]model.Transfer, error) {
	out, err := listIndexed[model.Transfer](tx, storage.RegionTransfers, fmt.Sprintf("req/%020d/", requestID), 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DeleteTransfer removes an archived transfer. The reference index is kept.
func (tx *Tx) DeleteTransfer(t model.Transfer) error {
	if err := tx.del(storage.RegionTransfers, idKey(t.ID)); err != nil {
		return err
	}
	return tx.del(storage.RegionTransfers, requestTransferKey(t.RequestID, t.ID))
}
