package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"ammSettle/internal/storage"
)

func checkpointKey(name string) string {
	return "checkpoint/" + name
}

// Checkpoint returns the last value saved by a background job.
func (tx *Tx) Checkpoint(name string) (uint64, bool, error) {
	raw, ok, err := tx.get(storage.RegionJobs, checkpointKey(name))
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", name, err)
	}
	return v, true, nil
}

func (tx *Tx) SetCheckpoint(name string, value uint64) error {
	return tx.put(storage.RegionJobs, checkpointKey(name), []byte(strconv.FormatUint(value, 10)))
}

// RawRecord returns the stored JSON of a record for archival.
func (tx *Tx) RawRecord(region storage.Region, id uint64) (json.RawMessage, bool, error) {
	raw, ok, err := tx.get(region, idKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	return json.RawMessage(append([]byte(nil), raw...)), true, nil
}
