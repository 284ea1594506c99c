package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func tokenAddrKey(identity string) string {
	return "addr/" + identity
}

func (tx *Tx) Token(id uint32) (model.Token, bool, error) {
	return getRecord[model.Token](tx, storage.RegionTokens, uint64(id))
}

// TokenByIdentity resolves a "CHAIN.address" identity or a decimal token ID.
func (tx *Tx) TokenByIdentity(identity string) (model.Token, bool, error) {
	if id, err := strconv.ParseUint(identity, 10, 32); err == nil {
		return tx.Token(uint32(id))
	}
	raw, ok, err := tx.get(storage.RegionTokens, tokenAddrKey(identity))
	if err != nil || !ok {
		return model.Token{}, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return model.Token{}, false, fmt.Errorf("parse token index: %w", err)
	}
	return tx.Token(uint32(id))
}

func (tx *Tx) Tokens() ([]model.Token, error) {
	var out []model.Token
	err := scanRecords(tx, storage.RegionTokens, func(t model.Token) (bool, error) {
		out = append(out, t)
		return true, nil
	})
	return out, err
}

// InsertToken assigns the next token ID. Identities are unique.
func (tx *Tx) InsertToken(t model.Token) (model.Token, error) {
	identity := t.Identity()
	if _, ok, err := tx.get(storage.RegionTokens, tokenAddrKey(identity)); err != nil {
		return model.Token{}, err
	} else if ok {
		return model.Token{}, fmt.Errorf("token %s: %w", identity, ErrExists)
	}
	id, err := tx.nextID(storage.RegionTokens)
	if err != nil {
		return model.Token{}, err
	}
	t.ID = uint32(id)
	t.Address = strings.TrimSpace(t.Address)
	if t.Chain == model.ChainEVM {
		t.Address = strings.ToLower(t.Address)
	}
	if err := putRecord(tx, storage.RegionTokens, id, t); err != nil {
		return model.Token{}, err
	}
	if err := tx.put(storage.RegionTokens, tokenAddrKey(identity), []byte(strconv.FormatUint(id, 10))); err != nil {
		return model.Token{}, err
	}
	return t, nil
}

// PutToken rewrites a token. Only Removed and PoolID are expected to change.
func (tx *Tx) PutToken(t model.Token) error {
	if _, ok, err := tx.Token(t.ID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("token %d: %w", t.ID, ErrNotFound)
	}
	return putRecord(tx, storage.RegionTokens, uint64(t.ID), t)
}
