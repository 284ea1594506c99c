package ledger

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"ammSettle/internal/model"
	"ammSettle/internal/storage"
)

func principalKey(principal string) string {
	return "principal/" + principal
}

func (tx *Tx) User(id uint32) (model.User, bool, error) {
	return getRecord[model.User](tx, storage.RegionUsers, uint64(id))
}

func (tx *Tx) UserByPrincipal(principal string) (model.User, bool, error) {
	raw, ok, err := tx.get(storage.RegionUsers, principalKey(principal))
	if err != nil || !ok {
		return model.User{}, false, err
	}
	id, err := strconv.ParseUint(string(raw), 10, 32)
	if err != nil {
		return model.User{}, false, fmt.Errorf("parse principal index: %w", err)
	}
	return tx.User(uint32(id))
}

// EnsureUser returns the user for principal, creating it on first interaction.
func (tx *Tx) EnsureUser(principal string, now time.Time) (model.User, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return model.User{}, fmt.Errorf("empty principal")
	}
	user, ok, err := tx.UserByPrincipal(principal)
	if err != nil {
		return model.User{}, err
	}
	if ok {
		return user, nil
	}
	id, err := tx.nextID(storage.RegionUsers)
	if err != nil {
		return model.User{}, err
	}
	user = model.User{ID: uint32(id), Principal: principal, CreatedAt: now}
	if err := putRecord(tx, storage.RegionUsers, id, user); err != nil {
		return model.User{}, err
	}
	if err := tx.put(storage.RegionUsers, principalKey(principal), []byte(strconv.FormatUint(id, 10))); err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (tx *Tx) PutUser(u model.User) error {
	if _, ok, err := tx.User(u.ID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	return putRecord(tx, storage.RegionUsers, uint64(u.ID), u)
}

func lpKey(userID, tokenID uint32) string {
	return fmt.Sprintf("%010d/%010d", userID, tokenID)
}

// LPBalance returns a user's balance of an LP token, zero when absent.
func (tx *Tx) LPBalance(userID, tokenID uint32) (*big.Int, error) {
	raw, ok, err := tx.get(storage.RegionLPBalances, lpKey(userID, tokenID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("parse lp balance %s", lpKey(userID, tokenID))
	}
	return v, nil
}

// SetLPBalance stores a balance. Zero balances are removed.
func (tx *Tx) SetLPBalance(userID, tokenID uint32, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return tx.del(storage.RegionLPBalances, lpKey(userID, tokenID))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative lp balance for user %d token %d", userID, tokenID)
	}
	return tx.put(storage.RegionLPBalances, lpKey(userID, tokenID), []byte(amount.String()))
}

func (tx *Tx) UserLPBalances(userID uint32) ([]model.LPBalance, error) {
	var out []model.LPBalance
	prefix := fmt.Sprintf("%010d/", userID)
	err := tx.scan(storage.RegionLPBalances, prefix, func(key string, value []byte) (bool, error) {
		tokenID, err := strconv.ParseUint(key[len(prefix):], 10, 32)
		if err != nil {
			return false, fmt.Errorf("parse lp key %s: %w", key, err)
		}
		amount, ok := new(big.Int).SetString(string(value), 10)
		if !ok {
			return false, fmt.Errorf("parse lp balance %s", key)
		}
		out = append(out, model.LPBalance{UserID: userID, TokenID: uint32(tokenID), Amount: amount})
		return true, nil
	})
	return out, err
}
