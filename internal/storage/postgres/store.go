package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ammSettle/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_kv (
	region     SMALLINT    NOT NULL,
	key        TEXT        NOT NULL,
	value      BYTEA       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (region, key)
)`

// Store provides Postgres persistence for the ledger regions.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate creates the ledger table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, region storage.Region, key string) ([]byte, bool, error) {
	var value []byte
	row := s.pool.QueryRow(ctx, `SELECT value FROM ledger_kv WHERE region=$1 AND key=$2`, int16(region), key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Scan(ctx context.Context, region storage.Region, prefix string, fn func(key string, value []byte) (bool, error)) error {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value FROM ledger_kv
		WHERE region=$1 AND starts_with(key, $2)
		ORDER BY key COLLATE "C"
	`, int16(region), prefix)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		more, err := fn(key, value)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return rows.Err()
}

// Apply commits the writes in one database transaction.
func (s *Store) Apply(ctx context.Context, writes []storage.Write) error {
	if len(writes) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, w := range writes {
			if w.Delete {
				batch.Queue(`DELETE FROM ledger_kv WHERE region=$1 AND key=$2`, int16(w.Region), w.Key)
				continue
			}
			batch.Queue(`
				INSERT INTO ledger_kv (region, key, value, updated_at)
				VALUES ($1, $2, $3, now())
				ON CONFLICT (region, key)
				DO UPDATE SET value = EXCLUDED.value, updated_at = now()
			`, int16(w.Region), w.Key, w.Value)
		}

		br := tx.SendBatch(ctx, batch)
		for range writes {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
}
