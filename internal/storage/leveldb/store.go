package leveldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"ammSettle/internal/storage"
)

// Store is an embedded on-disk KV. Keys are prefixed with the region byte.
type Store struct {
	db *leveldb.DB
}

// Open creates or opens a LevelDB database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

func dbKey(region storage.Region, key string) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(region))
	return append(out, key...)
}

func (s *Store) Get(_ context.Context, region storage.Region, key string) ([]byte, bool, error) {
	value, err := s.db.Get(dbKey(region, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Scan(ctx context.Context, region storage.Region, prefix string, fn func(key string, value []byte) (bool, error)) error {
	iter := s.db.NewIterator(util.BytesPrefix(dbKey(region, prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := string(iter.Key()[1:])
		value := append([]byte(nil), iter.Value()...)
		more, err := fn(key, value)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

// Apply writes the batch atomically.
func (s *Store) Apply(_ context.Context, writes []storage.Write) error {
	batch := new(leveldb.Batch)
	for _, w := range writes {
		if w.Delete {
			batch.Delete(dbKey(w.Region, w.Key))
			continue
		}
		batch.Put(dbKey(w.Region, w.Key), w.Value)
	}
	return s.db.Write(batch, nil)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
