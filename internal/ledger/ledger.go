package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ammSettle/internal/storage"
)

var (
	ErrNotFound          = errors.New("ledger: record not found")
	ErrExists            = errors.New("ledger: record already exists")
	ErrDuplicateTransfer = errors.New("ledger: transfer reference already used")
	ErrRequestFinalized  = errors.New("ledger: request already has a reply")
	ErrReadOnly          = errors.New("ledger: write in read-only view")
)

// FatalError reports a durable commit failure. The ledger cannot reason about
// its own accounting after one, so Update raises it with panic.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ledger: fatal %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Ledger owns every durable map. All mutations go through Update, which is the
// single writer: callers must finish their external calls before entering it.
type Ledger struct {
	kv  storage.KV
	log *zap.Logger
	mu  sync.Mutex
}

func New(kv storage.KV, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{kv: kv, log: logger}
}

// Update runs fn with exclusive access. Writes buffered by fn are committed
// atomically when fn returns nil and discarded otherwise.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(ctx, l.kv, true)
	if err := fn(tx); err != nil {
		return err
	}
	writes := tx.pending()
	if len(writes) == 0 {
		return nil
	}
	if err := l.kv.Apply(ctx, writes); err != nil {
		l.log.Error("ledger commit failed", zap.Int("writes", len(writes)), zap.Error(err))
		panic(&FatalError{Op: "commit", Err: err})
	}
	return nil
}

// View runs fn against the committed state.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(newTx(ctx, l.kv, false))
}

// Latest returns read's result against the committed state. Reads that must
// stay consistent with a following write belong inside Update instead.
func Latest[T any](ctx context.Context, l *Ledger, read func(tx *Tx) (T, error)) (T, error) {
	var out T
	err := l.View(ctx, func(tx *Tx) error {
		v, err := read(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

type writeKey struct {
	region storage.Region
	key    string
}

// Tx is a view of the ledger with read-your-writes buffering.
type Tx struct {
	ctx      context.Context
	kv       storage.KV
	writable bool
	overlay  map[writeKey]storage.Write
	order    []writeKey
}

func newTx(ctx context.Context, kv storage.KV, writable bool) *Tx {
	return &Tx{ctx: ctx, kv: kv, writable: writable, overlay: make(map[writeKey]storage.Write)}
}

func (tx *Tx) pending() []storage.Write {
	out := make([]storage.Write, 0, len(tx.order))
	for _, k := range tx.order {
		out = append(out, tx.overlay[k])
	}
	return out
}

func (tx *Tx) get(region storage.Region, key string) ([]byte, bool, error) {
	if w, ok := tx.overlay[writeKey{region, key}]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return w.Value, true, nil
	}
	value, ok, err := tx.kv.Get(tx.ctx, region, key)
	if err != nil {
		return nil, false, fmt.Errorf("read %s/%s: %w", region, key, err)
	}
	return value, ok, nil
}

func (tx *Tx) stage(w storage.Write) error {
	if !tx.writable {
		return ErrReadOnly
	}
	k := writeKey{w.Region, w.Key}
	if _, ok := tx.overlay[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.overlay[k] = w
	return nil
}

func (tx *Tx) put(region storage.Region, key string, value []byte) error {
	return tx.stage(storage.Write{Region: region, Key: key, Value: value})
}

func (tx *Tx) del(region storage.Region, key string) error {
	return tx.stage(storage.Write{Region: region, Key: key, Delete: true})
}

// scan merges buffered writes into the store's ordered scan.
func (tx *Tx) scan(region storage.Region, prefix string, fn func(key string, value []byte) (bool, error)) error {
	var staged bool
	for k := range tx.overlay {
		if k.region == region && strings.HasPrefix(k.key, prefix) {
			staged = true
			break
		}
	}
	if !staged {
		return tx.kv.Scan(tx.ctx, region, prefix, fn)
	}

	merged := make(map[string][]byte)
	err := tx.kv.Scan(tx.ctx, region, prefix, func(key string, value []byte) (bool, error) {
		merged[key] = value
		return true, nil
	})
	if err != nil {
		return err
	}
	for k, w := range tx.overlay {
		if k.region != region || !strings.HasPrefix(k.key, prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k.key)
			continue
		}
		merged[k.key] = w.Value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		more, err := fn(key, merged[key])
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

const seqKey = "seq"

// marker is the value of pure index entries.
var marker = []byte{1}

// nextID allocates the next surrogate ID of a region. IDs start at 1 and never repeat.
func (tx *Tx) nextID(region storage.Region) (uint64, error) {
	last, err := tx.LastID(region)
	if err != nil {
		return 0, err
	}
	next := last + 1
	if err := tx.put(region, seqKey, []byte(strconv.FormatUint(next, 10))); err != nil {
		return 0, err
	}
	return next, nil
}

// LastID returns the highest ID allocated in a region, or zero.
func (tx *Tx) LastID(region storage.Region) (uint64, error) {
	raw, ok, err := tx.get(region, seqKey)
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s sequence: %w", region, err)
	}
	return v, nil
}

func idKey(id uint64) string {
	return fmt.Sprintf("id/%020d", id)
}

func userKey(userID uint32, id uint64) string {
	return fmt.Sprintf("%s%020d", userPrefix(userID), id)
}

func userPrefix(userID uint32) string {
	return fmt.Sprintf("user/%010d/", userID)
}

func parseTrailingID(key string) (uint64, error) {
	idx := strings.LastIndexByte(key, '/')
	return strconv.ParseUint(key[idx+1:], 10, 64)
}

func getRecord[T any](tx *Tx, region storage.Region, id uint64) (T, bool, error) {
	var out T
	raw, ok, err := tx.get(region, idKey(id))
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s %d: %w", region, id, err)
	}
	return out, true, nil
}

func putRecord(tx *Tx, region storage.Region, id uint64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", region, id, err)
	}
	return tx.put(region, idKey(id), raw)
}

func scanRecords[T any](tx *Tx, region storage.Region, fn func(T) (bool, error)) error {
	return tx.scan(region, "id/", func(key string, value []byte) (bool, error) {
		var rec T
		if err := json.Unmarshal(value, &rec); err != nil {
			return false, fmt.Errorf("decode %s %s: %w", region, key, err)
		}
		return fn(rec)
	})
}

// indexedIDs lists record IDs from an index prefix, newest first.
func indexedIDs(tx *Tx, region storage.Region, prefix string, limit int) ([]uint64, error) {
	var ids []uint64
	err := tx.scan(region, prefix, func(key string, _ []byte) (bool, error) {
		id, err := parseTrailingID(key)
		if err != nil {
			return false, fmt.Errorf("parse index key %s: %w", key, err)
		}
		ids = append(ids, id)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func listIndexed[T any](tx *Tx, region storage.Region, prefix string, limit int) ([]T, error) {
	ids, err := indexedIDs(tx, region, prefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := getRecord[T](tx, region, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
