package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IngestedTransfer is attested transfer metadata for a bridged-chain deposit.
type IngestedTransfer struct {
	Signature string   `json:"signature"`
	Mint      string   `json:"mint"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Amount    *big.Int `json:"amount"`
	Status    string   `json:"status"`
	Timestamp int64    `json:"ts"`
	// Proof is the attestor's base58 ed25519 signature over the canonical message.
	Proof string `json:"proof"`
}

const IngestedConfirmed = "confirmed"

var ErrTransferExists = errors.New("transfer: signature already ingested")

// TransferCache stores ingested transfers by chain signature.
type TransferCache interface {
	Get(ctx context.Context, signature string) (IngestedTransfer, bool, error)
	// Put stores rec unless its signature is already present, in which case
	// it returns ErrTransferExists.
	Put(ctx context.Context, rec IngestedTransfer) error
}

// MemoryTransferCache keeps ingested transfers in process memory.
type MemoryTransferCache struct {
	mu   sync.RWMutex
	data map[string]IngestedTransfer
}

func NewMemoryTransferCache() *MemoryTransferCache {
	return &MemoryTransferCache{data: make(map[string]IngestedTransfer)}
}

func (c *MemoryTransferCache) Get(_ context.Context, signature string) (IngestedTransfer, bool, error) {
	c.mu.RLock()
	rec, ok := c.data[signature]
	c.mu.RUnlock()
	return rec, ok, nil
}

func (c *MemoryTransferCache) Put(_ context.Context, rec IngestedTransfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[rec.Signature]; ok {
		return ErrTransferExists
	}
	c.data[rec.Signature] = rec
	return nil
}

// RedisTransferCache shares ingested transfers between settlement nodes.
type RedisTransferCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTransferCache(addr, password string, db int, ttl time.Duration) *RedisTransferCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisTransferCache{client: client, ttl: ttl}
}

func redisTransferKey(signature string) string {
	return fmt.Sprintf("settle:sol:transfer:%s", signature)
}

func (c *RedisTransferCache) Get(ctx context.Context, signature string) (IngestedTransfer, bool, error) {
	data, err := c.client.Get(ctx, redisTransferKey(signature)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return IngestedTransfer{}, false, nil
		}
		return IngestedTransfer{}, false, err
	}
	var rec IngestedTransfer
	if err := json.Unmarshal(data, &rec); err != nil {
		return IngestedTransfer{}, false, fmt.Errorf("failed to unmarshal ingested transfer: %w", err)
	}
	return rec, true, nil
}

func (c *RedisTransferCache) Put(ctx context.Context, rec IngestedTransfer) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ingested transfer: %w", err)
	}
	stored, err := c.client.SetNX(ctx, redisTransferKey(rec.Signature), data, c.ttl).Result()
	if err != nil {
		return err
	}
	if !stored {
		return ErrTransferExists
	}
	return nil
}

func (c *RedisTransferCache) Close() error {
	return c.client.Close()
}
