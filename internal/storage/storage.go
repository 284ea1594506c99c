package storage

import (
	"context"
	"errors"
	"fmt"
)

// Region identifies one durable ledger map. The numbers are part of the
// persisted layout and must never be reused for a different map.
type Region uint8

const (
	RegionTokens       Region = 1
	RegionPools        Region = 2
	RegionRequests     Region = 3
	RegionTransfers    Region = 4
	RegionTransactions Region = 5
	RegionClaims       Region = 6
	RegionUsers        Region = 7
	RegionLPBalances   Region = 8
	RegionRecovery     Region = 9
	RegionJobs         Region = 10
)

var regionNames = map[Region]string{
	RegionTokens:       "tokens",
	RegionPools:        "pools",
	RegionRequests:     "requests",
	RegionTransfers:    "transfers",
	RegionTransactions: "transactions",
	RegionClaims:       "claims",
	RegionUsers:        "users",
	RegionLPBalances:   "lp_balances",
	RegionRecovery:     "recovery",
	RegionJobs:         "jobs",
}

func (r Region) String() string {
	if name, ok := regionNames[r]; ok {
		return name
	}
	return fmt.Sprintf("region_%d", uint8(r))
}

// ErrClosed is returned by a backend after Close.
var ErrClosed = errors.New("storage: closed")

// Write is one buffered mutation. Delete ignores Value.
type Write struct {
	Region Region
	Key    string
	Value  []byte
	Delete bool
}

// KV is the durable key-value contract the ledger is built on.
type KV interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, region Region, key string) ([]byte, bool, error)
	// Scan visits keys with the prefix in ascending order until fn returns false.
	Scan(ctx context.Context, region Region, prefix string, fn func(key string, value []byte) (bool, error)) error
	// Apply commits all writes atomically.
	Apply(ctx context.Context, writes []Write) error
	Close() error
}
