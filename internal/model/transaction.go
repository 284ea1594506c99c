package model

import "time"

// Transaction is the finalized economic event of a settlement attempt.
type Transaction struct {
	ID          uint64           `json:"id"`
	RequestID   uint64           `json:"request_id"`
	UserID      uint32           `json:"user_id"`
	Kind        RequestKind      `json:"kind"`
	Status      ReplyStatus      `json:"status"`
	Error       string           `json:"error,omitempty"`
	PoolIDs     []uint32         `json:"pool_ids,omitempty"`
	Swap        *SwapDetail      `json:"swap,omitempty"`
	Liquidity   *LiquidityDetail `json:"liquidity,omitempty"`
	Send        *SendDetail      `json:"send,omitempty"`
	TransferIDs []uint64         `json:"transfer_ids,omitempty"`
	ClaimIDs    []uint64         `json:"claim_ids,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
