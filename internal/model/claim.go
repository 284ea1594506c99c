package model

import (
	"math/big"
	"time"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus uint8

const (
	ClaimPending ClaimStatus = iota
	ClaimClaiming
	ClaimProcessed
	ClaimFailed
)

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimClaiming, ClaimProcessed, ClaimFailed:
		return true
	default:
		return false
	}
}

func (s ClaimStatus) String() string {
	switch s {
	case ClaimPending:
		return "pending"
	case ClaimClaiming:
		return "claiming"
	case ClaimProcessed:
		return "processed"
	case ClaimFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Claim is a durable IOU created when an owed outbound payment could not be made.
type Claim struct {
	ID          uint64      `json:"id"`
	UserID      uint32      `json:"user_id"`
	TokenID     uint32      `json:"token_id"`
	Amount      *big.Int    `json:"amount"`
	RequestID   uint64      `json:"request_id"`
	Destination string      `json:"destination"`
	Status      ClaimStatus `json:"status"`
	RetryCount  uint8       `json:"retry_count"`
	LastError   string      `json:"last_error,omitempty"`
	TxRef       string      `json:"tx_ref,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Clone deep copies the claim.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	out := *c
	out.Amount = cloneInt(c.Amount)
	return &out
}

// RecoveryEntry is the operator-visible record of a failed claim payout.
type RecoveryEntry struct {
	ID        uint64    `json:"id"`
	ClaimID   uint64    `json:"claim_id"`
	UserID    uint32    `json:"user_id"`
	TokenID   uint32    `json:"token_id"`
	Amount    *big.Int  `json:"amount"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
