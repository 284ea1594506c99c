package model

import (
	"math/big"
	"time"
)

// User is created lazily on first interaction and referenced by ID elsewhere.
type User struct {
	ID           uint32    `json:"id"`
	Principal    string    `json:"principal"`
	ReferralCode string    `json:"referral_code,omitempty"`
	ReferredBy   uint32    `json:"referred_by,omitempty"`
	FeeLevel     uint8     `json:"fee_level"`
	Campaigns    []string  `json:"campaigns,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LPBalance is a user's holding of one pool share token.
type LPBalance struct {
	UserID  uint32   `json:"user_id"`
	TokenID uint32   `json:"token_id"`
	Amount  *big.Int `json:"amount"`
}
