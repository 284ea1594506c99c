package model

import (
	"math/big"
	"time"
)

// Direction is the sign of a money movement relative to the pool custody account.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transfer is an immutable accounting entry for one external movement.
type Transfer struct {
	ID        uint64    `json:"id"`
	RequestID uint64    `json:"request_id"`
	TokenID   uint32    `json:"token_id"`
	Direction Direction `json:"direction"`
	Amount    *big.Int  `json:"amount"`
	Ref       string    `json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

// TransferReceipt is what an asset ledger returns for a completed transfer.
type TransferReceipt struct {
	Ref    string   `json:"ref"`
	Amount *big.Int `json:"amount"`
}
