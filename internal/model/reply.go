package model

import (
	"math/big"
	"time"
)

// ReplyStatus is the terminal outcome of a request.
type ReplyStatus string

const (
	ReplySuccess ReplyStatus = "Success"
	ReplyFailed  ReplyStatus = "Failed"
)

// SwapHop is one pool leg of a swap.
type SwapHop struct {
	PoolID        uint32   `json:"pool_id"`
	PayToken      uint32   `json:"pay_token"`
	PayAmount     *big.Int `json:"pay_amount"`
	ReceiveToken  uint32   `json:"receive_token"`
	ReceiveAmount *big.Int `json:"receive_amount"`
	LPFee         *big.Int `json:"lp_fee"`
	ProtocolFee   *big.Int `json:"protocol_fee"`
	GasFee        *big.Int `json:"gas_fee"`
	Price         string   `json:"price"`
}

// SwapDetail describes a settled (or attempted) swap.
type SwapDetail struct {
	PayToken      uint32    `json:"pay_token"`
	PayAmount     *big.Int  `json:"pay_amount"`
	ReceiveToken  uint32    `json:"receive_token"`
	ReceiveAmount *big.Int  `json:"receive_amount"`
	MidPrice      string    `json:"mid_price"`
	Price         string    `json:"price"`
	Slippage      float64   `json:"slippage"`
	Hops          []SwapHop `json:"hops"`
}

// LiquidityDetail describes a pool deposit or withdrawal.
type LiquidityDetail struct {
	PoolID   uint32   `json:"pool_id"`
	Token0   uint32   `json:"token_0"`
	Amount0  *big.Int `json:"amount_0"`
	LPFee0   *big.Int `json:"lp_fee_0,omitempty"`
	Token1   uint32   `json:"token_1"`
	Amount1  *big.Int `json:"amount_1"`
	LPFee1   *big.Int `json:"lp_fee_1,omitempty"`
	LPToken  uint32   `json:"lp_token"`
	LPAmount *big.Int `json:"lp_amount"`
}

// SendDetail describes an LP token transfer between users.
type SendDetail struct {
	Token    uint32   `json:"token"`
	Amount   *big.Int `json:"amount"`
	ToUserID uint32   `json:"to_user_id"`
}

// ClaimDetail describes a claim payout attempt.
type ClaimDetail struct {
	ClaimID uint64   `json:"claim_id"`
	Token   uint32   `json:"token"`
	Amount  *big.Int `json:"amount"`
	TxRef   string   `json:"tx_ref,omitempty"`
}

// Reply is the terminal result stored on a request. Kind selects the detail field.
type Reply struct {
	Kind        RequestKind      `json:"kind"`
	Status      ReplyStatus      `json:"status"`
	Error       string           `json:"error,omitempty"`
	RequestID   uint64           `json:"request_id"`
	TxID        uint64           `json:"tx_id,omitempty"`
	TransferIDs []uint64         `json:"transfer_ids,omitempty"`
	ClaimIDs    []uint64         `json:"claim_ids,omitempty"`
	Swap        *SwapDetail      `json:"swap,omitempty"`
	Liquidity   *LiquidityDetail `json:"liquidity,omitempty"`
	Send        *SendDetail      `json:"send,omitempty"`
	Claim       *ClaimDetail     `json:"claim,omitempty"`
	Timestamp   time.Time        `json:"ts"`
}

// Succeeded reports whether the reply is a success.
func (r *Reply) Succeeded() bool {
	return r != nil && r.Status == ReplySuccess
}
