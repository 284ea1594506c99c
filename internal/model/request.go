package model

import (
	"math/big"
	"time"
)

// RequestKind names the operation family of a request.
type RequestKind string

const (
	KindAddPool         RequestKind = "add_pool"
	KindAddLiquidity    RequestKind = "add_liquidity"
	KindRemoveLiquidity RequestKind = "remove_liquidity"
	KindSwap            RequestKind = "swap"
	KindSend            RequestKind = "send"
	KindClaim           RequestKind = "claim"
)

// AddPoolArgs creates a pool from two initial deposits.
type AddPoolArgs struct {
	Token0   string   `json:"token_0"`
	Amount0  *big.Int `json:"amount_0"`
	TxRef0   string   `json:"tx_ref_0,omitempty"`
	Token1   string   `json:"token_1"`
	Amount1  *big.Int `json:"amount_1"`
	TxRef1   string   `json:"tx_ref_1,omitempty"`
	LPFeeBPS *uint16  `json:"lp_fee_bps,omitempty"`
}

// AddLiquidityArgs deposits both sides of an existing pool.
type AddLiquidityArgs struct {
	Token0  string   `json:"token_0"`
	Amount0 *big.Int `json:"amount_0"`
	TxRef0  string   `json:"tx_ref_0,omitempty"`
	Token1  string   `json:"token_1"`
	Amount1 *big.Int `json:"amount_1"`
	TxRef1  string   `json:"tx_ref_1,omitempty"`
}

// RemoveLiquidityArgs burns LP tokens for a proportional share of reserves.
type RemoveLiquidityArgs struct {
	Token0          string   `json:"token_0"`
	Token1          string   `json:"token_1"`
	RemoveLPAmount  *big.Int `json:"remove_lp_token_amount"`
	ReceiveAddress0 string   `json:"receive_address_0,omitempty"`
	ReceiveAddress1 string   `json:"receive_address_1,omitempty"`
}

// SwapArgs exchanges PayToken for ReceiveToken, directly or through a hub pool.
type SwapArgs struct {
	PayToken       string   `json:"pay_token"`
	PayAmount      *big.Int `json:"pay_amount"`
	PayTxRef       string   `json:"pay_tx_ref,omitempty"`
	ReceiveToken   string   `json:"receive_token"`
	ReceiveAmount  *big.Int `json:"receive_amount,omitempty"`
	ReceiveAddress string   `json:"receive_address,omitempty"`
	MaxSlippage    *float64 `json:"max_slippage,omitempty"`
	ReferredBy     string   `json:"referred_by,omitempty"`
}

// SendArgs moves LP tokens between users inside the ledger.
type SendArgs struct {
	Token       string   `json:"token"`
	Amount      *big.Int `json:"amount"`
	ToPrincipal string   `json:"to_principal"`
}

// ClaimArgs pays out (or retries) a claim.
type ClaimArgs struct {
	ClaimID uint64 `json:"claim_id"`
	Retry   bool   `json:"retry,omitempty"`
}

// RequestArgs is a tagged union: exactly one field is set.
type RequestArgs struct {
	AddPool         *AddPoolArgs         `json:"add_pool,omitempty"`
	AddLiquidity    *AddLiquidityArgs    `json:"add_liquidity,omitempty"`
	RemoveLiquidity *RemoveLiquidityArgs `json:"remove_liquidity,omitempty"`
	Swap            *SwapArgs            `json:"swap,omitempty"`
	Send            *SendArgs            `json:"send,omitempty"`
	Claim           *ClaimArgs           `json:"claim,omitempty"`
}

// Kind returns the variant held by the union.
func (a RequestArgs) Kind() RequestKind {
	switch {
	case a.AddPool != nil:
		return KindAddPool
	case a.AddLiquidity != nil:
		return KindAddLiquidity
	case a.RemoveLiquidity != nil:
		return KindRemoveLiquidity
	case a.Swap != nil:
		return KindSwap
	case a.Send != nil:
		return KindSend
	case a.Claim != nil:
		return KindClaim
	default:
		return ""
	}
}

// Request is the audit record of one user-initiated operation.
type Request struct {
	ID        uint64        `json:"id"`
	UserID    uint32        `json:"user_id"`
	Args      RequestArgs   `json:"args"`
	Statuses  []StatusEntry `json:"statuses"`
	Reply     *Reply        `json:"reply,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Kind returns the request's operation family.
func (r Request) Kind() RequestKind {
	return r.Args.Kind()
}

// Terminal reports whether the reply has been set.
func (r Request) Terminal() bool {
	return r.Reply != nil
}

// LastStatus returns the most recent checkpoint.
func (r Request) LastStatus() (StatusEntry, bool) {
	if len(r.Statuses) == 0 {
		return StatusEntry{}, false
	}
	return r.Statuses[len(r.Statuses)-1], true
}
