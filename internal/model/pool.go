package model

import (
	"math/big"
	"time"
)

// Pool is a constant product pair. Token0 < Token1 by ID.
type Pool struct {
	ID             uint32    `json:"id"`
	Token0         uint32    `json:"token_0"`
	Token1         uint32    `json:"token_1"`
	Balance0       *big.Int  `json:"balance_0"`
	Balance1       *big.Int  `json:"balance_1"`
	LPFee0         *big.Int  `json:"lp_fee_0"`
	LPFee1         *big.Int  `json:"lp_fee_1"`
	ProtocolFee0   *big.Int  `json:"protocol_fee_0"`
	ProtocolFee1   *big.Int  `json:"protocol_fee_1"`
	LPFeeBPS       uint16    `json:"lp_fee_bps"`
	ProtocolFeeBPS uint16    `json:"protocol_fee_bps"`
	LPToken        uint32    `json:"lp_token"`
	LPTotalSupply  *big.Int  `json:"lp_total_supply"`
	Stats          PoolStats `json:"stats"`
	Removed        bool      `json:"removed"`
	CreatedAt      time.Time `json:"created_at"`
}

// PoolStats holds the rolling 24h figures refreshed by the stats job.
type PoolStats struct {
	Volume0   *big.Int  `json:"volume_0,omitempty"`
	Volume1   *big.Int  `json:"volume_1,omitempty"`
	Fees0     *big.Int  `json:"fees_0,omitempty"`
	Fees1     *big.Int  `json:"fees_1,omitempty"`
	SwapCount uint64    `json:"swap_count"`
	APY       float64   `json:"apy"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Reserve0 is balance_0 plus the unswept LP fees on side 0.
func (p Pool) Reserve0() *big.Int {
	return addNil(p.Balance0, p.LPFee0)
}

// Reserve1 is balance_1 plus the unswept LP fees on side 1.
func (p Pool) Reserve1() *big.Int {
	return addNil(p.Balance1, p.LPFee1)
}

// Has reports whether token is one side of the pool.
func (p Pool) Has(token uint32) bool {
	return p.Token0 == token || p.Token1 == token
}

// Other returns the opposite side of token.
func (p Pool) Other(token uint32) uint32 {
	if p.Token0 == token {
		return p.Token1
	}
	return p.Token0
}

// Clone deep copies the pool amounts.
func (p Pool) Clone() Pool {
	out := p
	out.Balance0 = cloneInt(p.Balance0)
	out.Balance1 = cloneInt(p.Balance1)
	out.LPFee0 = cloneInt(p.LPFee0)
	out.LPFee1 = cloneInt(p.LPFee1)
	out.ProtocolFee0 = cloneInt(p.ProtocolFee0)
	out.ProtocolFee1 = cloneInt(p.ProtocolFee1)
	out.LPTotalSupply = cloneInt(p.LPTotalSupply)
	out.Stats.Volume0 = cloneInt(p.Stats.Volume0)
	out.Stats.Volume1 = cloneInt(p.Stats.Volume1)
	out.Stats.Fees0 = cloneInt(p.Stats.Fees0)
	out.Stats.Fees1 = cloneInt(p.Stats.Fees1)
	return out
}

// OrderPair returns the two token IDs in pool order.
func OrderPair(a, b uint32) (uint32, uint32) {
	if a < b {
		return a, b
	}
	return b, a
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func addNil(a, b *big.Int) *big.Int {
	return new(big.Int).Add(cloneInt(a), cloneInt(b))
}
