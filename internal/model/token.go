package model

import (
	"math/big"
	"strings"
	"time"
)

// Chain identifies the asset family a token settles on.
type Chain string

const (
	ChainEVM    Chain = "EVM"
	ChainSolana Chain = "SOL"
	// ChainLP marks pool share tokens that only exist inside the ledger.
	ChainLP Chain = "LP"
)

// TokenFeatures lists the transfer protocols a token supports.
type TokenFeatures struct {
	// TransferRef means deposits can be proven with an external transfer reference.
	TransferRef bool `json:"transfer_ref"`
	// TransferFrom means deposits can be pulled from a pre-approved allowance.
	TransferFrom bool `json:"transfer_from"`
}

// Token is a registered asset. Only Removed changes after creation.
type Token struct {
	ID        uint32        `json:"id"`
	Chain     Chain         `json:"chain"`
	Address   string        `json:"address"`
	Symbol    string        `json:"symbol"`
	Name      string        `json:"name,omitempty"`
	Decimals  uint8         `json:"decimals"`
	Fee       *big.Int      `json:"fee"`
	Features  TokenFeatures `json:"features"`
	PoolID    uint32        `json:"pool_id,omitempty"`
	Removed   bool          `json:"removed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Identity is the chain-qualified address used as the token's unique key.
func (t Token) Identity() string {
	return TokenIdentity(t.Chain, t.Address)
}

// IsLP reports whether the token is a pool share token.
func (t Token) IsLP() bool {
	return t.Chain == ChainLP
}

// TransferFee returns the per-transfer fee, never nil.
func (t Token) TransferFee() *big.Int {
	if t.Fee == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(t.Fee)
}

// TokenIdentity builds the unique "CHAIN.address" key. EVM addresses are case-insensitive.
func TokenIdentity(chain Chain, address string) string {
	address = strings.TrimSpace(address)
	if chain == ChainEVM {
		address = strings.ToLower(address)
	}
	return string(chain) + "." + address
}

// TokenMeta captures ERC20 metadata read from chain.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}
