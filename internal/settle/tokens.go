package settle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"ammSettle/internal/ledger"
	"ammSettle/internal/model"
	"ammSettle/internal/numeric"
)

// TokenMetaFetcher reads token metadata from the token's chain.
type TokenMetaFetcher interface {
	TokenMeta(ctx context.Context, address string) (model.TokenMeta, error)
}

// AddTokenArgs registers an external token. Zero-valued metadata is read from
// the chain when a metadata source is configured.
type AddTokenArgs struct {
	Chain    model.Chain         `json:"chain"`
	Address  string              `json:"address"`
	Symbol   string              `json:"symbol,omitempty"`
	Name     string              `json:"name,omitempty"`
	Decimals *uint8              `json:"decimals,omitempty"`
	Fee      *big.Int            `json:"fee,omitempty"`
	Features model.TokenFeatures `json:"features"`
}

// AddToken registers a token. It is an operator action and creates no request.
func (e *Engine) AddToken(ctx context.Context, args AddTokenArgs) (model.Token, error) {
	args.Address = strings.TrimSpace(args.Address)
	switch args.Chain {
	case model.ChainEVM, model.ChainSolana:
	default:
		return model.Token{}, fmt.Errorf("chain %q: %w", args.Chain, ErrInvalidArgs)
	}
	if args.Address == "" {
		return model.Token{}, fmt.Errorf("token address required: %w", ErrInvalidArgs)
	}
	if args.Fee != nil && args.Fee.Sign() < 0 {
		return model.Token{}, fmt.Errorf("negative transfer fee: %w", ErrInvalidArgs)
	}

	token := model.Token{
		Chain:     args.Chain,
		Address:   args.Address,
		Symbol:    strings.TrimSpace(args.Symbol),
		Name:      strings.TrimSpace(args.Name),
		Fee:       numeric.Clone(args.Fee),
		Features:  args.Features,
		CreatedAt: e.now(),
	}
	if args.Decimals != nil {
		token.Decimals = *args.Decimals
	}
	if args.Chain == model.ChainEVM && e.meta != nil && (args.Decimals == nil || token.Symbol == "") {
		// Metadata is read before entering the ledger.
		meta, err := e.meta.TokenMeta(ctx, args.Address)
		if err != nil {
			return model.Token{}, fmt.Errorf("fetch %s metadata: %w", args.Address, err)
		}
		if args.Decimals == nil {
			token.Decimals = meta.Decimals
		}
		if token.Symbol == "" {
			token.Symbol = meta.Symbol
		}
		if token.Name == "" {
			token.Name = meta.Name
		}
	} else if args.Decimals == nil {
		return model.Token{}, fmt.Errorf("token decimals required: %w", ErrInvalidArgs)
	}
	if token.Symbol == "" {
		return model.Token{}, fmt.Errorf("token symbol required: %w", ErrInvalidArgs)
	}
	if !numeric.ValidDecimals(token.Decimals) {
		return model.Token{}, fmt.Errorf("decimals %d out of range: %w", token.Decimals, ErrInvalidArgs)
	}
	if !token.Features.TransferRef && !token.Features.TransferFrom {
		return model.Token{}, fmt.Errorf("token supports no deposit protocol: %w", ErrInvalidArgs)
	}

	err := e.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		token, err = tx.InsertToken(token)
		return err
	})
	if err != nil {
		return model.Token{}, fmt.Errorf("add token %s: %w", token.Identity(), err)
	}
	e.log.Info("token added",
		zap.Uint32("token_id", token.ID),
		zap.String("identity", token.Identity()),
		zap.String("symbol", token.Symbol),
		zap.Uint8("decimals", token.Decimals))
	return token, nil
}
