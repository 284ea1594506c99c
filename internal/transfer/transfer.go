package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	"ammSettle/internal/model"
)

var (
	ErrTransferNotFound    = errors.New("transfer: not found")
	ErrAmountMismatch      = errors.New("transfer: amount below expected")
	ErrWrongSender         = errors.New("transfer: sender mismatch")
	ErrBadSignature        = errors.New("transfer: signature mismatch")
	ErrStaleTransfer       = errors.New("transfer: attestation expired")
	ErrUnsupportedChain    = errors.New("transfer: no adapter for chain")
	ErrUnsupportedProtocol = errors.New("transfer: protocol not supported by token")
	ErrInvalidDestination  = errors.New("transfer: invalid destination")
	ErrTransferReverted    = errors.New("transfer: transaction failed on chain")
	ErrUnconfirmed         = errors.New("transfer: outcome not confirmed")
)

// Adapter talks to one asset family's ledger.
type Adapter interface {
	// Verify confirms that ref credited at least amount to the custody account.
	Verify(ctx context.Context, token model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error)
	// Transfer pays amount from custody to destination.
	Transfer(ctx context.Context, token model.Token, amount *big.Int, destination string) (model.TransferReceipt, error)
	// TransferFrom pulls amount from a pre-approved allowance of from into custody.
	TransferFrom(ctx context.Context, token model.Token, amount *big.Int, from string) (model.TransferReceipt, error)
}

// Verifier routes transfer calls to the adapter of the token's chain.
type Verifier struct {
	log *zap.Logger

	mu       sync.RWMutex
	adapters map[model.Chain]Adapter
}

func NewVerifier(logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{log: logger, adapters: make(map[model.Chain]Adapter)}
}

// Register installs the adapter for a chain, replacing any previous one.
func (v *Verifier) Register(chain model.Chain, adapter Adapter) {
	v.mu.Lock()
	v.adapters[chain] = adapter
	v.mu.Unlock()
}

func (v *Verifier) adapter(token model.Token) (Adapter, error) {
	v.mu.RLock()
	a, ok := v.adapters[token.Chain]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", token.Chain, ErrUnsupportedChain)
	}
	return a, nil
}

// VerifyInbound confirms an inbound transfer identified by its external reference.
func (v *Verifier) VerifyInbound(ctx context.Context, token model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.TransferReceipt{}, fmt.Errorf("empty transfer reference: %w", ErrTransferNotFound)
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.TransferReceipt{}, fmt.Errorf("amount must be positive")
	}
	if !token.Features.TransferRef {
		return model.TransferReceipt{}, fmt.Errorf("%s transfer reference: %w", token.Symbol, ErrUnsupportedProtocol)
	}
	a, err := v.adapter(token)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	receipt, err := a.Verify(ctx, token, ref, sender, amount)
	if err != nil {
		v.log.Debug("inbound verification failed",
			zap.String("token", token.Identity()),
			zap.String("ref", ref),
			zap.Error(err),
		)
		return model.TransferReceipt{}, err
	}
	if receipt.Ref == "" {
		receipt.Ref = ref
	}
	return receipt, nil
}

// PullAllowance collects a deposit through the approve-then-pull pattern.
func (v *Verifier) PullAllowance(ctx context.Context, token model.Token, amount *big.Int, from string) (model.TransferReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return model.TransferReceipt{}, fmt.Errorf("amount must be positive")
	}
	if !token.Features.TransferFrom {
		return model.TransferReceipt{}, fmt.Errorf("%s transfer_from: %w", token.Symbol, ErrUnsupportedProtocol)
	}
	a, err := v.adapter(token)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	return a.TransferFrom(ctx, token, amount, from)
}

// SendOutbound pays amount of token to destination.
func (v *Verifier) SendOutbound(ctx context.Context, token model.Token, amount *big.Int, destination string) (model.TransferReceipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return model.TransferReceipt{}, fmt.Errorf("amount must be positive")
	}
	if strings.TrimSpace(destination) == "" {
		return model.TransferReceipt{}, ErrInvalidDestination
	}
	a, err := v.adapter(token)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	receipt, err := a.Transfer(ctx, token, amount, destination)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	if receipt.Amount == nil {
		receipt.Amount = new(big.Int).Set(amount)
	}
	return receipt, nil
}

// FuncAdapter adapts callback functions to the Adapter interface.
type FuncAdapter struct {
	VerifyFunc       func(ctx context.Context, token model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error)
	TransferFunc     func(ctx context.Context, token model.Token, amount *big.Int, destination string) (model.TransferReceipt, error)
	TransferFromFunc func(ctx context.Context, token model.Token, amount *big.Int, from string) (model.TransferReceipt, error)
}

// Verify delegates to the configured callback.
func (f FuncAdapter) Verify(ctx context.Context, token model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error) {
	if f.VerifyFunc == nil {
		return model.TransferReceipt{Ref: ref, Amount: new(big.Int).Set(amount)}, nil
	}
	return f.VerifyFunc(ctx, token, ref, sender, amount)
}

// Transfer delegates to the configured callback.
func (f FuncAdapter) Transfer(ctx context.Context, token model.Token, amount *big.Int, destination string) (model.TransferReceipt, error) {
	if f.TransferFunc == nil {
		return model.TransferReceipt{Ref: "out-" + destination, Amount: new(big.Int).Set(amount)}, nil
	}
	return f.TransferFunc(ctx, token, amount, destination)
}

// TransferFrom delegates to the configured callback.
func (f FuncAdapter) TransferFrom(ctx context.Context, token model.Token, amount *big.Int, from string) (model.TransferReceipt, error) {
	if f.TransferFromFunc == nil {
		return model.TransferReceipt{Ref: "pull-" + from, Amount: new(big.Int).Set(amount)}, nil
	}
	return f.TransferFromFunc(ctx, token, amount, from)
}
