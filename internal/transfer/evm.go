package transfer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"ammSettle/internal/chain"
	"ammSettle/internal/model"
)

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

// EVMClient defines the subset of the Ethereum RPC used by the adapter.
type EVMClient interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EVMConfig configures the custody account on an EVM chain.
type EVMConfig struct {
	Key           *ecdsa.PrivateKey
	ChainID       *big.Int
	Confirmations uint64
	// GasLimit overrides estimation when set.
	GasLimit uint64
	Retry    RetryPolicy
	// ReceiptTimeout bounds the wait for a sent transaction to be mined and confirmed.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// EVMAdapter verifies ERC-20 deposits from receipts and pays out from custody.
type EVMAdapter struct {
	client  EVMClient
	cfg     EVMConfig
	custody common.Address
	log     *zap.Logger

	// nonces are allocated one send at a time
	sendMu sync.Mutex
}

// ParseECDSAKey parses a hex private key with or without 0x.
func ParseECDSAKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func NewEVMAdapter(client EVMClient, cfg EVMConfig, logger *zap.Logger) (*EVMAdapter, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client is nil")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("evm custody key required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("evm chain id required")
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMAdapter{
		client:  client,
		cfg:     cfg,
		custody: crypto.PubkeyToAddress(cfg.Key.PublicKey),
		log:     logger,
	}, nil
}

// Custody returns the pool custody address.
func (a *EVMAdapter) Custody() common.Address {
	return a.custody
}

func (a *EVMAdapter) Verify(ctx context.Context, token model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error) {
	if !common.IsHexAddress(token.Address) {
		return model.TransferReceipt{}, fmt.Errorf("invalid token address %q", token.Address)
	}
	if !common.IsHexAddress(sender) {
		return model.TransferReceipt{}, fmt.Errorf("sender %q is not an evm address: %w", sender, ErrWrongSender)
	}
	if len(strings.TrimPrefix(ref, "0x")) != 2*common.HashLength {
		return model.TransferReceipt{}, fmt.Errorf("malformed tx hash %q: %w", ref, ErrTransferNotFound)
	}
	hash := common.HexToHash(ref)

	var receipt *types.Receipt
	err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		r, err := a.client.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return permanent(fmt.Errorf("tx %s: %w", hash.Hex(), ErrTransferNotFound))
			}
			return fmt.Errorf("fetch receipt: %w", err)
		}
		receipt = r
		return nil
	})
	if err != nil {
		return model.TransferReceipt{}, err
	}
	if receipt == nil {
		return model.TransferReceipt{}, fmt.Errorf("tx %s receipt missing: %w", hash.Hex(), ErrTransferNotFound)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.TransferReceipt{}, fmt.Errorf("tx %s reverted: %w", hash.Hex(), ErrTransferNotFound)
	}
	if err := a.checkConfirmations(ctx, receipt); err != nil {
		return model.TransferReceipt{}, err
	}
	return a.credit(hash, receipt, common.HexToAddress(token.Address), common.HexToAddress(sender), amount)
}

// credit sums the token's Transfer logs from sender to custody in receipt and
// requires at least amount.
func (a *EVMAdapter) credit(hash common.Hash, receipt *types.Receipt, tokenAddr, from common.Address, amount *big.Int) (model.TransferReceipt, error) {
	credited := new(uint256.Int)
	var matched, foreign bool
	for _, log := range receipt.Logs {
		if log == nil || log.Address != tokenAddr || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != chain.TransferEventTopic {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != a.custody {
			continue
		}
		if common.BytesToAddress(log.Topics[1].Bytes()) != from {
			foreign = true
			continue
		}
		if len(log.Data) != 32 {
			continue
		}
		value := new(uint256.Int).SetBytes(log.Data)
		if _, overflow := credited.AddOverflow(credited, value); overflow {
			return model.TransferReceipt{}, fmt.Errorf("tx %s credited amount overflows", hash.Hex())
		}
		matched = true
	}
	if !matched {
		if foreign {
			return model.TransferReceipt{}, fmt.Errorf("tx %s: %w", hash.Hex(), ErrWrongSender)
		}
		return model.TransferReceipt{}, fmt.Errorf("no transfer to custody in %s: %w", hash.Hex(), ErrTransferNotFound)
	}

	got := credited.ToBig()
	if got.Cmp(amount) < 0 {
		return model.TransferReceipt{}, fmt.Errorf("tx %s credited %s want %s: %w", hash.Hex(), got, amount, ErrAmountMismatch)
	}
	return model.TransferReceipt{Ref: strings.ToLower(hash.Hex()), Amount: got}, nil
}

func (a *EVMAdapter) checkConfirmations(ctx context.Context, receipt *types.Receipt) error {
	if a.cfg.Confirmations == 0 {
		return nil
	}
	var header *types.Header
	err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		h, err := a.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("fetch head: %w", err)
		}
		header = h
		return nil
	})
	if err != nil {
		return err
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return fmt.Errorf("transaction block ahead of head")
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	if confirmed.Cmp(new(big.Int).SetUint64(a.cfg.Confirmations)) < 0 {
		return fmt.Errorf("insufficient confirmations: have %s want %d: %w", confirmed, a.cfg.Confirmations, ErrTransferNotFound)
	}
	return nil
}

// waitMined polls until the transaction is mined with enough confirmations. A
// failed receipt is ErrTransferReverted; running out of time is ErrUnconfirmed
// because the transaction may still be mined later.
func (a *EVMAdapter) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("tx %s: %w", hash.Hex(), ErrTransferReverted)
			}
			cerr := a.checkConfirmations(ctx, receipt)
			if cerr == nil {
				return receipt, nil
			}
			a.log.Debug("waiting for confirmations", zap.String("tx", hash.Hex()), zap.Error(cerr))
		case err != nil && !errors.Is(err, ethereum.NotFound):
			a.log.Debug("poll receipt", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tx %s not confirmed in %s: %w", hash.Hex(), a.cfg.ReceiptTimeout, ErrUnconfirmed)
		case <-ticker.C:
		}
	}
}

func (a *EVMAdapter) Transfer(ctx context.Context, token model.Token, amount *big.Int, destination string) (model.TransferReceipt, error) {
	if !common.IsHexAddress(destination) {
		return model.TransferReceipt{}, fmt.Errorf("%q: %w", destination, ErrInvalidDestination)
	}
	parsed, err := chain.ERC20ABI()
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	value, err := toUint256(amount)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	data, err := parsed.Pack("transfer", common.HexToAddress(destination), value.ToBig())
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("pack transfer: %w", err)
	}
	hash, err := a.send(ctx, token, data)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	if _, err := a.waitMined(ctx, hash); err != nil {
		return model.TransferReceipt{}, err
	}
	return model.TransferReceipt{Ref: strings.ToLower(hash.Hex()), Amount: new(big.Int).Set(amount)}, nil
}

// TransferFrom pulls an approved allowance into custody. The pull counts only
// once its receipt shows the Transfer from owner to custody. When it is not
// confirmed in time the owner can resubmit its hash as a transfer reference.
func (a *EVMAdapter) TransferFrom(ctx context.Context, token model.Token, amount *big.Int, from string) (model.TransferReceipt, error) {
	if !common.IsHexAddress(from) {
		return model.TransferReceipt{}, fmt.Errorf("owner %q is not an evm address: %w", from, ErrWrongSender)
	}
	parsed, err := chain.ERC20ABI()
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	value, err := toUint256(amount)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	owner := common.HexToAddress(from)
	data, err := parsed.Pack("transferFrom", owner, a.custody, value.ToBig())
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("pack transferFrom: %w", err)
	}
	hash, err := a.send(ctx, token, data)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	receipt, err := a.waitMined(ctx, hash)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	return a.credit(hash, receipt, common.HexToAddress(token.Address), owner, amount)
}

// send signs and broadcasts a call to the token contract and returns its hash.
func (a *EVMAdapter) send(ctx context.Context, token model.Token, data []byte) (common.Hash, error) {
	if !common.IsHexAddress(token.Address) {
		return common.Hash{}, fmt.Errorf("invalid token address %q", token.Address)
	}
	tokenAddr := common.HexToAddress(token.Address)

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	var nonce uint64
	if err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		n, err := a.client.PendingNonceAt(ctx, a.custody)
		nonce = n
		return err
	}); err != nil {
		return common.Hash{}, fmt.Errorf("get nonce: %w", err)
	}

	var gasPrice *big.Int
	if err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		p, err := a.client.SuggestGasPrice(ctx)
		gasPrice = p
		return err
	}); err != nil {
		return common.Hash{}, fmt.Errorf("get gas price: %w", err)
	}

	gasLimit := a.cfg.GasLimit
	if gasLimit == 0 {
		estimated, err := a.client.EstimateGas(ctx, ethereum.CallMsg{From: a.custody, To: &tokenAddr, Data: data})
		if err != nil {
			// A revert in simulation means the call would fail on chain.
			return common.Hash{}, fmt.Errorf("estimate gas for %s: %w", token.Identity(), err)
		}
		gasLimit = estimated * 120 / 100
	}

	tx := types.NewTransaction(nonce, tokenAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.cfg.ChainID), a.cfg.Key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("amount %s exceeds uint256", amount)
	}
	return value, nil
}
