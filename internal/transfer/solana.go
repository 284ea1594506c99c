package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"ammSettle/internal/model"
)

// DefaultSolanaMessageFormat is the canonical attestation message.
const DefaultSolanaMessageFormat = "{pay_token_address}:{from}:{to}:{amount}:{status}:{signature}:{ts}"

// signedFields must all appear in a message format so the proof binds every
// field Verify relies on.
var signedFields = []string{"{pay_token_address}", "{from}", "{to}", "{amount}", "{status}", "{signature}", "{ts}"}

// CheckMessageFormat rejects formats that leave a verified field unsigned.
func CheckMessageFormat(format string) error {
	var missing []string
	for _, field := range signedFields {
		if !strings.Contains(format, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("solana message format %q misses %s", format, strings.Join(missing, ", "))
	}
	return nil
}

// SolanaRPC defines the subset of the Solana RPC used for payouts.
type SolanaRPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaConfig configures the custody wallet and deposit attestation.
type SolanaConfig struct {
	Custody  solana.PrivateKey
	Attestor solana.PublicKey
	// MessageFormat is the template signed by the attestor.
	MessageFormat string
	// MaxAge rejects attestations older than this when positive.
	MaxAge     time.Duration
	Commitment rpc.CommitmentType
	Retry      RetryPolicy
	// ReceiptTimeout bounds the wait for a sent transaction to reach Commitment.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// SolanaAdapter verifies deposits against attested ingested transfers and pays
// out SPL tokens from the custody wallet.
type SolanaAdapter struct {
	rpc     SolanaRPC
	cache   TransferCache
	cfg     SolanaConfig
	custody solana.PublicKey
	log     *zap.Logger
	now     func() time.Time
}

func NewSolanaAdapter(client SolanaRPC, cache TransferCache, cfg SolanaConfig, logger *zap.Logger) (*SolanaAdapter, error) {
	if cache == nil {
		return nil, fmt.Errorf("transfer cache is nil")
	}
	if cfg.Custody == nil {
		return nil, fmt.Errorf("solana custody key required")
	}
	if cfg.Attestor.IsZero() {
		return nil, fmt.Errorf("solana attestor key required")
	}
	if cfg.MessageFormat == "" {
		cfg.MessageFormat = DefaultSolanaMessageFormat
	}
	if err := CheckMessageFormat(cfg.MessageFormat); err != nil {
		return nil, err
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentFinalized
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
	return &SolanaAdapter{
		rpc:     client,
		cache:   cache,
		cfg:     cfg,
		custody: cfg.Custody.PublicKey(),
		log:     logger,
		now:     time.Now,
	}, nil
}

// Custody returns the custody wallet address.
func (a *SolanaAdapter) Custody() solana.PublicKey {
	return a.custody
}

// CanonicalMessage renders the attested message for a record.
func CanonicalMessage(format string, rec IngestedTransfer) string {
	amount := "0"
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	return strings.NewReplacer(
		"{pay_token_address}", rec.Mint,
		"{amount}", amount,
		"{signature}", rec.Signature,
		"{ts}", strconv.FormatInt(rec.Timestamp, 10),
		"{from}", rec.From,
		"{to}", rec.To,
		"{status}", rec.Status,
	).Replace(format)
}

func (a *SolanaAdapter) checkProof(rec IngestedTransfer) error {
	proof, err := solana.SignatureFromBase58(rec.Proof)
	if err != nil {
		return fmt.Errorf("decode proof: %w", ErrBadSignature)
	}
	if !proof.Verify(a.cfg.Attestor, []byte(CanonicalMessage(a.cfg.MessageFormat, rec))) {
		return ErrBadSignature
	}
	return nil
}

// Ingest stores an attested transfer after checking its proof. A signature is
// stored once; later records for it are rejected with ErrTransferExists.
func (a *SolanaAdapter) Ingest(ctx context.Context, rec IngestedTransfer) error {
	if rec.Signature == "" || rec.Amount == nil || rec.Amount.Sign() <= 0 {
		return fmt.Errorf("incomplete ingested transfer")
	}
	if err := a.checkProof(rec); err != nil {
		return err
	}
	if err := a.cache.Put(ctx, rec); err != nil {
		return fmt.Errorf("store ingested transfer %s: %w", rec.Signature, err)
	}
	a.log.Debug("ingested solana transfer", zap.String("signature", rec.Signature), zap.String("mint", rec.Mint))
	return nil
}

func (a *SolanaAdapter) Verify(ctx context.Context, tok model.Token, ref, sender string, amount *big.Int) (model.TransferReceipt, error) {
	var (
		rec   IngestedTransfer
		found bool
	)
	err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		r, ok, err := a.cache.Get(ctx, ref)
		rec, found = r, ok
		return err
	})
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("lookup ingested transfer: %w", err)
	}
	if !found {
		return model.TransferReceipt{}, fmt.Errorf("signature %s: %w", ref, ErrTransferNotFound)
	}
	if err := a.checkProof(rec); err != nil {
		return model.TransferReceipt{}, err
	}
	if rec.Mint != tok.Address {
		return model.TransferReceipt{}, fmt.Errorf("signature %s is a %s transfer: %w", ref, rec.Mint, ErrTransferNotFound)
	}
	if rec.Status != IngestedConfirmed {
		return model.TransferReceipt{}, fmt.Errorf("signature %s status %q: %w", ref, rec.Status, ErrTransferNotFound)
	}
	if rec.To != a.custody.String() {
		return model.TransferReceipt{}, fmt.Errorf("signature %s not paid to custody: %w", ref, ErrTransferNotFound)
	}
	if _, err := solana.PublicKeyFromBase58(sender); err != nil {
		return model.TransferReceipt{}, fmt.Errorf("sender %q is not a solana address: %w", sender, ErrWrongSender)
	}
	if rec.From != sender {
		return model.TransferReceipt{}, fmt.Errorf("signature %s: %w", ref, ErrWrongSender)
	}
	if a.cfg.MaxAge > 0 && a.now().Sub(time.Unix(rec.Timestamp, 0)) > a.cfg.MaxAge {
		return model.TransferReceipt{}, fmt.Errorf("signature %s: %w", ref, ErrStaleTransfer)
	}
	if rec.Amount == nil || rec.Amount.Cmp(amount) < 0 {
		return model.TransferReceipt{}, fmt.Errorf("signature %s credited %v want %s: %w", ref, rec.Amount, amount, ErrAmountMismatch)
	}
	return model.TransferReceipt{Ref: rec.Signature, Amount: new(big.Int).Set(rec.Amount)}, nil
}

func (a *SolanaAdapter) Transfer(ctx context.Context, tok model.Token, amount *big.Int, destination string) (model.TransferReceipt, error) {
	recipient, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("%q: %w", destination, ErrInvalidDestination)
	}
	source, err := a.associated(a.custody, tok)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	return a.sendSPL(ctx, tok, amount, source, recipient)
}

// TransferFrom pulls from the owner's token account with the custody wallet as approved delegate.
func (a *SolanaAdapter) TransferFrom(ctx context.Context, tok model.Token, amount *big.Int, from string) (model.TransferReceipt, error) {
	owner, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("owner %q is not a solana address: %w", from, ErrWrongSender)
	}
	source, err := a.associated(owner, tok)
	if err != nil {
		return model.TransferReceipt{}, err
	}
	return a.sendSPL(ctx, tok, amount, source, a.custody)
}

func (a *SolanaAdapter) associated(wallet solana.PublicKey, tok model.Token) (solana.PublicKey, error) {
	mint, err := solana.PublicKeyFromBase58(tok.Address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid token mint address: %w", err)
	}
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

func (a *SolanaAdapter) sendSPL(ctx context.Context, tok model.Token, amount *big.Int, source, recipient solana.PublicKey) (model.TransferReceipt, error) {
	if a.rpc == nil {
		return model.TransferReceipt{}, fmt.Errorf("solana rpc not configured")
	}
	if amount == nil || amount.Sign() <= 0 || !amount.IsUint64() {
		return model.TransferReceipt{}, fmt.Errorf("amount %v out of SPL range", amount)
	}
	mint, err := solana.PublicKeyFromBase58(tok.Address)
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("invalid token mint address: %w", err)
	}
	dest, err := a.associated(recipient, tok)
	if err != nil {
		return model.TransferReceipt{}, err
	}

	var instructions []solana.Instruction
	exists, err := a.accountExists(ctx, dest)
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("failed to check destination account: %w", err)
	}
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(a.custody, recipient, mint).Build())
	}
	instructions = append(instructions, token.NewTransferInstruction(
		amount.Uint64(),
		source,
		dest,
		a.custody,
		[]solana.PublicKey{},
	).Build())

	var recent *rpc.GetLatestBlockhashResult
	if err := withRetry(ctx, a.cfg.Retry, func(ctx context.Context) error {
		r, err := a.rpc.GetLatestBlockhash(ctx, a.cfg.Commitment)
		recent = r
		return err
	}); err != nil {
		return model.TransferReceipt{}, fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(a.custody))
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(a.custody) {
			return &a.cfg.Custody
		}
		return nil
	})
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := a.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: a.cfg.Commitment})
	if err != nil {
		return model.TransferReceipt{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	if err := a.waitConfirmed(ctx, sig); err != nil {
		return model.TransferReceipt{}, err
	}
	return model.TransferReceipt{Ref: sig.String(), Amount: new(big.Int).Set(amount)}, nil
}

// waitConfirmed polls the signature status until it reaches the configured
// commitment. A transaction error is ErrTransferReverted; running out of time
// is ErrUnconfirmed.
func (a *SolanaAdapter) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReceiptTimeout)
	defer cancel()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, err := a.rpc.GetSignatureStatuses(ctx, true, sig)
		switch {
		case err != nil:
			a.log.Debug("poll signature status", zap.String("signature", sig.String()), zap.Error(err))
		case res != nil && len(res.Value) > 0 && res.Value[0] != nil:
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("signature %s: %v: %w", sig, status.Err, ErrTransferReverted)
			}
			if a.reached(status.ConfirmationStatus) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("signature %s not %s in %s: %w", sig, a.cfg.Commitment, a.cfg.ReceiptTimeout, ErrUnconfirmed)
		case <-ticker.C:
		}
	}
}

func (a *SolanaAdapter) reached(status rpc.ConfirmationStatusType) bool {
	switch a.cfg.Commitment {
	case rpc.CommitmentProcessed:
		return status != ""
	case rpc.CommitmentConfirmed:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	default:
		return status == rpc.ConfirmationStatusFinalized
	}
}

func (a *SolanaAdapter) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := a.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return info != nil && info.Value != nil, nil
}
