package transfer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"ammSettle/internal/chain"
	"ammSettle/internal/model"
)

type fakeEVM struct {
	receipts    map[common.Hash]*types.Receipt
	head        *big.Int
	sent        []*types.Transaction
	estimateErr error
	// mined returns the receipt of a sent transaction; nil leaves it pending.
	mined func(tx *types.Transaction) *types.Receipt
}

func (f *fakeEVM) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeEVM) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: f.head}, nil
}

func (f *fakeEVM) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeEVM) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeEVM) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50_000, nil
}

func (f *fakeEVM) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(100)}
	if f.mined != nil {
		receipt = f.mined(tx)
	}
	if receipt != nil {
		f.receipts[tx.Hash()] = receipt
	}
	return nil
}

var (
	evmToken = model.Token{
		ID:       1,
		Chain:    model.ChainEVM,
		Address:  "0x00000000000000000000000000000000000000aa",
		Symbol:   "USDC",
		Decimals: 6,
		Features: model.TokenFeatures{TransferRef: true, TransferFrom: true},
	}
	payer = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func transferLog(token, from, to common.Address, value int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{chain.TransferEventTopic, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func newEVMFixture(t *testing.T) (*EVMAdapter, *fakeEVM) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	client := &fakeEVM{receipts: make(map[common.Hash]*types.Receipt), head: big.NewInt(110)}
	adapter, err := NewEVMAdapter(client, EVMConfig{
		Key:            key,
		ChainID:        big.NewInt(1),
		Confirmations:  3,
		ReceiptTimeout: 50 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter, client
}

func TestEVMVerify(t *testing.T) {
	adapter, client := newEVMFixture(t)
	tokenAddr := common.HexToAddress(evmToken.Address)
	hash := common.HexToHash("0x01")
	client.receipts[hash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        []*types.Log{transferLog(tokenAddr, payer, adapter.Custody(), 600), transferLog(tokenAddr, payer, adapter.Custody(), 400)},
	}

	receipt, err := adapter.Verify(context.Background(), evmToken, hash.Hex(), payer.Hex(), big.NewInt(1000))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if receipt.Amount.Int64() != 1000 {
		t.Fatalf("credited %s", receipt.Amount)
	}

	if _, err := adapter.Verify(context.Background(), evmToken, hash.Hex(), payer.Hex(), big.NewInt(1001)); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	other := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	if _, err := adapter.Verify(context.Background(), evmToken, hash.Hex(), other.Hex(), big.NewInt(1)); !errors.Is(err, ErrWrongSender) {
		t.Fatalf("expected ErrWrongSender, got %v", err)
	}

	missing := common.HexToHash("0x02")
	if _, err := adapter.Verify(context.Background(), evmToken, missing.Hex(), payer.Hex(), big.NewInt(1)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestEVMVerifyRequiresAddressSender(t *testing.T) {
	adapter, client := newEVMFixture(t)
	hash := common.HexToHash("0x05")
	client.receipts[hash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs:        []*types.Log{transferLog(common.HexToAddress(evmToken.Address), payer, adapter.Custody(), 1000)},
	}
	for _, sender := range []string{"mallory", ""} {
		if _, err := adapter.Verify(context.Background(), evmToken, hash.Hex(), sender, big.NewInt(1000)); !errors.Is(err, ErrWrongSender) {
			t.Fatalf("sender %q: expected ErrWrongSender, got %v", sender, err)
		}
	}
}

func TestEVMVerifyRejectsRevertedAndUnconfirmed(t *testing.T) {
	adapter, client := newEVMFixture(t)
	tokenAddr := common.HexToAddress(evmToken.Address)

	reverted := common.HexToHash("0x03")
	client.receipts[reverted] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}
	if _, err := adapter.Verify(context.Background(), evmToken, reverted.Hex(), payer.Hex(), big.NewInt(1)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected reverted tx rejected, got %v", err)
	}

	fresh := common.HexToHash("0x04")
	client.receipts[fresh] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(109),
		Logs:        []*types.Log{transferLog(tokenAddr, payer, adapter.Custody(), 5)},
	}
	if _, err := adapter.Verify(context.Background(), evmToken, fresh.Hex(), payer.Hex(), big.NewInt(5)); err == nil {
		t.Fatalf("expected insufficient confirmations")
	}
}

func TestEVMTransferSignsERC20Call(t *testing.T) {
	adapter, client := newEVMFixture(t)
	dest := "0x00000000000000000000000000000000000000d0"

	receipt, err := adapter.Transfer(context.Background(), evmToken, big.NewInt(42), dest)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one sent tx, got %d", len(client.sent))
	}
	tx := client.sent[0]
	if receipt.Ref != strings.ToLower(tx.Hash().Hex()) {
		t.Fatalf("receipt ref %s does not match tx %s", receipt.Ref, tx.Hash().Hex())
	}
	if *tx.To() != common.HexToAddress(evmToken.Address) {
		t.Fatalf("tx sent to %s", tx.To().Hex())
	}
	parsed, err := chain.ERC20ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	if string(tx.Data()[:4]) != string(parsed.Methods["transfer"].ID) {
		t.Fatalf("unexpected selector %x", tx.Data()[:4])
	}
	if tx.Gas() != 60_000 {
		t.Fatalf("expected padded gas estimate, got %d", tx.Gas())
	}
	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1)), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != adapter.Custody() {
		t.Fatalf("signed by %s", sender.Hex())
	}

	if _, err := adapter.Transfer(context.Background(), evmToken, big.NewInt(1), "not-an-address"); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := adapter.Transfer(context.Background(), evmToken, tooLarge, dest); err == nil {
		t.Fatalf("expected uint256 overflow error")
	}
}

func TestEVMTransferFailsWhenReverted(t *testing.T) {
	adapter, client := newEVMFixture(t)
	dest := "0x00000000000000000000000000000000000000d0"

	client.mined = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}
	}
	if _, err := adapter.Transfer(context.Background(), evmToken, big.NewInt(42), dest); !errors.Is(err, ErrTransferReverted) {
		t.Fatalf("expected ErrTransferReverted, got %v", err)
	}

	client.mined = func(*types.Transaction) *types.Receipt { return nil }
	if _, err := adapter.Transfer(context.Background(), evmToken, big.NewInt(42), dest); !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed, got %v", err)
	}
}

func TestEVMPullCountsOnlyConfirmedCredit(t *testing.T) {
	ctx := context.Background()
	adapter, client := newEVMFixture(t)
	tokenAddr := common.HexToAddress(evmToken.Address)

	client.estimateErr = errors.New("execution reverted: ERC20: insufficient allowance")
	if _, err := adapter.TransferFrom(ctx, evmToken, big.NewInt(1000), payer.Hex()); err == nil {
		t.Fatalf("expected estimation revert to fail the pull")
	}
	if len(client.sent) != 0 {
		t.Fatalf("reverting pull was broadcast")
	}
	client.estimateErr = nil

	client.mined = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}
	}
	if _, err := adapter.TransferFrom(ctx, evmToken, big.NewInt(1000), payer.Hex()); !errors.Is(err, ErrTransferReverted) {
		t.Fatalf("expected ErrTransferReverted, got %v", err)
	}

	client.mined = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog(tokenAddr, payer, adapter.Custody(), 400)},
		}
	}
	if _, err := adapter.TransferFrom(ctx, evmToken, big.NewInt(1000), payer.Hex()); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected short pull rejected, got %v", err)
	}

	client.mined = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			Logs:        []*types.Log{transferLog(tokenAddr, payer, adapter.Custody(), 1000)},
		}
	}
	receipt, err := adapter.TransferFrom(ctx, evmToken, big.NewInt(1000), payer.Hex())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	last := client.sent[len(client.sent)-1]
	if receipt.Ref != strings.ToLower(last.Hash().Hex()) || receipt.Amount.Int64() != 1000 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	if _, err := adapter.TransferFrom(ctx, evmToken, big.NewInt(1), "mallory"); !errors.Is(err, ErrWrongSender) {
		t.Fatalf("expected ErrWrongSender, got %v", err)
	}
}

type fakeSolana struct {
	sent   int
	status *rpc.SignatureStatusesResult
}

func (f *fakeSolana) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1}}}, nil
}

func (f *fakeSolana) GetAccountInfo(context.Context, solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{}}, nil
}

func (f *fakeSolana) SendTransactionWithOpts(_ context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.sent++
	return tx.Signatures[0], nil
}

func (f *fakeSolana) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.status}}, nil
}

func newSolanaFixture(t *testing.T) (*SolanaAdapter, solana.PrivateKey, model.Token) {
	t.Helper()
	custody, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("custody key: %v", err)
	}
	attestor, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("attestor key: %v", err)
	}
	mint, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("mint key: %v", err)
	}
	adapter, err := NewSolanaAdapter(&fakeSolana{}, NewMemoryTransferCache(), SolanaConfig{
		Custody:        custody,
		Attestor:       attestor.PublicKey(),
		MaxAge:         time.Hour,
		ReceiptTimeout: 50 * time.Millisecond,
		PollInterval:   time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	adapter.now = func() time.Time { return time.Unix(10_000, 0) }
	tok := model.Token{ID: 2, Chain: model.ChainSolana, Address: mint.PublicKey().String(), Symbol: "SOLX", Decimals: 9,
		Features: model.TokenFeatures{TransferRef: true}}
	return adapter, attestor, tok
}

func signedRecord(t *testing.T, adapter *SolanaAdapter, attestor solana.PrivateKey, rec IngestedTransfer) IngestedTransfer {
	t.Helper()
	sig, err := attestor.Sign([]byte(CanonicalMessage(adapter.cfg.MessageFormat, rec)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec.Proof = sig.String()
	return rec
}

func solanaWallet(t *testing.T) string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("wallet key: %v", err)
	}
	return key.PublicKey().String()
}

func TestSolanaIngestAndVerify(t *testing.T) {
	ctx := context.Background()
	adapter, attestor, tok := newSolanaFixture(t)
	sender := solanaWallet(t)

	rec := signedRecord(t, adapter, attestor, IngestedTransfer{
		Signature: "5sig",
		Mint:      tok.Address,
		From:      sender,
		To:        adapter.Custody().String(),
		Amount:    big.NewInt(900),
		Status:    IngestedConfirmed,
		Timestamp: 9_000,
	})
	if err := adapter.Ingest(ctx, rec); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	receipt, err := adapter.Verify(ctx, tok, "5sig", sender, big.NewInt(900))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if receipt.Ref != "5sig" || receipt.Amount.Int64() != 900 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	if _, err := adapter.Verify(ctx, tok, "5sig", sender, big.NewInt(901)); !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if _, err := adapter.Verify(ctx, tok, "missing", sender, big.NewInt(1)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
	for _, other := range []string{"mallory", "", solanaWallet(t)} {
		if _, err := adapter.Verify(ctx, tok, "5sig", other, big.NewInt(900)); !errors.Is(err, ErrWrongSender) {
			t.Fatalf("sender %q: expected ErrWrongSender, got %v", other, err)
		}
	}

	if err := adapter.Ingest(ctx, rec); !errors.Is(err, ErrTransferExists) {
		t.Fatalf("expected ErrTransferExists on re-ingest, got %v", err)
	}

	adapter.now = func() time.Time { return time.Unix(9_000, 0).Add(2 * time.Hour) }
	if _, err := adapter.Verify(ctx, tok, "5sig", sender, big.NewInt(1)); !errors.Is(err, ErrStaleTransfer) {
		t.Fatalf("expected ErrStaleTransfer, got %v", err)
	}
}

func TestSolanaProofCoversSenderRecipientAndStatus(t *testing.T) {
	ctx := context.Background()
	adapter, attestor, tok := newSolanaFixture(t)
	mallory := solanaWallet(t)

	attested := signedRecord(t, adapter, attestor, IngestedTransfer{
		Signature: "7sig",
		Mint:      tok.Address,
		From:      solanaWallet(t),
		To:        solanaWallet(t),
		Amount:    big.NewInt(900),
		Status:    "failed",
		Timestamp: 9_000,
	})
	tampered := attested
	tampered.From = mallory
	tampered.To = adapter.Custody().String()
	tampered.Status = IngestedConfirmed
	if err := adapter.Ingest(ctx, tampered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := adapter.Verify(ctx, tok, "7sig", mallory, big.NewInt(900)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected tampered record absent, got %v", err)
	}

	if err := adapter.Ingest(ctx, attested); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := adapter.Verify(ctx, tok, "7sig", attested.From, big.NewInt(900)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected failed transfer rejected, got %v", err)
	}
}

func TestSolanaMessageFormatMustSignAllFields(t *testing.T) {
	custody, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("custody key: %v", err)
	}
	_, err = NewSolanaAdapter(nil, NewMemoryTransferCache(), SolanaConfig{
		Custody:       custody,
		Attestor:      custody.PublicKey(),
		MessageFormat: "{pay_token_address}:{amount}:{signature}:{ts}",
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "{from}") {
		t.Fatalf("expected format without sender rejected, got %v", err)
	}
	if err := CheckMessageFormat(DefaultSolanaMessageFormat); err != nil {
		t.Fatalf("default format: %v", err)
	}
}

func TestSolanaPayoutWaitsForStatus(t *testing.T) {
	ctx := context.Background()
	adapter, _, tok := newSolanaFixture(t)
	client := adapter.rpc.(*fakeSolana)
	dest := solanaWallet(t)

	client.status = &rpc.SignatureStatusesResult{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}
	if _, err := adapter.Transfer(ctx, tok, big.NewInt(5), dest); !errors.Is(err, ErrTransferReverted) {
		t.Fatalf("expected ErrTransferReverted, got %v", err)
	}

	client.status = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}
	if _, err := adapter.Transfer(ctx, tok, big.NewInt(5), dest); !errors.Is(err, ErrUnconfirmed) {
		t.Fatalf("expected ErrUnconfirmed below finalized, got %v", err)
	}

	client.status = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}
	receipt, err := adapter.Transfer(ctx, tok, big.NewInt(5), dest)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if receipt.Ref == "" || receipt.Amount.Int64() != 5 || client.sent != 3 {
		t.Fatalf("unexpected receipt %+v after %d sends", receipt, client.sent)
	}

	if _, err := adapter.TransferFrom(ctx, tok, big.NewInt(5), "mallory"); !errors.Is(err, ErrWrongSender) {
		t.Fatalf("expected ErrWrongSender, got %v", err)
	}
}

func TestSolanaRejectsForgedProof(t *testing.T) {
	ctx := context.Background()
	adapter, attestor, tok := newSolanaFixture(t)

	rec := signedRecord(t, adapter, attestor, IngestedTransfer{
		Signature: "6sig",
		Mint:      tok.Address,
		To:        adapter.Custody().String(),
		Amount:    big.NewInt(10),
		Status:    IngestedConfirmed,
		Timestamp: 9_500,
	})
	rec.Amount = big.NewInt(10_000)
	if err := adapter.Ingest(ctx, rec); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature on ingest, got %v", err)
	}

	// A tampered record written straight into the shared cache is still rejected.
	if err := adapter.cache.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := adapter.Verify(ctx, tok, "6sig", solanaWallet(t), big.NewInt(10)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature on verify, got %v", err)
	}
}

func TestVerifierRouting(t *testing.T) {
	ctx := context.Background()
	v := NewVerifier(nil)

	if _, err := v.VerifyInbound(ctx, evmToken, "0xabc", "", big.NewInt(1)); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}

	var verified string
	v.Register(model.ChainEVM, FuncAdapter{
		VerifyFunc: func(_ context.Context, _ model.Token, ref, _ string, amount *big.Int) (model.TransferReceipt, error) {
			verified = ref
			return model.TransferReceipt{Amount: amount}, nil
		},
	})
	receipt, err := v.VerifyInbound(ctx, evmToken, " 0xabc ", "", big.NewInt(1))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified != "0xabc" || receipt.Ref != "0xabc" {
		t.Fatalf("reference not normalized: %q %q", verified, receipt.Ref)
	}

	if _, err := v.VerifyInbound(ctx, evmToken, "", "", big.NewInt(1)); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected empty ref rejected, got %v", err)
	}

	noPull := evmToken
	noPull.Features.TransferFrom = false
	if _, err := v.PullAllowance(ctx, noPull, big.NewInt(1), payer.Hex()); !errors.Is(err, ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}

	if _, err := v.SendOutbound(ctx, evmToken, big.NewInt(1), " "); !errors.Is(err, ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestWithRetry(t *testing.T) {
	var calls int
	err := withRetry(context.Background(), RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 calls, got %d %v", calls, err)
	}

	calls = 0
	err = withRetry(context.Background(), RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}, func(context.Context) error {
		calls++
		return permanent(ErrTransferNotFound)
	})
	if !errors.Is(err, ErrTransferNotFound) || calls != 1 {
		t.Fatalf("permanent error retried: %d %v", calls, err)
	}
}
