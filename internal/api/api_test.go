package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"ammSettle/internal/claims"
	"ammSettle/internal/ledger"
	"ammSettle/internal/metrics"
	"ammSettle/internal/model"
	"ammSettle/internal/settle"
	"ammSettle/internal/storage"
	"ammSettle/internal/transfer"
)

const (
	idA = "EVM.0x00000000000000000000000000000000000000a1"
	idB = "EVM.0x00000000000000000000000000000000000000b2"
)

type switchKV struct {
	*storage.MemoryKV
	broken atomic.Bool
}

func (k *switchKV) Apply(ctx context.Context, writes []storage.Write) error {
	if k.broken.Load() {
		return errors.New("disk full")
	}
	return k.MemoryKV.Apply(ctx, writes)
}

type fixture struct {
	srv    *httptest.Server
	engine *settle.Engine
	kv     *switchKV

	mu       sync.Mutex
	failSend map[string]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{kv: &switchKV{MemoryKV: storage.NewMemoryKV()}, failSend: make(map[string]bool)}
	l := ledger.New(f.kv, nil)
	verifier := transfer.NewVerifier(nil)
	verifier.Register(model.ChainEVM, transfer.FuncAdapter{
		VerifyFunc: func(_ context.Context, _ model.Token, ref, _ string, amount *big.Int) (model.TransferReceipt, error) {
			if strings.HasPrefix(ref, "bad") {
				return model.TransferReceipt{}, fmt.Errorf("%s: %w", ref, transfer.ErrTransferNotFound)
			}
			return model.TransferReceipt{Ref: ref, Amount: new(big.Int).Set(amount)}, nil
		},
		TransferFunc: func(_ context.Context, _ model.Token, amount *big.Int, dest string) (model.TransferReceipt, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failSend[dest] {
				return model.TransferReceipt{}, errors.New("destination unavailable")
			}
			return model.TransferReceipt{Ref: "0xout-" + dest, Amount: new(big.Int).Set(amount)}, nil
		},
	})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clock := func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	f.engine = settle.NewEngine(l, verifier, settle.DefaultConfig(), nil, settle.WithMetrics(m), settle.WithClock(clock))
	claimsSvc := claims.NewService(l, verifier, claims.DefaultMaxRetries, nil, claims.WithMetrics(m), claims.WithClock(clock))
	s := NewServer(f.engine, claimsSvc, nil, WithGatherer(reg), WithAdmins("ops"))
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) setFail(dest string, fail bool) {
	f.mu.Lock()
	f.failSend[dest] = fail
	f.mu.Unlock()
}

func (f *fixture) do(t *testing.T, method, path, principal string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if principal != "" {
		req.Header.Set(CallerHeader, principal)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// seed registers the two test tokens and a pool owned by "lp".
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	six, twelve := uint8(6), uint8(12)
	code := f.do(t, http.MethodPost, "/v1/tokens", "ops", settle.AddTokenArgs{
		Chain: model.ChainEVM, Address: strings.TrimPrefix(idA, "EVM."), Symbol: "AAA", Decimals: &six,
		Features: model.TokenFeatures{TransferRef: true},
	}, nil)
	require.Equal(t, http.StatusCreated, code)
	code = f.do(t, http.MethodPost, "/v1/tokens", "ops", settle.AddTokenArgs{
		Chain: model.ChainEVM, Address: strings.TrimPrefix(idB, "EVM."), Symbol: "BBB", Decimals: &twelve,
		Fee: big.NewInt(1000), Features: model.TokenFeatures{TransferRef: true},
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var reply model.Reply
	code = f.do(t, http.MethodPost, "/v1/pools", "lp", model.AddPoolArgs{
		Token0: idA, Amount0: big.NewInt(1_000_000), TxRef0: "seed-a",
		Token1: idB, Amount1: big.NewInt(1_000_000_000_000), TxRef1: "seed-b",
	}, &reply)
	require.Equal(t, http.StatusOK, code)
	require.True(t, reply.Succeeded())
}

func TestCallerHeaderRequired(t *testing.T) {
	f := newFixture(t)
	var body errorResponse
	code := f.do(t, http.MethodPost, "/v1/swap", "", model.SwapArgs{}, &body)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Contains(t, body.Error, CallerHeader)
}

func TestAddTokenIsOperatorOnly(t *testing.T) {
	f := newFixture(t)
	six := uint8(6)
	code := f.do(t, http.MethodPost, "/v1/tokens", "alice", settle.AddTokenArgs{
		Chain: model.ChainEVM, Address: "0x01", Symbol: "X", Decimals: &six,
		Features: model.TokenFeatures{TransferRef: true},
	}, nil)
	require.Equal(t, http.StatusForbidden, code)

	var body errorResponse
	code = f.do(t, http.MethodPost, "/v1/tokens", "ops", settle.AddTokenArgs{Chain: "BTC", Address: "x"}, &body)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestQuoteSwapAndQueries(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var pools []model.Pool
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/pools", "", nil, &pools))
	require.Len(t, pools, 1)

	var positions []lpPosition
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/me/lp", "lp", nil, &positions))
	require.Len(t, positions, 1)
	require.Equal(t, "100000000", positions[0].Amount.String())
	require.Equal(t, "1000000", positions[0].Amount0.String())
	require.Equal(t, pools[0].ID, positions[0].PoolID)

	var quote model.SwapDetail
	code := f.do(t, http.MethodGet, "/v1/quote?pay="+idA+"&receive="+idB+"&amount=1000", "", nil, &quote)
	require.Equal(t, http.StatusOK, code)

	var reply model.Reply
	code = f.do(t, http.MethodPost, "/v1/swap", "alice", model.SwapArgs{
		PayToken: idA, PayAmount: big.NewInt(1000), PayTxRef: "pay-1", ReceiveToken: idB,
	}, &reply)
	require.Equal(t, http.StatusOK, code)
	require.True(t, reply.Succeeded())
	require.Equal(t, quote.ReceiveAmount.String(), reply.Swap.ReceiveAmount.String())

	var req model.Request
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", reply.RequestID), "alice", nil, &req))
	require.Equal(t, model.KindSwap, req.Kind())
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", reply.RequestID), "bob", nil, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", reply.RequestID), "ops", nil, nil))

	var txs []model.Transaction
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/me/transactions", "alice", nil, &txs))
	require.Len(t, txs, 1)

	var none []model.Request
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/me/requests", "nobody", nil, &none))
	require.Empty(t, none)
}

func TestFailedSwapReturnsReply(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var reply model.Reply
	code := f.do(t, http.MethodPost, "/v1/swap", "alice", model.SwapArgs{
		PayToken: idA, PayAmount: big.NewInt(1000), PayTxRef: "bad-ref", ReceiveToken: idB,
	}, &reply)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, model.ReplyFailed, reply.Status)
	require.NotZero(t, reply.RequestID)

	code = f.do(t, http.MethodPost, "/v1/swap", "alice", model.SwapArgs{
		PayToken: idA, PayAmount: big.NewInt(1000), PayTxRef: "pay-x", ReceiveToken: "EVM.0xmissing",
	}, &reply)
	require.Equal(t, http.StatusNotFound, code)
}

func TestAsyncSwap(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	var accepted asyncResponse
	code := f.do(t, http.MethodPost, "/v1/swap/async", "alice", model.SwapArgs{
		PayToken: idA, PayAmount: big.NewInt(1000), PayTxRef: "pay-async", ReceiveToken: idB,
	}, &accepted)
	require.Equal(t, http.StatusAccepted, code)
	require.NotZero(t, accepted.RequestID)
	f.engine.Wait()

	var req model.Request
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, fmt.Sprintf("/v1/requests/%d", accepted.RequestID), "alice", nil, &req))
	require.True(t, req.Reply.Succeeded())
}

func TestClaimEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.setFail("0xfail", true)

	var reply model.Reply
	code := f.do(t, http.MethodPost, "/v1/swap", "alice", model.SwapArgs{
		PayToken: idA, PayAmount: big.NewInt(1000), PayTxRef: "pay-claim", ReceiveToken: idB, ReceiveAddress: "0xfail",
	}, &reply)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, reply.ClaimIDs, 1)
	claimID := reply.ClaimIDs[0]

	var list []model.Claim
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/me/claims", "alice", nil, &list))
	require.Len(t, list, 1)
	require.Equal(t, model.ClaimPending, list[0].Status)

	path := fmt.Sprintf("/v1/claims/%d/process", claimID)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, path, "bob", nil, nil))

	var claim model.Claim
	require.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, path, "alice", nil, &claim))
	require.Equal(t, model.ClaimFailed, claim.Status)

	var entries []model.RecoveryEntry
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/recovery", "ops", nil, &entries))
	require.Len(t, entries, 1)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/recovery", "alice", nil, nil))

	f.setFail("0xfail", false)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, fmt.Sprintf("/v1/claims/%d/retry", claimID), "alice", nil, &claim))
	require.Equal(t, model.ClaimProcessed, claim.Status)

	var res claims.BatchResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/claims/batch", "alice", batchRequest{IDs: []uint64{claimID}}, &res))
	require.Len(t, res.Outcomes, 1)
	require.NotEmpty(t, res.Outcomes[0].Error)
}

func TestStorageFailureIsContained(t *testing.T) {
	f := newFixture(t)
	f.kv.broken.Store(true)
	six := uint8(6)
	var body errorResponse
	code := f.do(t, http.MethodPost, "/v1/tokens", "ops", settle.AddTokenArgs{
		Chain: model.ChainEVM, Address: "0x01", Symbol: "X", Decimals: &six,
		Features: model.TokenFeatures{TransferRef: true},
	}, &body)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "storage failure", body.Error)

	f.kv.broken.Store(false)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	resp, err := f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "settle_requests_total")
}

type recordingIngestor struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *recordingIngestor) Ingest(_ context.Context, rec transfer.IngestedTransfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[rec.Signature] {
		return fmt.Errorf("store ingested transfer %s: %w", rec.Signature, transfer.ErrTransferExists)
	}
	r.seen[rec.Signature] = true
	return nil
}

func TestIngestIsOperatorOnly(t *testing.T) {
	f := newFixture(t)
	ingestor := &recordingIngestor{seen: make(map[string]bool)}
	l := f.engine.Ledger()
	s := NewServer(f.engine, claims.NewService(l, transfer.NewVerifier(nil), 0, nil), nil,
		WithAdmins("attestor"), WithIngestor(ingestor))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	f.srv = srv

	rec := transfer.IngestedTransfer{Signature: "5sig", Mint: "mint", Amount: big.NewInt(900), Status: transfer.IngestedConfirmed}
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/v1/ingest/solana", "", rec, nil))
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/ingest/solana", "mallory", rec, nil))
	require.Empty(t, ingestor.seen)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/ingest/solana", "attestor", rec, nil))
	var errResp errorResponse
	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/ingest/solana", "attestor", rec, &errResp))
	require.Contains(t, errResp.Error, "already ingested")
}
