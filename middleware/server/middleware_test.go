package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/replay"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// funcFacilitator lets a test decide each verification outcome
type funcFacilitator func(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error)

func (f funcFacilitator) Verify(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error) {
	return f(ctx, auth, req)
}

func (f funcFacilitator) Supported(context.Context) (*types.SupportedResponse, error) {
	return &types.SupportedResponse{}, nil
}

type gateFixture struct {
	gate    *X402Middleware
	store   *replay.MemoryStore
	handler http.Handler
	calls   *atomic.Int32
	acct    *account.Account
}

func askPrice(t *testing.T) *PriceTag {
	t.Helper()
	tag, err := NewPriceTagBuilder().
		Amount(30000).
		PayTo("BOT_ADDR").
		Network(types.NetworkTestnet).
		FacilitatorURL("http://facilitator.local").
		Description("AI Query").
		Build()
	require.NoError(t, err)
	return tag
}

func newFixture(t *testing.T, fac facilitator.Facilitator, opts ...Option) *gateFixture {
	t.Helper()

	store := replay.NewMemoryStore(time.Hour)
	t.Cleanup(store.Stop)

	acct, err := account.Generate(types.NetworkTestnet)
	require.NoError(t, err)

	calls := &atomic.Int32{}
	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		receipt, ok := ReceiptFromContext(r.Context())
		if !assert.True(t, ok) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"answer": "42", "payer": receipt.Payer})
	})

	gate := NewX402Middleware(fac, store, opts...)
	return &gateFixture{
		gate:    gate,
		store:   store,
		handler: gate.Protect(protected, askPrice(t)),
		calls:   calls,
		acct:    acct,
	}
}

func newLocalFixture(t *testing.T, opts ...Option) *gateFixture {
	t.Helper()
	fac, err := facilitator.NewLocalFacilitator(types.NetworkTestnet)
	require.NoError(t, err)
	return newFixture(t, fac, opts...)
}

func (f *gateFixture) do(t *testing.T, proof string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ai-query", bytes.NewBufferString(`{"question":"q"}`))
	if proof != "" {
		req.Header.Set(types.HeaderPayment, proof)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// challenge performs an unpaid request and returns the issued requirement
func (f *gateFixture) challenge(t *testing.T) *types.PaymentRequirement {
	t.Helper()
	rec := f.do(t, "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	req, err := types.DecodeRequirement(rec.Body.Bytes())
	require.NoError(t, err)
	return req
}

// pay signs an authorization for req, optionally with a different amount
func (f *gateFixture) pay(t *testing.T, req *types.PaymentRequirement, amount uint64) string {
	t.Helper()
	signed := *req
	signed.Amount = amount
	auth, err := account.SignAuthorization(f.acct, &signed)
	require.NoError(t, err)
	proof, err := types.EncodeAuthorization(auth)
	require.NoError(t, err)
	return proof
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var body types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProtect_UnpaidGetsChallenge(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	f := newLocalFixture(t,
		WithClock(func() time.Time { return now }),
		WithNonceSource(func() (string, error) { return "0xfeed", nil }),
	)

	rec := f.do(t, "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(30000), body["amount"])
	assert.Equal(t, "BOT_ADDR", body["payTo"])
	assert.Equal(t, "testnet", body["network"])
	assert.Equal(t, "http://facilitator.local", body["facilitatorUrl"])
	assert.Equal(t, "AI Query", body["description"])
	assert.Equal(t, "0xfeed", body["nonce"])
	assert.Equal(t, now.Add(DefaultTTL).Format(time.RFC3339), body["expiresAt"])
	assert.Equal(t, int32(0), f.calls.Load())

	_, err := f.store.Lookup(context.Background(), "0xfeed")
	assert.NoError(t, err)
}

func TestProtect_FreshNoncePerChallenge(t *testing.T) {
	f := newLocalFixture(t)

	a := f.challenge(t)
	b := f.challenge(t)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.Len(t, a.Nonce, 66)
	assert.True(t, a.ExpiresAt.After(time.Now()))
}

func TestProtect_PaidRequestSucceeds(t *testing.T) {
	f := newLocalFixture(t)
	req := f.challenge(t)

	rec := f.do(t, f.pay(t, req, 30000))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int32(1), f.calls.Load())

	receipt, err := types.DecodeReceipt(rec.Header().Get(types.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.Transaction)
	assert.Equal(t, f.acct.Address(), receipt.Payer)
	assert.Equal(t, types.NetworkTestnet, receipt.Network)
	assert.True(t, receipt.Verified)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, f.acct.Address(), body["payer"])
}

func TestProtect_ReplayGetsChallenge(t *testing.T) {
	f := newLocalFixture(t)
	req := f.challenge(t)
	proof := f.pay(t, req, 30000)

	require.Equal(t, http.StatusOK, f.do(t, proof).Code)

	rec := f.do(t, proof)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Empty(t, rec.Header().Get(types.HeaderPaymentResponse))
	assert.Equal(t, int32(1), f.calls.Load())

	// a replay is indistinguishable from an unpaid request: a fresh challenge
	fresh, err := types.DecodeRequirement(rec.Body.Bytes())
	require.NoError(t, err)
	assert.NotEqual(t, req.Nonce, fresh.Nonce)
}

func TestProtect_InsufficientAmountKeepsNonce(t *testing.T) {
	f := newLocalFixture(t)
	req := f.challenge(t)

	rec := f.do(t, f.pay(t, req, 10000))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.ReasonInsufficientAmount, decodeErrorBody(t, rec).Reason)
	assert.Equal(t, int32(0), f.calls.Load())

	// the nonce was not consumed: a correct payment still goes through
	rec = f.do(t, f.pay(t, req, 30000))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtect_AmountBoundary(t *testing.T) {
	f := newLocalFixture(t)

	req := f.challenge(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, f.pay(t, req, 29999)).Code)
	assert.Equal(t, http.StatusOK, f.do(t, f.pay(t, req, 30000)).Code)
}

func TestProtect_ExpiredChallenge(t *testing.T) {
	// issued long enough ago to be expired, but still inside the store's grace window
	issuedAt := time.Now().Add(-7 * time.Minute)
	f := newLocalFixture(t, WithClock(func() time.Time { return issuedAt }))
	req := f.challenge(t)

	rec := f.do(t, f.pay(t, req, 30000))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.ReasonExpired, decodeErrorBody(t, rec).Reason)
}

func TestProtect_UnknownNonceGetsChallenge(t *testing.T) {
	f := newLocalFixture(t)
	req := f.challenge(t)
	req.Nonce = "0x0badc0de"

	rec := f.do(t, f.pay(t, req, 30000))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestProtect_MalformedProof(t *testing.T) {
	f := newLocalFixture(t)

	for _, proof := range []string{"not base64!", "bm90IGpzb24=", "e30="} {
		rec := f.do(t, proof)
		assert.Equal(t, http.StatusBadRequest, rec.Code, proof)
		assert.Equal(t, types.ReasonMalformed, decodeErrorBody(t, rec).Reason)
	}
}

func TestProtect_ConcurrentPaymentsOneWinner(t *testing.T) {
	// hold every verification until all requests are in flight
	release := make(chan struct{})
	var inFlight sync.WaitGroup
	local, err := facilitator.NewLocalFacilitator(types.NetworkTestnet)
	require.NoError(t, err)

	const workers = 16
	inFlight.Add(workers)
	fac := funcFacilitator(func(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error) {
		inFlight.Done()
		<-release
		return local.Verify(ctx, auth, req)
	})
	f := newFixture(t, fac)
	proof := f.pay(t, f.challenge(t), 30000)

	codes := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- f.do(t, proof).Code
		}()
	}
	inFlight.Wait()
	close(release)
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, workers-1, counts[http.StatusPaymentRequired])
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestProtect_FacilitatorUnreachable(t *testing.T) {
	fac := funcFacilitator(func(context.Context, *types.PaymentAuthorization, *types.PaymentRequirement) (*types.PaymentReceipt, error) {
		return nil, errors.Join(types.ErrNetwork, errors.New("connection refused"))
	})
	f := newFixture(t, fac)
	req := f.challenge(t)

	rec := f.do(t, f.pay(t, req, 30000))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	_, err := f.store.Lookup(context.Background(), req.Nonce)
	assert.NoError(t, err, "nonce must stay payable")
}

func TestProtect_FacilitatorTimeout(t *testing.T) {
	fac := funcFacilitator(func(ctx context.Context, _ *types.PaymentAuthorization, _ *types.PaymentRequirement) (*types.PaymentReceipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, fac, WithVerifyTimeout(20*time.Millisecond))
	req := f.challenge(t)

	rec := f.do(t, f.pay(t, req, 30000))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	_, err := f.store.Lookup(context.Background(), req.Nonce)
	assert.NoError(t, err, "nonce must stay payable")
}

func TestProtect_ClientCancelLeavesNonce(t *testing.T) {
	started := make(chan struct{})
	fac := funcFacilitator(func(ctx context.Context, _ *types.PaymentAuthorization, _ *types.PaymentRequirement) (*types.PaymentReceipt, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, fac)
	nonce := f.challenge(t)

	ctx, cancel := context.WithCancel(context.Background())
	httpReq := httptest.NewRequest(http.MethodPost, "/api/ai-query", nil).WithContext(ctx)
	httpReq.Header.Set(types.HeaderPayment, f.pay(t, nonce, 30000))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.handler.ServeHTTP(httptest.NewRecorder(), httpReq)
	}()
	<-started
	cancel()
	<-done

	_, err := f.store.Lookup(context.Background(), nonce.Nonce)
	assert.NoError(t, err)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestProtect_UnverifiedReceiptRejected(t *testing.T) {
	fac := funcFacilitator(func(context.Context, *types.PaymentAuthorization, *types.PaymentRequirement) (*types.PaymentReceipt, error) {
		return &types.PaymentReceipt{Transaction: "0x1", Verified: false}, nil
	})
	f := newFixture(t, fac)

	rec := f.do(t, f.pay(t, f.challenge(t), 30000))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestProtect_LogsReplayAsWarning(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	f := newLocalFixture(t, WithLogger(log))

	proof := f.pay(t, f.challenge(t), 30000)
	require.Equal(t, http.StatusOK, f.do(t, proof).Code)
	require.Equal(t, http.StatusPaymentRequired, f.do(t, proof).Code)

	assert.Contains(t, buf.String(), `level=WARN msg="replayed payment nonce"`)
}

func TestPriceTagBuilder_Validation(t *testing.T) {
	_, err := NewPriceTagBuilder().PayTo("BOT_ADDR").Network(types.NetworkTestnet).Build()
	assert.ErrorIs(t, err, types.ErrConfig)

	_, err = NewPriceTagBuilder().Amount(1).Network(types.NetworkTestnet).Build()
	assert.ErrorIs(t, err, types.ErrConfig)

	_, err = NewPriceTagBuilder().Amount(1).PayTo("BOT_ADDR").Network("stacks-regtest").Build()
	assert.ErrorIs(t, err, types.ErrConfig)

	_, err = NewPriceTagBuilder().Amount(1).PayTo("BOT_ADDR").Network(types.NetworkTestnet).TTL(0).Build()
	assert.ErrorIs(t, err, types.ErrConfig)

	tag, err := NewPriceTagBuilder().Amount(1).PayTo("BOT_ADDR").Network(types.NetworkTestnet).Build()
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, tag.TTL)
}

func TestRandomNonce(t *testing.T) {
	a, err := RandomNonce()
	require.NoError(t, err)
	b, err := RandomNonce()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 2+64)
}
