package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/replay"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// DefaultVerifyTimeout bounds one facilitator verification
const DefaultVerifyTimeout = 10 * time.Second

// X402Middleware gates HTTP handlers behind per-request payments.
//
// Unpaid requests get a 402 challenge with a fresh nonce. A retried request
// carrying an authorization is verified by the facilitator, its nonce is
// consumed, and only then is the protected handler called.
type X402Middleware struct {
	facilitator   facilitator.Facilitator
	store         replay.Store
	log           logging.Logger
	verifyTimeout time.Duration

	now      func() time.Time
	newNonce func() (string, error)
}

// Option configures an X402Middleware
type Option func(*X402Middleware)

func WithLogger(log logging.Logger) Option {
	return func(m *X402Middleware) { m.log = log }
}

// WithVerifyTimeout bounds each facilitator call
func WithVerifyTimeout(d time.Duration) Option {
	return func(m *X402Middleware) { m.verifyTimeout = d }
}

// WithClock replaces time.Now when minting challenges
func WithClock(now func() time.Time) Option {
	return func(m *X402Middleware) { m.now = now }
}

// WithNonceSource replaces the random nonce generator
func WithNonceSource(fn func() (string, error)) Option {
	return func(m *X402Middleware) { m.newNonce = fn }
}

// NewX402Middleware creates a gate verifying through fac and tracking nonces
// in store
func NewX402Middleware(fac facilitator.Facilitator, store replay.Store, opts ...Option) *X402Middleware {
	m := &X402Middleware{
		facilitator:   fac,
		store:         store,
		log:           logging.Discard(),
		verifyTimeout: DefaultVerifyTimeout,
		now:           time.Now,
		newNonce:      RandomNonce,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RandomNonce returns 32 random bytes as 0x-hex
func RandomNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(b), nil
}

// Protect wraps an HTTP handler with payment verification
func (m *X402Middleware) Protect(next http.Handler, priceTag *PriceTag) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		paymentHeader := r.Header.Get(types.HeaderPayment)
		if paymentHeader == "" {
			m.send402(w, r, priceTag)
			return
		}

		auth, err := types.DecodeAuthorization(paymentHeader)
		if err != nil {
			m.log.Info(ctx, "malformed payment header", "error", err)
			respondError(w, http.StatusBadRequest, types.ReasonMalformed, err.Error())
			return
		}
		log := m.log.With("nonce", auth.Nonce, "payer", auth.Payer)

		// The challenge, not the client, is the source of truth for what is owed
		requirement, err := m.store.Lookup(ctx, auth.Nonce)
		switch {
		case err == nil:
		case errors.Is(err, types.ErrReplay):
			log.Warn(ctx, "replayed payment nonce")
			m.send402(w, r, priceTag)
			return
		case errors.Is(err, replay.ErrUnknownNonce):
			log.Info(ctx, "payment for unknown nonce")
			m.send402(w, r, priceTag)
			return
		default:
			log.Error(ctx, "replay store lookup failed", "error", err)
			respondError(w, http.StatusInternalServerError, "", "payment state unavailable")
			return
		}

		receipt, err := m.verify(ctx, auth, requirement)
		if err != nil {
			m.handleVerifyError(ctx, log, w, err)
			return
		}

		// Exactly one concurrent request per nonce gets past this point
		if err := m.store.Consume(ctx, auth.Nonce); err != nil {
			if errors.Is(err, types.ErrReplay) || errors.Is(err, replay.ErrUnknownNonce) {
				log.Warn(ctx, "payment nonce consumed concurrently")
				m.send402(w, r, priceTag)
				return
			}
			log.Error(ctx, "failed to consume nonce", "error", err)
			respondError(w, http.StatusInternalServerError, "", "payment state unavailable")
			return
		}

		encoded, err := types.EncodeReceipt(receipt)
		if err != nil {
			log.Error(ctx, "failed to encode receipt", "error", err)
			respondError(w, http.StatusInternalServerError, "", "failed to encode receipt")
			return
		}
		w.Header().Set(types.HeaderPaymentResponse, encoded)

		log.Info(ctx, "payment accepted", "transaction", receipt.Transaction, "amount", auth.Amount)
		next.ServeHTTP(w, r.WithContext(WithReceipt(ctx, receipt)))
	})
}

// verify calls the facilitator without holding any lock
func (m *X402Middleware) verify(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error) {
	vctx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	defer cancel()

	receipt, err := m.facilitator.Verify(vctx, auth, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(vctx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
			return nil, fmt.Errorf("%w: verification exceeded %s: %v", types.ErrTimeout, m.verifyTimeout, err)
		}
		return nil, err
	}
	if !receipt.Verified {
		return nil, types.NewInvalidSignatureError(auth.Payer, "facilitator returned an unverified receipt")
	}
	return receipt, nil
}

func (m *X402Middleware) handleVerifyError(ctx context.Context, log logging.Logger, w http.ResponseWriter, err error) {
	var verr *types.VerificationError
	switch {
	case ctx.Err() != nil:
		// client went away; the nonce stays payable
		log.Debug(ctx, "request canceled during verification", "error", err)
	case errors.As(err, &verr):
		log.Info(ctx, "payment rejected", "reason", verr.Reason, "message", verr.Message)
		respondError(w, http.StatusBadRequest, verr.Reason, verr.Error())
	case errors.Is(err, types.ErrTimeout):
		log.Error(ctx, "facilitator timed out", "error", err)
		respondError(w, http.StatusGatewayTimeout, "", "payment verification timed out")
	default:
		log.Error(ctx, "facilitator unavailable", "error", err)
		respondError(w, http.StatusBadGateway, "", "payment facilitator unavailable")
	}
}

// send402 issues a fresh challenge
func (m *X402Middleware) send402(w http.ResponseWriter, r *http.Request, priceTag *PriceTag) {
	ctx := r.Context()

	nonce, err := m.newNonce()
	if err != nil {
		m.log.Error(ctx, "failed to mint nonce", "error", err)
		respondError(w, http.StatusInternalServerError, "", "failed to issue payment challenge")
		return
	}

	requirement := priceTag.requirement(nonce, m.now())
	if err := m.store.Issue(ctx, requirement); err != nil {
		m.log.Error(ctx, "failed to record challenge", "error", err)
		respondError(w, http.StatusInternalServerError, "", "failed to issue payment challenge")
		return
	}

	body, err := types.EncodeRequirement(requirement)
	if err != nil {
		m.log.Error(ctx, "failed to encode challenge", "error", err)
		respondError(w, http.StatusInternalServerError, "", "failed to issue payment challenge")
		return
	}

	m.log.Debug(ctx, "payment challenge issued", "nonce", nonce, "amount", requirement.Amount, "path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	w.Write(body)
}

func respondError(w http.ResponseWriter, status int, reason types.Reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: message, Reason: reason})
}
