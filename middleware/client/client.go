package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// maxBodySize caps how much of any response is buffered
const maxBodySize = 4 << 20

// PayingClient is an HTTP client that pays x402 challenges with its account.
//
// A request is sent at most twice: once unpaid and, if the server answers
// 402, once more carrying a signed authorization. There is never a third
// attempt.
type PayingClient struct {
	client    *http.Client
	account   *account.Account
	maxAmount uint64
	log       logging.Logger
	now       func() time.Time
}

// Option configures a PayingClient
type Option func(*PayingClient)

func WithHTTPClient(c *http.Client) Option {
	return func(p *PayingClient) { p.client = c }
}

// WithTimeout bounds each round trip
func WithTimeout(d time.Duration) Option {
	return func(p *PayingClient) {
		c := *p.client
		c.Timeout = d
		p.client = &c
	}
}

// WithMaxAmount refuses challenges asking for more than max smallest units
func WithMaxAmount(max uint64) Option {
	return func(p *PayingClient) { p.maxAmount = max }
}

func WithLogger(log logging.Logger) Option {
	return func(p *PayingClient) { p.log = log }
}

// WithClock replaces time.Now when checking challenge expiry
func WithClock(now func() time.Time) Option {
	return func(p *PayingClient) { p.now = now }
}

// NewPayingClient creates a new client paying from acct
func NewPayingClient(acct *account.Account, opts ...Option) *PayingClient {
	p := &PayingClient{
		client:  &http.Client{Timeout: 30 * time.Second},
		account: acct,
		log:     logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is a completed exchange. Body holds the full response body, which
// is also readable again from Response.Body. Receipt is nil when the server
// did not ask for payment.
type Result struct {
	Response *http.Response
	Body     []byte
	Receipt  *types.PaymentReceipt
}

// Get performs a GET request with automatic payment handling
func (c *PayingClient) Get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// PostJSON posts payload as JSON with automatic payment handling
func (c *PayingClient) PostJSON(ctx context.Context, url string, payload any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// Do executes req, paying a 402 challenge once if one is returned.
//
// Any non-402 first response is returned unchanged. A challenge that is
// malformed, on a network the account cannot pay on, or above the spending
// ceiling fails with types.ErrUnexpectedChallenge. A paid retry that does not
// succeed fails with *types.PaymentError.
func (c *PayingClient) Do(req *http.Request) (*Result, error) {
	ctx := req.Context()

	// The body is replayed on the paid retry
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	// unpaid
	resp, body, err := c.roundTrip(req, payload, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return &Result{Response: resp, Body: body}, nil
	}

	// challenged
	requirement, err := c.acceptChallenge(body)
	if err != nil {
		return nil, err
	}

	auth, err := account.SignAuthorization(c.account, requirement)
	if err != nil {
		return nil, err
	}
	proof, err := types.EncodeAuthorization(auth)
	if err != nil {
		return nil, err
	}

	c.log.Info(ctx, "paying challenge",
		"url", req.URL.String(), "amount", requirement.Amount, "network", requirement.Network, "nonce", requirement.Nonce)

	// paid or failed, never a third request
	resp, body, err = c.roundTrip(req, payload, proof)
	if err != nil {
		return nil, &types.PaymentError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := types.NewPaymentError(resp.StatusCode, body)
		c.log.Warn(ctx, "payment not accepted", "status", resp.StatusCode, "error", perr.Err)
		return nil, perr
	}

	receipt, err := types.DecodeReceipt(resp.Header.Get(types.HeaderPaymentResponse))
	if err != nil {
		return nil, &types.PaymentError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("missing or invalid receipt: %w", err),
		}
	}

	c.log.Info(ctx, "payment settled", "transaction", receipt.Transaction, "payer", receipt.Payer)
	return &Result{Response: resp, Body: body, Receipt: receipt}, nil
}

// acceptChallenge parses a 402 body and checks it is something this client
// is willing and able to pay
func (c *PayingClient) acceptChallenge(body []byte) (*types.PaymentRequirement, error) {
	requirement, err := types.DecodeRequirement(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnexpectedChallenge, err)
	}
	if err := requirement.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrUnexpectedChallenge, err)
	}

	info, err := network.GetNetworkInfo(requirement.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown network %q", types.ErrUnexpectedChallenge, requirement.Network)
	}
	if info.Family != c.account.Family() {
		return nil, fmt.Errorf("%w: %s account cannot pay on %s", types.ErrUnexpectedChallenge, c.account.Family(), requirement.Network)
	}
	if c.maxAmount > 0 && requirement.Amount > c.maxAmount {
		return nil, fmt.Errorf("%w: amount %d exceeds limit %d", types.ErrUnexpectedChallenge, requirement.Amount, c.maxAmount)
	}
	if requirement.Expired(c.now()) {
		return nil, fmt.Errorf("%w: challenge expired at %s", types.ErrUnexpectedChallenge, requirement.ExpiresAt.Format(time.RFC3339))
	}

	return requirement, nil
}

// roundTrip sends a copy of req with payload as body, adding the proof
// header when one is given, and buffers the response body
func (c *PayingClient) roundTrip(req *http.Request, payload []byte, proof string) (*http.Response, []byte, error) {
	ctx := req.Context()

	attempt := req.Clone(ctx)
	if payload != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(payload))
		attempt.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
		attempt.ContentLength = int64(len(payload))
	}
	if proof != "" {
		attempt.Header.Set(types.HeaderPayment, proof)
	}

	resp, err := c.client.Do(attempt)
	if err != nil {
		return nil, nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, classifyTransportError(ctx, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return resp, body, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", types.ErrNetwork, err)
}
