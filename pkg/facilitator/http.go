package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// HTTPFacilitator calls a remote facilitator service over HTTP
type HTTPFacilitator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFacilitator creates a client for the facilitator at baseURL.
// Callers bound each call with their context; timeout is a backstop.
func NewHTTPFacilitator(baseURL string, timeout time.Duration) *HTTPFacilitator {
	return &HTTPFacilitator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// URL returns the facilitator base URL
func (f *HTTPFacilitator) URL() string {
	return f.baseURL
}

// Verify implements Facilitator.Verify
func (f *HTTPFacilitator) Verify(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error) {
	body, err := json.Marshal(types.VerifyRequest{Authorization: *auth, Requirement: *req})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var verifyResp types.VerifyResponse
	if err := f.do(ctx, http.MethodPost, "/verify", body, &verifyResp); err != nil {
		return nil, err
	}

	if !verifyResp.IsValid {
		return nil, &types.VerificationError{
			Reason:  verifyResp.Reason,
			Message: verifyResp.Message,
			Payer:   verifyResp.Payer,
		}
	}
	if verifyResp.Receipt == nil {
		return nil, fmt.Errorf("%w: facilitator accepted payment without a receipt", types.ErrNetwork)
	}
	return verifyResp.Receipt, nil
}

// Supported implements Facilitator.Supported
func (f *HTTPFacilitator) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	var resp types.SupportedResponse
	if err := f.do(ctx, http.MethodGet, "/supported", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *HTTPFacilitator) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", types.ErrNetwork, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransportError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		var errResp types.ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return types.NewMalformedError(fmt.Sprintf("facilitator rejected request: %s", errResp.Error))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: facilitator returned %d", types.ErrTimeout, resp.StatusCode)
	default:
		return fmt.Errorf("%w: facilitator returned %d: %s", types.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", types.ErrNetwork, err)
	}
	return nil
}

// classifyTransportError maps a failed round trip onto the error taxonomy.
// Caller cancellation is passed through untouched.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: facilitator call: %v", types.ErrTimeout, err)
	}
	return fmt.Errorf("%w: facilitator call: %v", types.ErrNetwork, err)
}
