package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/facilitator"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/types"
)

type stubFacilitator struct {
	err error
}

func (s stubFacilitator) Verify(context.Context, *types.PaymentAuthorization, *types.PaymentRequirement) (*types.PaymentReceipt, error) {
	return nil, s.err
}

func (s stubFacilitator) Supported(context.Context) (*types.SupportedResponse, error) {
	return nil, s.err
}

func newServer(t *testing.T, fac facilitator.Facilitator) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(fac, logging.Discard()).SetupRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signed(t *testing.T) (*types.PaymentAuthorization, *types.PaymentRequirement) {
	t.Helper()
	acct, err := account.Generate(types.NetworkTestnet)
	require.NoError(t, err)
	req := &types.PaymentRequirement{
		Amount:    30000,
		PayTo:     "BOT_ADDR",
		Network:   types.NetworkTestnet,
		Nonce:     "0x01",
		ExpiresAt: time.Now().Add(time.Minute),
	}
	auth, err := account.SignAuthorization(acct, req)
	require.NoError(t, err)
	return auth, req
}

func TestVerifyHandler_ThroughHTTPFacilitator(t *testing.T) {
	local, err := facilitator.NewLocalFacilitator(types.NetworkTestnet)
	require.NoError(t, err)
	srv := newServer(t, local)
	remote := facilitator.NewHTTPFacilitator(srv.URL, time.Second)

	auth, req := signed(t)

	receipt, err := remote.Verify(context.Background(), auth, req)
	require.NoError(t, err)
	assert.True(t, receipt.Verified)
	assert.Equal(t, auth.Payer, receipt.Payer)

	// a rejected verdict crosses the wire as a VerificationError
	req.Amount++
	_, err = remote.Verify(context.Background(), auth, req)
	var verr *types.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, types.ReasonInsufficientAmount, verr.Reason)
	assert.Equal(t, auth.Payer, verr.Payer)
}

func TestVerifyHandler_BadRequests(t *testing.T) {
	srv := newServer(t, stubFacilitator{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"unknown field", `{"authorization":{},"requirement":{},"extra":1}`},
		{"invalid requirement", `{"authorization":{"payer":"p"},"requirement":{"amount":0}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/verify", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body types.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, types.ReasonMalformed, body.Reason)
		})
	}
}

func TestVerifyHandler_FacilitatorFailures(t *testing.T) {
	auth, req := signed(t)
	payload, err := json.Marshal(types.VerifyRequest{Authorization: *auth, Requirement: *req})
	require.NoError(t, err)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"timeout", types.ErrTimeout, http.StatusGatewayTimeout},
		{"upstream", errors.New("rpc down"), http.StatusBadGateway},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(t, stubFacilitator{err: tc.err})

			resp, err := http.Post(srv.URL+"/verify", "application/json", bytes.NewReader(payload))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestVerifyHandler_MethodNotAllowed(t *testing.T) {
	srv := newServer(t, stubFacilitator{})

	resp, err := http.Get(srv.URL + "/verify")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSupportedAndHealth(t *testing.T) {
	local, err := facilitator.NewLocalFacilitator(types.NetworkTestnet)
	require.NoError(t, err)
	srv := newServer(t, local)

	supported, err := facilitator.NewHTTPFacilitator(srv.URL, time.Second).Supported(context.Background())
	require.NoError(t, err)
	require.Len(t, supported.Networks, 1)
	assert.Equal(t, types.NetworkTestnet, supported.Networks[0].Network)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
}

func TestSupported_Error(t *testing.T) {
	srv := newServer(t, stubFacilitator{err: errors.New("boom")})

	resp, err := http.Get(srv.URL + "/supported")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
