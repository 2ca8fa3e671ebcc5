package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-rs/x402-ask/pkg/types"
)

func serveJSON(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

func TestHTTPFacilitator_Verify(t *testing.T) {
	auth, req := signedPayment(t, types.NetworkTestnet)

	var got types.VerifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		serveJSON(http.StatusOK, types.NewValidResponse(&types.PaymentReceipt{
			Transaction: "0xtx", Payer: auth.Payer, Network: types.NetworkTestnet, Verified: true,
		}))(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFacilitator(srv.URL+"/", time.Second)
	assert.Equal(t, srv.URL, f.URL())

	receipt, err := f.Verify(context.Background(), auth, req)
	require.NoError(t, err)
	assert.Equal(t, "0xtx", receipt.Transaction)
	assert.Equal(t, req.Nonce, got.Requirement.Nonce)
	assert.Equal(t, auth.Signature, got.Authorization.Signature)
}

func TestHTTPFacilitator_ErrorMapping(t *testing.T) {
	auth, req := signedPayment(t, types.NetworkTestnet)

	tests := []struct {
		name    string
		handler http.HandlerFunc
		is      error
	}{
		{
			name:    "invalid verdict",
			handler: serveJSON(http.StatusOK, types.NewInvalidResponse(types.NewInsufficientAmountError("p", 1, 2))),
			is:      types.ErrInsufficientAmount,
		},
		{
			name:    "valid without receipt",
			handler: serveJSON(http.StatusOK, types.VerifyResponse{IsValid: true}),
			is:      types.ErrNetwork,
		},
		{
			name:    "server error",
			handler: serveJSON(http.StatusInternalServerError, types.ErrorResponse{Error: "boom"}),
			is:      types.ErrNetwork,
		},
		{
			name:    "gateway timeout",
			handler: serveJSON(http.StatusGatewayTimeout, types.ErrorResponse{Error: "slow"}),
			is:      types.ErrTimeout,
		},
		{
			name:    "bad request",
			handler: serveJSON(http.StatusBadRequest, types.ErrorResponse{Error: "bad"}),
			is:      types.ErrMalformedPayment,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<html>"))
			},
			is: types.ErrNetwork,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewHTTPFacilitator(srv.URL, time.Second).Verify(context.Background(), auth, req)
			assert.ErrorIs(t, err, tc.is)
		})
	}
}

func TestHTTPFacilitator_Unreachable(t *testing.T) {
	auth, req := signedPayment(t, types.NetworkTestnet)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFacilitator(url, time.Second).Verify(context.Background(), auth, req)
	assert.ErrorIs(t, err, types.ErrNetwork)
}

func TestHTTPFacilitator_Deadline(t *testing.T) {
	auth, req := signedPayment(t, types.NetworkTestnet)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPFacilitator(srv.URL, time.Minute).Verify(ctx, auth, req)
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestHTTPFacilitator_Canceled(t *testing.T) {
	auth, req := signedPayment(t, types.NetworkTestnet)

	srv := httptest.NewServer(serveJSON(http.StatusOK, types.VerifyResponse{}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFacilitator(srv.URL, time.Second).Verify(ctx, auth, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPFacilitator_Supported(t *testing.T) {
	srv := httptest.NewServer(serveJSON(http.StatusOK, types.SupportedResponse{
		Networks: []types.SupportedNetwork{{Network: types.NetworkTestnet, Family: "evm", TokenSymbol: "USDC"}},
	}))
	defer srv.Close()

	resp, err := NewHTTPFacilitator(srv.URL, time.Second).Supported(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Networks, 1)
	assert.Equal(t, "USDC", resp.Networks[0].TokenSymbol)
}
