package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

const (
	evmAddress    = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	tokenAddress  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	solanaAddress = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// rpcServer answers JSON-RPC calls with the result for the method, or a
// JSON-RPC error when the method is not in results
func rpcServer(t *testing.T, results map[string]any) (*httptest.Server, func() []rpcRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []rpcRequest
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if result, ok := results[req.Method]; ok {
			resp["result"] = result
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []rpcRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]rpcRequest(nil), seen...)
	}
}

func info(t *testing.T, net types.Network) network.NetworkInfo {
	t.Helper()
	i, err := network.GetNetworkInfo(net)
	require.NoError(t, err)
	return i
}

func TestEVM_NativeBalance(t *testing.T) {
	srv, seen := rpcServer(t, map[string]any{"eth_getBalance": "0xde0b6b3a7640000"})

	inq, err := New(context.Background(), info(t, types.NetworkTestnet), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "ETH", inq.Symbol())
	assert.Equal(t, uint8(18), inq.Decimals())

	bal, err := inq.GetBalance(context.Background(), evmAddress)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())
	require.Len(t, seen(), 1)
	assert.Equal(t, "eth_getBalance", seen()[0].Method)
}

func TestEVM_TokenBalance(t *testing.T) {
	// 30000 as a 32-byte word
	word := "0x0000000000000000000000000000000000000000000000000000000000007530"
	srv, seen := rpcServer(t, map[string]any{"eth_call": word})

	inq, err := New(context.Background(), info(t, types.NetworkTestnet), srv.URL, tokenAddress)
	require.NoError(t, err)
	assert.Equal(t, "USDC", inq.Symbol())
	assert.Equal(t, uint8(6), inq.Decimals())

	bal, err := inq.GetBalance(context.Background(), evmAddress)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), bal.Int64())

	calls := seen()
	require.Len(t, calls, 1)
	assert.Equal(t, "eth_call", calls[0].Method)

	var call struct {
		To    string `json:"to"`
		Input string `json:"input"`
		Data  string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(calls[0].Params[0], &call))
	assert.True(t, strings.EqualFold(tokenAddress, call.To), "expected %s, got %s", tokenAddress, call.To)
	input := call.Input
	if input == "" {
		input = call.Data
	}
	// balanceOf(address) selector
	assert.Contains(t, input, "0x70a08231")
}

func TestEVM_Errors(t *testing.T) {
	srv, _ := rpcServer(t, map[string]any{})

	inq, err := New(context.Background(), info(t, types.NetworkTestnet), srv.URL, "")
	require.NoError(t, err)

	_, err = inq.GetBalance(context.Background(), "not-an-address")
	assert.Error(t, err)

	_, err = inq.GetBalance(context.Background(), evmAddress)
	assert.Error(t, err)

	_, err = New(context.Background(), info(t, types.NetworkTestnet), srv.URL, "0xnope")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestSolana_Balance(t *testing.T) {
	srv, seen := rpcServer(t, map[string]any{
		"getBalance": map[string]any{"context": map[string]any{"slot": 1}, "value": 2500000000},
	})

	inq, err := New(context.Background(), info(t, types.NetworkSolanaDevnet), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "SOL", inq.Symbol())

	bal, err := inq.GetBalance(context.Background(), solanaAddress)
	require.NoError(t, err)
	assert.Equal(t, "2.5", network.FormatAmount(bal, inq.Decimals()))
	require.Len(t, seen(), 1)
	assert.Equal(t, "getBalance", seen()[0].Method)

	_, err = inq.GetBalance(context.Background(), "0xnot-base58")
	assert.Error(t, err)
}

func TestNew_RequiresRPCURL(t *testing.T) {
	_, err := New(context.Background(), info(t, types.NetworkTestnet), "", "")
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestNativeSymbol(t *testing.T) {
	assert.Equal(t, "AVAX", nativeSymbol(network.ChainIDAvalancheFuji))
	assert.Equal(t, "POL", nativeSymbol(network.ChainIDPolygon))
	assert.Equal(t, "ETH", nativeSymbol(network.ChainIDBase))
}
