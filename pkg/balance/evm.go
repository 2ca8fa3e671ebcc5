package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

const erc20BalanceOfABI = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// evmBackend is the subset of ethclient.Client used here
type evmBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMInquirer reads native or ERC-20 balances over JSON-RPC
type EVMInquirer struct {
	backend  evmBackend
	token    *common.Address
	tokenABI abi.ABI
	symbol   string
	decimals uint8
}

// DialEVM connects to rpcURL
func DialEVM(ctx context.Context, info network.NetworkInfo, rpcURL, tokenAddress string) (*EVMInquirer, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewEVM(client, info, tokenAddress)
}

// NewEVM wraps an existing backend
func NewEVM(backend evmBackend, info network.NetworkInfo, tokenAddress string) (*EVMInquirer, error) {
	tokenABI, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to load token ABI: %w", err)
	}

	inq := &EVMInquirer{
		backend:  backend,
		tokenABI: tokenABI,
		symbol:   nativeSymbol(info.ChainID),
		decimals: 18,
	}
	if tokenAddress != "" {
		if !common.IsHexAddress(tokenAddress) {
			return nil, fmt.Errorf("%w: invalid TOKEN_ADDRESS %q", types.ErrConfig, tokenAddress)
		}
		token := common.HexToAddress(tokenAddress)
		inq.token = &token
		inq.symbol = info.TokenSymbol
		inq.decimals = info.Decimals
	}
	return inq, nil
}

func (e *EVMInquirer) Symbol() string  { return e.symbol }
func (e *EVMInquirer) Decimals() uint8 { return e.decimals }

// GetBalance returns the latest balance of address
func (e *EVMInquirer) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	account := common.HexToAddress(address)

	if e.token == nil {
		balance, err := e.backend.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, fmt.Errorf("eth_getBalance failed: %w", err)
		}
		return balance, nil
	}

	// Pack balanceOf call
	data, err := e.tokenABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: e.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	var balance *big.Int
	if err := e.tokenABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	return balance, nil
}

func nativeSymbol(chainID network.ChainID) string {
	switch chainID {
	case network.ChainIDAvalanche, network.ChainIDAvalancheFuji:
		return "AVAX"
	case network.ChainIDPolygon, network.ChainIDPolygonAmoy:
		return "POL"
	default:
		return "ETH"
	}
}
