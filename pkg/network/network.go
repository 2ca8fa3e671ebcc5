package network

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// Family groups networks that share key material and signature scheme
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

// ChainID represents an EVM chain ID
type ChainID uint64

const (
	ChainIDBaseSepolia   ChainID = 84532
	ChainIDBase          ChainID = 8453
	ChainIDAvalancheFuji ChainID = 43113
	ChainIDAvalanche     ChainID = 43114
	ChainIDPolygonAmoy   ChainID = 80002
	ChainIDPolygon       ChainID = 137
)

// NetworkInfo contains metadata about a network
type NetworkInfo struct {
	Network     types.Network
	ChainID     ChainID // zero for non-EVM families
	Name        string
	Family      Family
	TokenSymbol string
	Decimals    uint8
	ExplorerURL string // base URL, address and tx paths are appended
}

// IsEVM reports whether the network is EVM-compatible
func (n NetworkInfo) IsEVM() bool {
	return n.Family == FamilyEVM
}

// AddressURL links an address on the network's block explorer
func (n NetworkInfo) AddressURL(address string) string {
	return n.ExplorerURL + "/address/" + address
}

// TxURL links a transaction on the network's block explorer
func (n NetworkInfo) TxURL(tx string) string {
	return n.ExplorerURL + "/tx/" + tx
}

var (
	// NetworkInfoMap maps network names to their information.
	// "testnet" and "mainnet" are the short identifiers used in configuration
	// and resolve to the default EVM chains.
	NetworkInfoMap = map[types.Network]NetworkInfo{
		types.NetworkTestnet: {
			Network:     types.NetworkTestnet,
			ChainID:     ChainIDBaseSepolia,
			Name:        "Testnet (Base Sepolia)",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://sepolia.basescan.org",
		},
		types.NetworkMainnet: {
			Network:     types.NetworkMainnet,
			ChainID:     ChainIDBase,
			Name:        "Mainnet (Base)",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://basescan.org",
		},
		types.NetworkBaseSepolia: {
			Network:     types.NetworkBaseSepolia,
			ChainID:     ChainIDBaseSepolia,
			Name:        "Base Sepolia",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://sepolia.basescan.org",
		},
		types.NetworkBase: {
			Network:     types.NetworkBase,
			ChainID:     ChainIDBase,
			Name:        "Base",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://basescan.org",
		},
		types.NetworkAvalancheFuji: {
			Network:     types.NetworkAvalancheFuji,
			ChainID:     ChainIDAvalancheFuji,
			Name:        "Avalanche Fuji",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://testnet.snowtrace.io",
		},
		types.NetworkAvalanche: {
			Network:     types.NetworkAvalanche,
			ChainID:     ChainIDAvalanche,
			Name:        "Avalanche C-Chain",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://snowtrace.io",
		},
		types.NetworkPolygonAmoy: {
			Network:     types.NetworkPolygonAmoy,
			ChainID:     ChainIDPolygonAmoy,
			Name:        "Polygon Amoy",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://amoy.polygonscan.com",
		},
		types.NetworkPolygon: {
			Network:     types.NetworkPolygon,
			ChainID:     ChainIDPolygon,
			Name:        "Polygon",
			Family:      FamilyEVM,
			TokenSymbol: "USDC",
			Decimals:    6,
			ExplorerURL: "https://polygonscan.com",
		},
		types.NetworkSolana: {
			Network:     types.NetworkSolana,
			Name:        "Solana",
			Family:      FamilySolana,
			TokenSymbol: "SOL",
			Decimals:    9,
			ExplorerURL: "https://explorer.solana.com",
		},
		types.NetworkSolanaDevnet: {
			Network:     types.NetworkSolanaDevnet,
			Name:        "Solana Devnet",
			Family:      FamilySolana,
			TokenSymbol: "SOL",
			Decimals:    9,
			ExplorerURL: "https://explorer.solana.com",
		},
	}
)

// GetNetworkInfo returns information about a network
func GetNetworkInfo(network types.Network) (NetworkInfo, error) {
	info, ok := NetworkInfoMap[network]
	if !ok {
		return NetworkInfo{}, fmt.Errorf("%w: unknown network: %s", types.ErrConfig, network)
	}
	return info, nil
}

// IsKnown reports whether the network is in the table
func IsKnown(network types.Network) bool {
	_, ok := NetworkInfoMap[network]
	return ok
}

// ParseAmount converts a decimal token amount such as "0.03" into smallest units
func ParseAmount(amount string, decimals uint8) (uint64, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, fmt.Errorf("invalid amount: empty")
	}

	whole, frac, _ := strings.Cut(amount, ".")
	if len(frac) > int(decimals) {
		return 0, fmt.Errorf("invalid amount: %s has more than %d decimals", amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return 0, nil
	}

	value, ok := new(big.Int).SetString(digits, 10)
	if !ok || value.Sign() < 0 {
		return 0, fmt.Errorf("invalid amount: %s", amount)
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("invalid amount: %s overflows", amount)
	}
	return value.Uint64(), nil
}

// FormatAmount renders smallest units as a decimal token amount, trimming trailing zeros
func FormatAmount(units *big.Int, decimals uint8) string {
	if units == nil {
		return "0"
	}
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, rem := new(big.Int).QuoRem(units, divisor, new(big.Int))

	if rem.Sign() == 0 {
		return whole.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	return whole.String() + "." + strings.TrimRight(frac, "0")
}
