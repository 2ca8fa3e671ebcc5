// Package balance reads wallet balances from chain RPC endpoints.
package balance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// Inquirer reports the balance of an address in the smallest unit of
// Symbol, which has Decimals decimal places
type Inquirer interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	Symbol() string
	Decimals() uint8
}

// New returns the inquirer for the network's family. tokenAddress selects an
// ERC-20 balance on EVM networks; empty means the native coin.
func New(ctx context.Context, info network.NetworkInfo, rpcURL, tokenAddress string) (Inquirer, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: RPC_URL is required for balance lookups", types.ErrConfig)
	}

	switch info.Family {
	case network.FamilyEVM:
		return DialEVM(ctx, info, rpcURL, tokenAddress)
	case network.FamilySolana:
		return NewSolana(info, rpcURL), nil
	default:
		return nil, fmt.Errorf("%w: no balance source for %s", types.ErrConfig, info.Family)
	}
}
