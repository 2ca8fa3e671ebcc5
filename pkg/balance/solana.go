package balance

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402-rs/x402-ask/pkg/network"
)

// SolanaInquirer reads lamport balances
type SolanaInquirer struct {
	client   *rpc.Client
	symbol   string
	decimals uint8
}

func NewSolana(info network.NetworkInfo, rpcURL string) *SolanaInquirer {
	return &SolanaInquirer{
		client:   rpc.New(rpcURL),
		symbol:   info.TokenSymbol,
		decimals: info.Decimals,
	}
}

func (s *SolanaInquirer) Symbol() string  { return s.symbol }
func (s *SolanaInquirer) Decimals() uint8 { return s.decimals }

func (s *SolanaInquirer) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	pubKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	out, err := s.client.GetBalance(ctx, pubKey, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("getBalance failed: %w", err)
	}
	return new(big.Int).SetUint64(out.Value), nil
}
