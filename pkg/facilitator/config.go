package facilitator

import (
	"context"
	"fmt"

	"github.com/x402-rs/x402-ask/pkg/balance"
	"github.com/x402-rs/x402-ask/pkg/config"
	"github.com/x402-rs/x402-ask/pkg/logging"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// FromConfig returns the remote facilitator at FACILITATOR_URL, or an
// in-process one for the configured network when it is unset
func FromConfig(ctx context.Context, cfg *config.Config, log logging.Logger) (Facilitator, error) {
	if cfg.FacilitatorURL != "" {
		log.Info(ctx, "using remote facilitator", "url", cfg.FacilitatorURL)
		return NewHTTPFacilitator(cfg.FacilitatorURL, cfg.VerifyTimeout), nil
	}
	log.Info(ctx, "verifying payments in-process", "network", cfg.Network)
	return NewLocalFromConfig(ctx, cfg, log, cfg.Network)
}

// NewLocalFromConfig creates a local facilitator for networks. When RPC_URL
// is set and the balance it reports is in the payment currency of
// cfg.Network, payers are balance checked on that network.
func NewLocalFromConfig(ctx context.Context, cfg *config.Config, log logging.Logger, networks ...types.Network) (*LocalFacilitator, error) {
	fac, err := NewLocalFacilitator(networks...)
	if err != nil {
		return nil, err
	}
	if cfg.RPCURL == "" {
		return fac, nil
	}
	if _, ok := fac.networks[cfg.Network]; !ok {
		return nil, fmt.Errorf("%w: RPC_URL given for unsupported network %s", types.ErrConfig, cfg.Network)
	}

	info, err := network.GetNetworkInfo(cfg.Network)
	if err != nil {
		return nil, err
	}
	inq, err := balance.New(ctx, info, cfg.RPCURL, cfg.TokenAddress)
	if err != nil {
		return nil, err
	}

	if inq.Symbol() != info.TokenSymbol || inq.Decimals() != info.Decimals {
		log.Warn(ctx, "balance checks disabled: RPC balance is not in the payment currency",
			"network", cfg.Network, "balance_symbol", inq.Symbol(), "payment_symbol", info.TokenSymbol)
		return fac, nil
	}

	fac.AddBalanceChecker(cfg.Network, inq)
	log.Info(ctx, "balance checks enabled", "network", cfg.Network, "symbol", inq.Symbol())
	return fac, nil
}
