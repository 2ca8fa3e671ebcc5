package facilitator

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/x402-rs/x402-ask/pkg/account"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// BalanceChecker reports the payer's spendable balance in smallest units
type BalanceChecker interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
}

// LocalFacilitator verifies authorizations in-process.
//
// Checks run cheapest first: network, nonce, expiry, amount, then the
// signature, then the optional on-chain balance.
type LocalFacilitator struct {
	networks map[types.Network]network.NetworkInfo
	balances map[types.Network]BalanceChecker
	now      func() time.Time
}

// NewLocalFacilitator creates a facilitator for the given networks
func NewLocalFacilitator(networks ...types.Network) (*LocalFacilitator, error) {
	f := &LocalFacilitator{
		networks: make(map[types.Network]network.NetworkInfo),
		balances: make(map[types.Network]BalanceChecker),
		now:      time.Now,
	}
	for _, net := range networks {
		info, err := network.GetNetworkInfo(net)
		if err != nil {
			return nil, err
		}
		f.networks[net] = info
	}
	return f, nil
}

// AddBalanceChecker makes Verify reject payers whose balance on net is below
// the authorized amount
func (f *LocalFacilitator) AddBalanceChecker(net types.Network, checker BalanceChecker) {
	f.balances[net] = checker
}

// Verify implements Facilitator.Verify
func (f *LocalFacilitator) Verify(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, ok := f.networks[req.Network]; !ok {
		return nil, types.NewUnsupportedNetworkError(req.Network)
	}
	if auth.Network != req.Network {
		return nil, types.NewNetworkMismatchError(req.Network, auth.Network, auth.Payer)
	}
	if auth.Nonce != req.Nonce {
		return nil, types.NewNonceMismatchError(auth.Payer)
	}
	if req.Expired(f.now()) {
		return nil, types.NewExpiredError(auth.Payer, fmt.Sprintf("challenge expired at %s", req.ExpiresAt.Format(time.RFC3339)))
	}
	if auth.Amount < req.Amount {
		return nil, types.NewInsufficientAmountError(auth.Payer, auth.Amount, req.Amount)
	}

	if err := account.VerifyAuthorization(auth, req.PayTo); err != nil {
		return nil, err
	}

	if checker, ok := f.balances[req.Network]; ok {
		if err := f.checkBalance(ctx, checker, auth); err != nil {
			return nil, err
		}
	}

	return &types.PaymentReceipt{
		Transaction: crypto.Keccak256Hash([]byte(auth.Signature), []byte(auth.Nonce)).Hex(),
		Payer:       auth.Payer,
		Payee:       req.PayTo,
		Network:     req.Network,
		Verified:    true,
	}, nil
}

func (f *LocalFacilitator) checkBalance(ctx context.Context, checker BalanceChecker, auth *types.PaymentAuthorization) error {
	balance, err := checker.GetBalance(ctx, auth.Payer)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: failed to check balance: %v", types.ErrNetwork, err)
	}

	if balance.Cmp(new(big.Int).SetUint64(auth.Amount)) < 0 {
		return &types.VerificationError{
			Reason:  types.ReasonInsufficientAmount,
			Message: fmt.Sprintf("balance %s below authorized %d", balance, auth.Amount),
			Payer:   auth.Payer,
		}
	}
	return nil
}

// Supported implements Facilitator.Supported
func (f *LocalFacilitator) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	networks := make([]types.SupportedNetwork, 0, len(f.networks))
	for _, info := range f.networks {
		networks = append(networks, types.SupportedNetwork{
			Network:     info.Network,
			Family:      string(info.Family),
			TokenSymbol: info.TokenSymbol,
		})
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i].Network < networks[j].Network })

	return &types.SupportedResponse{Networks: networks}, nil
}
