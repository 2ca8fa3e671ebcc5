package facilitator

import (
	"context"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// Facilitator verifies payment authorizations on behalf of a gate.
//
// The facilitator never holds user funds and never consumes nonces: replay
// protection belongs to the gate that issued the challenge.
type Facilitator interface {
	// Verify checks that auth satisfies req and returns the receipt.
	//
	// Rejections are returned as *types.VerificationError. Transport
	// failures wrap types.ErrNetwork, deadlines wrap types.ErrTimeout.
	// A canceled ctx returns ctx.Err().
	Verify(ctx context.Context, auth *types.PaymentAuthorization, req *types.PaymentRequirement) (*types.PaymentReceipt, error)

	// Supported lists the networks this facilitator can verify on.
	Supported(ctx context.Context) (*types.SupportedResponse, error)
}
