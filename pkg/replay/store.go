// Package replay keeps the challenges a gate has issued and the nonces that
// have already paid for a request. It is the only state shared between
// concurrent requests to a gate.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// ErrUnknownNonce is returned for a nonce this gate never issued, or one whose
// retention window has passed
var ErrUnknownNonce = errors.New("unknown nonce")

// DefaultGrace is how long a challenge is retained after it expires, so that a
// late proof is reported as expired instead of unknown
const DefaultGrace = 10 * time.Minute

// Store records issued challenges and consumed nonces.
//
// Consume is an atomic check-and-set: of any number of concurrent calls for
// the same nonce exactly one returns nil, the rest return types.ErrReplay.
type Store interface {
	// Issue records a freshly minted challenge.
	Issue(ctx context.Context, req *types.PaymentRequirement) error

	// Lookup returns the challenge issued for nonce. It fails with
	// types.ErrReplay once the nonce is consumed and ErrUnknownNonce if it
	// was never issued.
	Lookup(ctx context.Context, nonce string) (*types.PaymentRequirement, error)

	// Consume marks nonce as spent.
	Consume(ctx context.Context, nonce string) error
}

// retention is how long a challenge stays in a store
func retention(req *types.PaymentRequirement, grace time.Duration, now time.Time) time.Duration {
	return req.ExpiresAt.Add(grace).Sub(now)
}
