package server

import (
	"fmt"
	"time"

	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// DefaultTTL is how long an issued challenge stays payable
const DefaultTTL = 5 * time.Minute

// PriceTag is what one call to a protected route costs
type PriceTag struct {
	Amount         uint64 // smallest currency unit
	PayTo          string
	Network        types.Network
	FacilitatorURL string
	Description    string
	TTL            time.Duration
}

// Validate checks the price tag can produce valid challenges
func (p *PriceTag) Validate() error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: price amount must be positive", types.ErrConfig)
	}
	if p.PayTo == "" {
		return fmt.Errorf("%w: price payTo is required", types.ErrConfig)
	}
	if !network.IsKnown(p.Network) {
		return fmt.Errorf("%w: unknown network %q", types.ErrConfig, p.Network)
	}
	if p.TTL <= 0 {
		return fmt.Errorf("%w: challenge ttl must be positive", types.ErrConfig)
	}
	return nil
}

// requirement mints the challenge for one unpaid request
func (p *PriceTag) requirement(nonce string, now time.Time) *types.PaymentRequirement {
	return &types.PaymentRequirement{
		Amount:         p.Amount,
		PayTo:          p.PayTo,
		Network:        p.Network,
		FacilitatorURL: p.FacilitatorURL,
		Description:    p.Description,
		Nonce:          nonce,
		ExpiresAt:      now.Add(p.TTL).UTC().Truncate(time.Second),
	}
}

// PriceTagBuilder provides a fluent API for creating price tags
type PriceTagBuilder struct {
	tag PriceTag
}

// NewPriceTagBuilder creates a new builder
func NewPriceTagBuilder() *PriceTagBuilder {
	return &PriceTagBuilder{tag: PriceTag{TTL: DefaultTTL}}
}

// Network sets the blockchain network
func (b *PriceTagBuilder) Network(net types.Network) *PriceTagBuilder {
	b.tag.Network = net
	return b
}

// Amount sets the price in smallest units
func (b *PriceTagBuilder) Amount(amount uint64) *PriceTagBuilder {
	b.tag.Amount = amount
	return b
}

// PayTo sets the recipient address
func (b *PriceTagBuilder) PayTo(addr string) *PriceTagBuilder {
	b.tag.PayTo = addr
	return b
}

// FacilitatorURL sets the facilitator advertised in challenges
func (b *PriceTagBuilder) FacilitatorURL(url string) *PriceTagBuilder {
	b.tag.FacilitatorURL = url
	return b
}

// Description sets the human readable description of what is being paid for
func (b *PriceTagBuilder) Description(desc string) *PriceTagBuilder {
	b.tag.Description = desc
	return b
}

// TTL sets how long each challenge stays payable
func (b *PriceTagBuilder) TTL(ttl time.Duration) *PriceTagBuilder {
	b.tag.TTL = ttl
	return b
}

// Build validates and returns the price tag
func (b *PriceTagBuilder) Build() (*PriceTag, error) {
	tag := b.tag
	if err := tag.Validate(); err != nil {
		return nil, err
	}
	return &tag, nil
}
