package types

import (
	"fmt"
	"time"
)

// Network identifies the chain a payment is made on
type Network string

const (
	NetworkTestnet       Network = "testnet"
	NetworkMainnet       Network = "mainnet"
	NetworkBaseSepolia   Network = "base-sepolia"
	NetworkBase          Network = "base"
	NetworkAvalancheFuji Network = "avalanche-fuji"
	NetworkAvalanche     Network = "avalanche"
	NetworkPolygonAmoy   Network = "polygon-amoy"
	NetworkPolygon       Network = "polygon"
	NetworkSolana        Network = "solana"
	NetworkSolanaDevnet  Network = "solana-devnet"
)

// Protocol headers
const (
	// HeaderPayment carries the encoded PaymentAuthorization on a retried request
	HeaderPayment = "X-Payment"

	// HeaderPaymentResponse carries the encoded PaymentReceipt on a fulfilled response
	HeaderPaymentResponse = "X-Payment-Response"
)

// PaymentRequirement describes what one call to a protected resource costs.
// It is the body of a 402 Payment Required response.
type PaymentRequirement struct {
	Amount         uint64    `json:"amount"` // smallest currency unit
	PayTo          string    `json:"payTo"`
	Network        Network   `json:"network"`
	FacilitatorURL string    `json:"facilitatorUrl"`
	Description    string    `json:"description"`
	Nonce          string    `json:"nonce"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Validate checks the structural invariants of a requirement
func (r *PaymentRequirement) Validate() error {
	switch {
	case r.Amount == 0:
		return fmt.Errorf("%w: amount must be positive", ErrMalformedPayment)
	case r.PayTo == "":
		return fmt.Errorf("%w: missing payTo", ErrMalformedPayment)
	case r.Network == "":
		return fmt.Errorf("%w: missing network", ErrMalformedPayment)
	case r.Nonce == "":
		return fmt.Errorf("%w: missing nonce", ErrMalformedPayment)
	case r.ExpiresAt.IsZero():
		return fmt.Errorf("%w: missing expiresAt", ErrMalformedPayment)
	}
	return nil
}

// Expired reports whether the requirement is no longer payable at now
func (r *PaymentRequirement) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// PaymentAuthorization is a payer's signed intent to satisfy one requirement.
// The signature covers (payer, amount, payee, nonce, network); the payee is
// taken from the requirement the nonce was issued for.
type PaymentAuthorization struct {
	Payer     string  `json:"payer"`
	Amount    uint64  `json:"amount"`
	Nonce     string  `json:"nonce"`
	Network   Network `json:"network"`
	Signature string  `json:"signature"` // 0x-prefixed hex
}

// PaymentReceipt is the verified outcome of a payment
type PaymentReceipt struct {
	Transaction string  `json:"transaction"`
	Payer       string  `json:"payer"`
	Payee       string  `json:"payee,omitempty"`
	Network     Network `json:"network"`
	Verified    bool    `json:"verified"`
}

// VerifyRequest is the request to verify a payment
type VerifyRequest struct {
	Authorization PaymentAuthorization `json:"authorization"`
	Requirement   PaymentRequirement   `json:"requirement"`
}

// VerifyResponse is the response from payment verification
type VerifyResponse struct {
	IsValid bool            `json:"isValid"`
	Reason  Reason          `json:"reason,omitempty"`
	Message string          `json:"message,omitempty"`
	Payer   string          `json:"payer,omitempty"`
	Receipt *PaymentReceipt `json:"receipt,omitempty"`
}

// NewValidResponse creates a successful verification response
func NewValidResponse(receipt *PaymentReceipt) VerifyResponse {
	return VerifyResponse{
		IsValid: true,
		Payer:   receipt.Payer,
		Receipt: receipt,
	}
}

// NewInvalidResponse creates a failed verification response
func NewInvalidResponse(err *VerificationError) VerifyResponse {
	return VerifyResponse{
		IsValid: false,
		Reason:  err.Reason,
		Message: err.Message,
		Payer:   err.Payer,
	}
}

// SupportedNetwork is one network a facilitator can verify payments on
type SupportedNetwork struct {
	Network     Network `json:"network"`
	Family      string  `json:"family"`
	TokenSymbol string  `json:"tokenSymbol"`
}

// SupportedResponse lists all networks a facilitator supports
type SupportedResponse struct {
	Networks []SupportedNetwork `json:"networks"`
}

// ErrorResponse is the body of every non-402 protocol failure
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason Reason `json:"reason,omitempty"`
}
