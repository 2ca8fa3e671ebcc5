package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig marks a bad or missing setup value. Fatal at startup.
	ErrConfig = errors.New("config error")

	// ErrInvalidKey marks malformed key material
	ErrInvalidKey = errors.New("invalid key")

	// ErrPaymentRequired is the expected outcome of an unpaid call
	ErrPaymentRequired = errors.New("payment required")

	// ErrReplay marks a nonce that was already consumed
	ErrReplay = errors.New("nonce already consumed")

	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrExpired            = errors.New("payment expired")
	ErrMalformedPayment   = errors.New("malformed payment")

	// ErrNetwork marks an unreachable facilitator or transport
	ErrNetwork = errors.New("network error")

	// ErrTimeout marks a facilitator or transport call that ran out of time
	ErrTimeout = errors.New("timeout")

	// ErrUnexpectedChallenge marks a 402 challenge the client refuses to pay
	ErrUnexpectedChallenge = errors.New("unexpected payment challenge")
)

// Reason is the machine readable cause of a failed verification
type Reason string

const (
	ReasonInvalidSignature   Reason = "invalid_signature"
	ReasonInsufficientAmount Reason = "insufficient_amount"
	ReasonExpired            Reason = "expired"
	ReasonNetworkMismatch    Reason = "network_mismatch"
	ReasonNonceMismatch      Reason = "nonce_mismatch"
	ReasonUnsupportedNetwork Reason = "unsupported_network"
	ReasonMalformed          Reason = "malformed_payload"
)

// VerificationError is a verification failure reported by a facilitator.
// It is never retried automatically.
type VerificationError struct {
	Reason  Reason
	Message string
	Payer   string
}

func (e *VerificationError) Error() string {
	if e.Payer != "" {
		return fmt.Sprintf("%s: %s (payer: %s)", e.Reason, e.Message, e.Payer)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap maps the reason onto the sentinel taxonomy so callers can use errors.Is
func (e *VerificationError) Unwrap() error {
	switch e.Reason {
	case ReasonInvalidSignature:
		return ErrInvalidSignature
	case ReasonInsufficientAmount:
		return ErrInsufficientAmount
	case ReasonExpired:
		return ErrExpired
	default:
		return ErrMalformedPayment
	}
}

// Error constructors

func NewInvalidSignatureError(payer, message string) *VerificationError {
	return &VerificationError{
		Reason:  ReasonInvalidSignature,
		Message: message,
		Payer:   payer,
	}
}

func NewInsufficientAmountError(payer string, got, want uint64) *VerificationError {
	return &VerificationError{
		Reason:  ReasonInsufficientAmount,
		Message: fmt.Sprintf("authorized %d, required %d", got, want),
		Payer:   payer,
	}
}

func NewExpiredError(payer, message string) *VerificationError {
	return &VerificationError{
		Reason:  ReasonExpired,
		Message: message,
		Payer:   payer,
	}
}

func NewNetworkMismatchError(expected, actual Network, payer string) *VerificationError {
	return &VerificationError{
		Reason:  ReasonNetworkMismatch,
		Message: fmt.Sprintf("expected %s, got %s", expected, actual),
		Payer:   payer,
	}
}

func NewNonceMismatchError(payer string) *VerificationError {
	return &VerificationError{
		Reason:  ReasonNonceMismatch,
		Message: "authorization nonce does not match requirement",
		Payer:   payer,
	}
}

func NewUnsupportedNetworkError(network Network) *VerificationError {
	return &VerificationError{
		Reason:  ReasonUnsupportedNetwork,
		Message: fmt.Sprintf("network %s not supported by this facilitator", network),
	}
}

func NewMalformedError(message string) *VerificationError {
	return &VerificationError{
		Reason:  ReasonMalformed,
		Message: message,
	}
}

// PaymentError is the paying client's summary failure once its single retry
// is spent. Err carries the root cause when one can be derived.
type PaymentError struct {
	StatusCode int
	Body       []byte
	Err        error
}

// NewPaymentError derives the root cause from the status code and body of
// the final response
func NewPaymentError(statusCode int, body []byte) *PaymentError {
	pe := &PaymentError{StatusCode: statusCode, Body: body}
	switch statusCode {
	case http.StatusPaymentRequired:
		pe.Err = ErrPaymentRequired
	case http.StatusBadGateway:
		pe.Err = ErrNetwork
	case http.StatusGatewayTimeout:
		pe.Err = ErrTimeout
	case http.StatusBadRequest:
		var resp ErrorResponse
		if err := json.Unmarshal(body, &resp); err == nil && resp.Reason != "" {
			pe.Err = &VerificationError{Reason: resp.Reason, Message: resp.Error}
		} else {
			pe.Err = ErrMalformedPayment
		}
	}
	return pe
}

func (e *PaymentError) Error() string {
	body := string(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("payment failed: status %d: %v: %s", e.StatusCode, e.Err, body)
	}
	return fmt.Sprintf("payment failed: status %d: %s", e.StatusCode, body)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
