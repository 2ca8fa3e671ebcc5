package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EncodeRequirement renders the 402 response body
func EncodeRequirement(req *PaymentRequirement) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requirement: %w", err)
	}
	return data, nil
}

// DecodeRequirement parses a 402 response body
func DecodeRequirement(data []byte) (*PaymentRequirement, error) {
	var req PaymentRequirement
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: invalid requirement: %v", ErrMalformedPayment, err)
	}
	return &req, nil
}

// EncodeAuthorization renders the value of the X-Payment header
func EncodeAuthorization(auth *PaymentAuthorization) (string, error) {
	return encodeHeader(auth)
}

// DecodeAuthorization parses the value of the X-Payment header
func DecodeAuthorization(value string) (*PaymentAuthorization, error) {
	var auth PaymentAuthorization
	if err := decodeHeader(value, &auth); err != nil {
		return nil, err
	}
	if auth.Payer == "" || auth.Nonce == "" || auth.Signature == "" {
		return nil, fmt.Errorf("%w: incomplete authorization", ErrMalformedPayment)
	}
	return &auth, nil
}

// EncodeReceipt renders the value of the X-Payment-Response header
func EncodeReceipt(receipt *PaymentReceipt) (string, error) {
	return encodeHeader(receipt)
}

// DecodeReceipt parses the value of the X-Payment-Response header
func DecodeReceipt(value string) (*PaymentReceipt, error) {
	var receipt PaymentReceipt
	if err := decodeHeader(value, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func encodeHeader(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decodeHeader(value string, v any) error {
	if value == "" {
		return fmt.Errorf("%w: empty header", ErrMalformedPayment)
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return fmt.Errorf("%w: invalid base64: %v", ErrMalformedPayment, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", ErrMalformedPayment, err)
	}
	return nil
}
