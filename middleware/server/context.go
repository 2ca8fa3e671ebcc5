package server

import (
	"context"

	"github.com/x402-rs/x402-ask/pkg/types"
)

type receiptKey struct{}

// WithReceipt attaches a verified receipt to ctx
func WithReceipt(ctx context.Context, receipt *types.PaymentReceipt) context.Context {
	return context.WithValue(ctx, receiptKey{}, receipt)
}

// ReceiptFromContext returns the receipt of the payment that admitted the
// request. Handlers behind Protect always find one.
func ReceiptFromContext(ctx context.Context) (*types.PaymentReceipt, bool) {
	receipt, ok := ctx.Value(receiptKey{}).(*types.PaymentReceipt)
	return receipt, ok
}
