// Package store persists bot wallets and the log of paid answers.
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// WalletRepository keeps one wallet per user. Save replaces any existing one.
type WalletRepository interface {
	Get(ctx context.Context, userID string) (*Wallet, error)
	Save(ctx context.Context, wallet *Wallet) error
	Delete(ctx context.Context, userID string) error
}

// ResponseLog records answers that were paid for
type ResponseLog interface {
	Record(ctx context.Context, resp *Response) error
}
