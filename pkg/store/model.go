package store

import (
	"time"

	"github.com/x402-rs/x402-ask/pkg/types"
)

// Wallet is a bot user's custodial account
type Wallet struct {
	UserID     string        `bson:"userId"`
	Address    string        `bson:"address"`
	PrivateKey string        `bson:"privateKey"`
	Network    types.Network `bson:"network"`
	CreatedAt  time.Time     `bson:"createdAt"`
	ImportedAt *time.Time    `bson:"importedAt,omitempty"`
}

// Payment is the part of a receipt kept alongside an answer
type Payment struct {
	Transaction string        `bson:"transaction"`
	Payer       string        `bson:"payer"`
	Network     types.Network `bson:"network"`
	Amount      uint64        `bson:"amount"`
}

// Response is one paid question and the answer it bought
type Response struct {
	UserID    string    `bson:"userId,omitempty"`
	Question  string    `bson:"question"`
	Answer    string    `bson:"response"`
	Payment   Payment   `bson:"payment"`
	Timestamp time.Time `bson:"timestamp"`
}
