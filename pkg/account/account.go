// Package account holds the key material a payer signs payment
// authorizations with. EVM networks use secp256k1 keys with Ethereum
// addresses; Solana networks use ed25519 keys with base58 addresses.
package account

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

// Account is a keyholder able to sign payment authorizations.
// The private key never leaves the Account except through PrivateKey.
type Account struct {
	info    network.NetworkInfo
	address string

	evmKey    *ecdsa.PrivateKey
	solanaKey solana.PrivateKey
}

// Generate creates an account with a fresh private key for the network
func Generate(net types.Network) (*Account, error) {
	info, err := network.GetNetworkInfo(net)
	if err != nil {
		return nil, err
	}

	switch info.Family {
	case network.FamilyEVM:
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		return newEVMAccount(info, key), nil
	case network.FamilySolana:
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		return newSolanaAccount(info, key), nil
	default:
		return nil, fmt.Errorf("%w: unsupported family %s", types.ErrConfig, info.Family)
	}
}

// FromPrivateKey derives the account for an existing key.
// EVM keys are 32-byte hex (0x prefix optional); Solana keys are base58.
func FromPrivateKey(key string, net types.Network) (*Account, error) {
	info, err := network.GetNetworkInfo(net)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)

	switch info.Family {
	case network.FamilyEVM:
		keyHex := strings.TrimPrefix(key, "0x")
		if len(keyHex) != 64 {
			return nil, fmt.Errorf("%w: expected 32-byte hex key, got %d characters", types.ErrInvalidKey, len(keyHex))
		}
		privateKey, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidKey, err)
		}
		return newEVMAccount(info, privateKey), nil
	case network.FamilySolana:
		privateKey, err := solana.PrivateKeyFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidKey, err)
		}
		if len(privateKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: expected %d-byte key, got %d", types.ErrInvalidKey, ed25519.PrivateKeySize, len(privateKey))
		}
		// the trailing half must be the public key of the leading seed
		if !bytes.Equal(ed25519.NewKeyFromSeed(privateKey[:ed25519.SeedSize]), privateKey) {
			return nil, fmt.Errorf("%w: public half does not match seed", types.ErrInvalidKey)
		}
		return newSolanaAccount(info, privateKey), nil
	default:
		return nil, fmt.Errorf("%w: unsupported family %s", types.ErrConfig, info.Family)
	}
}

func newEVMAccount(info network.NetworkInfo, key *ecdsa.PrivateKey) *Account {
	return &Account{
		info:    info,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		evmKey:  key,
	}
}

func newSolanaAccount(info network.NetworkInfo, key solana.PrivateKey) *Account {
	return &Account{
		info:      info,
		address:   key.PublicKey().String(),
		solanaKey: key,
	}
}

// Address returns the account address in the network's canonical encoding
func (a *Account) Address() string {
	return a.address
}

// Network returns the network the account was created for
func (a *Account) Network() types.Network {
	return a.info.Network
}

// Family returns the chain family of the account
func (a *Account) Family() network.Family {
	return a.info.Family
}

// PrivateKey exports the key in the encoding FromPrivateKey accepts
func (a *Account) PrivateKey() string {
	if a.evmKey != nil {
		return "0x" + hex.EncodeToString(crypto.FromECDSA(a.evmKey))
	}
	return a.solanaKey.String()
}

// Sign returns a deterministic signature over message.
// EVM accounts sign keccak256(message) and return r||s||v with v in {27, 28};
// Solana accounts return the 64-byte ed25519 signature of message.
func (a *Account) Sign(message []byte) ([]byte, error) {
	if a.evmKey != nil {
		signature, err := crypto.Sign(crypto.Keccak256(message), a.evmKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
		if signature[64] < 27 {
			signature[64] += 27
		}
		return signature, nil
	}

	signature, err := a.solanaKey.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return signature[:], nil
}

// Verify checks that signature over message was produced by the key behind
// address on the given network
func Verify(net types.Network, address string, message, signature []byte) error {
	info, err := network.GetNetworkInfo(net)
	if err != nil {
		return err
	}

	switch info.Family {
	case network.FamilyEVM:
		return verifyEVM(address, message, signature)
	case network.FamilySolana:
		return verifySolana(address, message, signature)
	default:
		return fmt.Errorf("%w: unsupported family %s", types.ErrConfig, info.Family)
	}
}

func verifyEVM(address string, message, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: invalid signature length: %d", types.ErrInvalidSignature, len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(crypto.Keccak256(message), sig)
	if err != nil {
		return fmt.Errorf("%w: failed to recover pubkey: %v", types.ErrInvalidSignature, err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	if !strings.EqualFold(recovered.Hex(), address) {
		return fmt.Errorf("%w: signer %s does not match %s", types.ErrInvalidSignature, recovered.Hex(), address)
	}
	return nil
}

func verifySolana(address string, message, signature []byte) error {
	pubKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return fmt.Errorf("%w: invalid address: %v", types.ErrInvalidSignature, err)
	}
	if len(signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: invalid signature length: %d", types.ErrInvalidSignature, len(signature))
	}

	var sig solana.Signature
	copy(sig[:], signature)
	if !sig.Verify(pubKey, message) {
		return fmt.Errorf("%w: signature does not verify for %s", types.ErrInvalidSignature, address)
	}
	return nil
}
