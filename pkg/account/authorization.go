package account

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/x402-rs/x402-ask/pkg/network"
	"github.com/x402-rs/x402-ask/pkg/types"
)

const (
	domainName    = "x402-ask"
	domainVersion = "1"
)

var authorizationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
	},
	"PaymentAuthorization": []apitypes.Type{
		{Name: "payer", Type: "string"},
		{Name: "payee", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "string"},
		{Name: "network", Type: "string"},
	},
}

// AuthorizationMessage returns the EIP-712 preimage ("\x19\x01" || domainSeparator || structHash)
// binding payer, amount, payee, nonce and network. Non-EVM networks use chain id 0.
func AuthorizationMessage(auth *types.PaymentAuthorization, payee string) ([]byte, error) {
	info, err := network.GetNetworkInfo(auth.Network)
	if err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types:       authorizationTypes,
		PrimaryType: "PaymentAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: domainVersion,
			ChainId: math.NewHexOrDecimal256(int64(info.ChainID)),
		},
		Message: apitypes.TypedDataMessage{
			"payer":   auth.Payer,
			"payee":   payee,
			"amount":  strconv.FormatUint(auth.Amount, 10),
			"nonce":   auth.Nonce,
			"network": string(auth.Network),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	return []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash))), nil
}

// SignAuthorization builds an authorization for exactly the amount, payee,
// network and nonce of req and signs it with the account
func SignAuthorization(acct *Account, req *types.PaymentRequirement) (*types.PaymentAuthorization, error) {
	info, err := network.GetNetworkInfo(req.Network)
	if err != nil {
		return nil, err
	}
	if info.Family != acct.Family() {
		return nil, fmt.Errorf("%w: %s account cannot pay on %s", types.ErrUnexpectedChallenge, acct.Family(), req.Network)
	}

	auth := &types.PaymentAuthorization{
		Payer:   acct.Address(),
		Amount:  req.Amount,
		Nonce:   req.Nonce,
		Network: req.Network,
	}

	message, err := AuthorizationMessage(auth, req.PayTo)
	if err != nil {
		return nil, err
	}

	signature, err := acct.Sign(message)
	if err != nil {
		return nil, err
	}
	auth.Signature = hexutil.Encode(signature)

	return auth, nil
}

// VerifyAuthorization checks the authorization signature against its payer
// for the given payee
func VerifyAuthorization(auth *types.PaymentAuthorization, payee string) error {
	signature, err := hexutil.Decode(auth.Signature)
	if err != nil {
		return types.NewInvalidSignatureError(auth.Payer, fmt.Sprintf("invalid signature hex: %v", err))
	}

	message, err := AuthorizationMessage(auth, payee)
	if err != nil {
		return types.NewUnsupportedNetworkError(auth.Network)
	}

	if err := Verify(auth.Network, auth.Payer, message, signature); err != nil {
		return types.NewInvalidSignatureError(auth.Payer, err.Error())
	}
	return nil
}
