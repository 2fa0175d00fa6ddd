package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"os"

	ethereum_common "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// GatewayAuthorizer is the off-chain side of the protocol: it holds the gateway key and signs deploy
// authorizations that a Router configured with the same address will accept.
type GatewayAuthorizer struct {
	Scheme     SigningScheme
	privateKey *ecdsa.PrivateKey
	address    ethereum_common.Address
}

func NewGatewayAuthorizer(privateKey *ecdsa.PrivateKey, scheme SigningScheme) (*GatewayAuthorizer, error) {
	if privateKey == nil {
		return nil, errors.New("gateway private key must be set")
	}
	return &GatewayAuthorizer{
		Scheme:     scheme,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// ConfigureFromEnv loads the signing key (see SigningKeyFromEnv) and the signing scheme from
// ROUTER_SIGNING_SCHEME.
func (authorizer *GatewayAuthorizer) ConfigureFromEnv(ctx context.Context) error {
	scheme, err := ParseSigningScheme(os.Getenv("ROUTER_SIGNING_SCHEME"))
	if err != nil {
		return err
	}
	authorizer.Scheme = scheme

	authorizer.privateKey, err = SigningKeyFromEnv(ctx)
	if err != nil {
		return err
	}
	authorizer.address = crypto.PubkeyToAddress(authorizer.privateKey.PublicKey)

	return nil
}

func (authorizer *GatewayAuthorizer) Address() ethereum_common.Address {
	return authorizer.address
}

func (authorizer *GatewayAuthorizer) AuthorizationHash(kind AssetKind, nonce []byte) []byte {
	return AuthorizationHash(authorizer.Scheme, kind, nonce)
}

// Authorize signs the authorization for (kind, nonce). The v byte is 27/28, matching what wallet
// signMessage implementations return.
func (authorizer *GatewayAuthorizer) Authorize(kind AssetKind, nonce []byte) ([]byte, error) {
	if authorizer.privateKey == nil {
		return nil, errors.New("gateway authorizer is not configured")
	}
	return SignRawMessage(authorizer.AuthorizationHash(kind, nonce), authorizer.privateKey, false)
}
