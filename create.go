package main

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningScheme selects which request fields the gateway signature covers. A router applies a single
// scheme to every request it sees.
type SigningScheme string

const (
	// KindBoundScheme signs keccak256(uint8(kind) || nonce). A signature issued for one kind cannot
	// authorize a deployment of the other kind.
	KindBoundScheme SigningScheme = "kind-bound"
	// LegacyScheme signs keccak256(nonce), as the first router deployments did. The kind is chosen by
	// the caller and is not authenticated.
	LegacyScheme SigningScheme = "legacy"
)

func ParseSigningScheme(raw string) (SigningScheme, error) {
	switch SigningScheme(strings.ToLower(strings.TrimSpace(raw))) {
	case "", KindBoundScheme:
		return KindBoundScheme, nil
	case LegacyScheme:
		return LegacyScheme, nil
	default:
		return "", fmt.Errorf("unknown signing scheme: %s", raw)
	}
}

// AuthorizationPayload is the packed encoding of the signed fields. The kind, when present, is a
// single fixed-width byte ahead of the nonce so the encoding has exactly one parse.
func AuthorizationPayload(scheme SigningScheme, kind AssetKind, nonce []byte) []byte {
	if scheme == LegacyScheme {
		payload := make([]byte, len(nonce))
		copy(payload, nonce)
		return payload
	}
	payload := make([]byte, 0, len(nonce)+1)
	payload = append(payload, byte(kind))
	return append(payload, nonce...)
}

// AuthorizationHash is the digest the gateway signs: the EIP-191 personal message hash of
// keccak256(AuthorizationPayload(...)). Wallet tooling produces it with
// signMessage(arrayify(solidityKeccak256(...))).
func AuthorizationHash(scheme SigningScheme, kind AssetKind, nonce []byte) []byte {
	payloadHash := crypto.Keccak256(AuthorizationPayload(scheme, kind, nonce))
	return accounts.TextHash(payloadHash)
}
