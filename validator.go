package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner returns the address whose key produced signature over digest. It only fails for
// signatures that cannot be parsed; a well formed signature by any key recovers to that key's address,
// and deciding whether that address is authorized is up to the caller.
func RecoverSigner(digest, signature []byte) (common.Address, error) {
	if len(digest) != common.HashLength {
		return common.Address{}, fmt.Errorf("%w: digest must be %d bytes", ErrMalformedSignature, common.HashLength)
	}
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(signature))
	}

	// Work on a copy so the caller's request is never modified.
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, signature)

	// Normalize signature so that 27 -> 0, 28 -> 1.
	// For more context: https://github.com/ethereum/go-ethereum/issues/2053
	if normalized[64] == 27 || normalized[64] == 28 {
		normalized[64] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: signature values out of range", ErrMalformedSignature)
	}

	signerPubkey, recoverErr := crypto.SigToPub(digest, normalized)
	if recoverErr != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, recoverErr)
	}

	return crypto.PubkeyToAddress(*signerPubkey), nil
}
