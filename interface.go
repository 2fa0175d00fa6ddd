package main

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Factory creates collections of one asset kind.
type Factory interface {
	Kind() AssetKind
	Address() common.Address
	Create(ctx context.Context, params CollectionParams) (common.Address, error)
	// Discard undoes a Create whose deployment did not commit.
	Discard(ctx context.Context, asset common.Address) error
}

// NonceRegistry is the replay ledger. Reserve is an atomic check-and-set: it fails with
// ErrNonceAlreadyUsed without changing anything when the nonce is consumed or held by another
// reservation.
type NonceRegistry interface {
	Reserve(ctx context.Context, nonce []byte) (NonceReservation, error)
	IsConsumed(ctx context.Context, nonce []byte) (bool, error)
	Close() error
}

// NonceReservation is settled exactly once, by Commit or by Rollback. A Commit that returns an error
// leaves the reservation open, and the caller releases it with Rollback.
type NonceReservation interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Observer receives a creation record for every committed deployment.
type Observer interface {
	Observe(ctx context.Context, record CreationRecord) error
}

type ObserverFunc func(ctx context.Context, record CreationRecord) error

func (f ObserverFunc) Observe(ctx context.Context, record CreationRecord) error {
	return f(ctx, record)
}
