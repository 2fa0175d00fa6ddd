package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RouterConfig is fixed for the lifetime of a Router.
type RouterConfig struct {
	TrustedSigner common.Address
	Scheme        SigningScheme
	Factories     map[AssetKind]Factory
}

// Router gates collection deployments behind the trusted signer's authorization and consumes each
// authorization's nonce at most once, across all kinds.
type Router struct {
	trustedSigner common.Address
	scheme        SigningScheme
	factories     map[AssetKind]Factory
	nonces        NonceRegistry
	observers     []Observer
	locks         *nonceLocks
	log           *Logger
	now           func() time.Time
}

func NewRouter(config RouterConfig, nonces NonceRegistry, log *Logger, observers ...Observer) (*Router, error) {
	if config.TrustedSigner == ZERO_ADDRESS {
		return nil, errors.New("trusted signer must be a non-zero address")
	}
	if nonces == nil {
		return nil, errors.New("nonce registry must be set")
	}
	if log == nil {
		log = NewNopLogger()
	}
	scheme := config.Scheme
	if scheme == "" {
		scheme = KindBoundScheme
	}
	if _, err := ParseSigningScheme(string(scheme)); err != nil {
		return nil, err
	}

	factories := make(map[AssetKind]Factory, len(knownAssetKinds))
	for _, kind := range knownAssetKinds {
		factory, ok := config.Factories[kind]
		if !ok || factory == nil {
			return nil, fmt.Errorf("no factory configured for %s", kind)
		}
		if factory.Kind() != kind {
			return nil, fmt.Errorf("factory at %s creates %s collections, configured for %s", factory.Address().Hex(), factory.Kind(), kind)
		}
		factories[kind] = factory
	}
	for kind := range config.Factories {
		if _, ok := factories[kind]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAssetKind, kind)
		}
	}

	return &Router{
		trustedSigner: config.TrustedSigner,
		scheme:        scheme,
		factories:     factories,
		nonces:        nonces,
		observers:     observers,
		locks:         newNonceLocks(),
		log:           log.With("service", "Router"),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

func (router *Router) TrustedSigner() common.Address {
	return router.trustedSigner
}

func (router *Router) Scheme() SigningScheme {
	return router.scheme
}

func (router *Router) Factory(kind AssetKind) (Factory, bool) {
	factory, ok := router.factories[kind]
	return factory, ok
}

func (router *Router) NonceConsumed(ctx context.Context, nonce []byte) (bool, error) {
	return router.nonces.IsConsumed(ctx, nonce)
}

// Authenticate checks that request carries the trusted signer's authorization for its kind and nonce.
func (router *Router) Authenticate(request DeployRequest) error {
	digest := AuthorizationHash(router.scheme, request.Kind, request.Nonce)
	signer, err := RecoverSigner(digest, request.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != router.trustedSigner {
		return ErrInvalidSignature
	}
	return nil
}

// Deploy creates the requested collection. Checks run in a fixed order: owners, kind, signature,
// nonce. Any failure leaves the nonce registry and every factory as they were.
func (router *Router) Deploy(ctx context.Context, request DeployRequest) (CreationRecord, error) {
	record, err := router.deploy(ctx, request)
	if err != nil {
		countDeployRejected(err)
		router.log.Info("deployment rejected", "kind", request.Kind.String(), "nonce", NonceKey(request.Nonce), "error", err.Error())
		return CreationRecord{}, err
	}
	countDeployOK(record.Kind)

	for _, observer := range router.observers {
		if observeErr := observer.Observe(ctx, record); observeErr != nil {
			countObserverError()
			router.log.Error("creation record delivery failed", "event", record.Event, "asset", record.Asset.Hex(), "error", observeErr.Error())
		}
	}

	return record, nil
}

func (router *Router) deploy(ctx context.Context, request DeployRequest) (CreationRecord, error) {
	if len(request.Owners) == 0 {
		return CreationRecord{}, ErrInvalidOwners
	}

	factory, ok := router.factories[request.Kind]
	if !ok {
		return CreationRecord{}, fmt.Errorf("%w: %s", ErrUnknownAssetKind, request.Kind)
	}

	if err := router.Authenticate(request); err != nil {
		return CreationRecord{}, err
	}

	unlock := router.locks.Lock(NonceKey(request.Nonce))
	defer unlock()

	reservation, err := router.nonces.Reserve(ctx, request.Nonce)
	if err != nil {
		if errors.Is(err, ErrNonceAlreadyUsed) {
			return CreationRecord{}, ErrNonceAlreadyUsed
		}
		return CreationRecord{}, fmt.Errorf("failed to reserve nonce: %w", err)
	}

	params := request.CollectionParams()
	asset, createErr := factory.Create(ctx, params)
	if createErr != nil {
		countRollback()
		if rollbackErr := reservation.Rollback(context.WithoutCancel(ctx)); rollbackErr != nil {
			router.log.Error("nonce rollback failed", "nonce", NonceKey(request.Nonce), "error", rollbackErr.Error())
		}
		return CreationRecord{}, fmt.Errorf("%w: %w", ErrAssetCreation, createErr)
	}

	// The collection exists at this point, so a caller that goes away must not stop the commit.
	settleCtx := context.WithoutCancel(ctx)
	if commitErr := reservation.Commit(settleCtx); commitErr != nil {
		countRollback()
		if discardErr := factory.Discard(settleCtx, asset); discardErr != nil {
			router.log.Error("collection discard failed", "asset", asset.Hex(), "error", discardErr.Error())
		}
		if rollbackErr := reservation.Rollback(settleCtx); rollbackErr != nil {
			router.log.Error("nonce rollback failed", "nonce", NonceKey(request.Nonce), "error", rollbackErr.Error())
		}
		return CreationRecord{}, fmt.Errorf("failed to commit nonce: %w", commitErr)
	}

	return CreationRecord{
		Event:     request.Kind.EventName(),
		Kind:      request.Kind,
		Asset:     asset,
		Factory:   factory.Address(),
		Nonce:     string(request.Nonce),
		Owners:    params.Owners,
		CreatedAt: router.now(),
	}, nil
}

// errorCode is the client facing name of a deploy failure.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOwners):
		return "InvalidOwners"
	case errors.Is(err, ErrUnknownAssetKind):
		return "UnknownAssetKind"
	case errors.Is(err, ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, ErrNonceAlreadyUsed):
		return "NonceAlreadyUsed"
	default:
		return "Internal"
	}
}
