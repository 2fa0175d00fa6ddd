package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var errReservationSettled = errors.New("nonce reservation already settled")

// NonceKey is the storage key of a nonce. Nonces are opaque bytes, so they are hex encoded before
// they reach any backend.
func NonceKey(nonce []byte) string {
	return hex.EncodeToString(nonce)
}

// TryConsume reserves and immediately commits nonce. It returns false when the nonce was already used.
func TryConsume(ctx context.Context, registry NonceRegistry, nonce []byte) (bool, error) {
	reservation, err := registry.Reserve(ctx, nonce)
	if errors.Is(err, ErrNonceAlreadyUsed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := reservation.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// NonceRegistryFromEnv opens the registry named by ROUTER_NONCE_STORE.
func NonceRegistryFromEnv(ctx context.Context, log *Logger) (NonceRegistry, string, error) {
	store := strings.ToLower(strings.TrimSpace(getEnv("ROUTER_NONCE_STORE", "memory")))
	var registry NonceRegistry
	var err error
	switch store {
	case "memory":
		registry = NewMemoryNonceRegistry()
	case "sqlite":
		registry, err = OpenSQLiteNonceRegistry(getEnv("ROUTER_SQLITE_PATH", "router.db"))
	case "postgres":
		dsn := getEnv("ROUTER_DATABASE_URL", "")
		if dsn == "" {
			return nil, store, errors.New("ROUTER_DATABASE_URL must be set for the postgres nonce store")
		}
		registry, err = OpenPostgresNonceRegistry(ctx, dsn)
	case "redis":
		addr := getEnv("ROUTER_REDIS_ADDR", "")
		if addr == "" {
			return nil, store, errors.New("ROUTER_REDIS_ADDR must be set for the redis nonce store")
		}
		registry, err = OpenRedisNonceRegistry(ctx, addr, getEnv("ROUTER_REDIS_KEY_PREFIX", "nft-router:nonce:"))
	default:
		return nil, store, fmt.Errorf("unknown nonce store: %s", store)
	}
	if err != nil {
		return nil, store, fmt.Errorf("failed to open %s nonce store: %w", store, err)
	}
	log.Info("nonce store ready", "store", store)
	return registry, store, nil
}

type nonceState uint8

const (
	nonceReserved nonceState = iota + 1
	nonceConsumed
)

// MemoryNonceRegistry keeps the ledger in process memory. It is the registry used by tests and by
// single-process deployments that do not need the ledger to survive a restart.
type MemoryNonceRegistry struct {
	mu     sync.Mutex
	nonces map[string]nonceState
}

func NewMemoryNonceRegistry() *MemoryNonceRegistry {
	return &MemoryNonceRegistry{nonces: make(map[string]nonceState)}
}

func (registry *MemoryNonceRegistry) Reserve(ctx context.Context, nonce []byte) (NonceReservation, error) {
	key := NonceKey(nonce)

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.nonces[key]; exists {
		return nil, ErrNonceAlreadyUsed
	}
	registry.nonces[key] = nonceReserved
	return &memoryReservation{registry: registry, key: key}, nil
}

func (registry *MemoryNonceRegistry) IsConsumed(ctx context.Context, nonce []byte) (bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.nonces[NonceKey(nonce)] == nonceConsumed, nil
}

// Len is the number of consumed nonces.
func (registry *MemoryNonceRegistry) Len() int {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	consumed := 0
	for _, state := range registry.nonces {
		if state == nonceConsumed {
			consumed++
		}
	}
	return consumed
}

func (registry *MemoryNonceRegistry) Close() error {
	return nil
}

type memoryReservation struct {
	registry *MemoryNonceRegistry
	key      string
	settled  bool
}

func (reservation *memoryReservation) Commit(ctx context.Context) error {
	reservation.registry.mu.Lock()
	defer reservation.registry.mu.Unlock()
	if reservation.settled {
		return errReservationSettled
	}
	reservation.settled = true
	reservation.registry.nonces[reservation.key] = nonceConsumed
	return nil
}

func (reservation *memoryReservation) Rollback(ctx context.Context) error {
	reservation.registry.mu.Lock()
	defer reservation.registry.mu.Unlock()
	if reservation.settled {
		return errReservationSettled
	}
	reservation.settled = true
	delete(reservation.registry.nonces, reservation.key)
	return nil
}

// nonceLocks serializes work on the same nonce inside one process. Entries are reference counted and
// removed when the last holder unlocks.
type nonceLocks struct {
	mu    sync.Mutex
	locks map[string]*nonceLock
}

type nonceLock struct {
	mu      sync.Mutex
	holders int
}

func newNonceLocks() *nonceLocks {
	return &nonceLocks{locks: make(map[string]*nonceLock)}
}

func (locks *nonceLocks) Lock(key string) func() {
	locks.mu.Lock()
	lock, ok := locks.locks[key]
	if !ok {
		lock = &nonceLock{}
		locks.locks[key] = lock
	}
	lock.holders++
	locks.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		locks.mu.Lock()
		lock.holders--
		if lock.holders == 0 {
			delete(locks.locks, key)
		}
		locks.mu.Unlock()
	}
}
