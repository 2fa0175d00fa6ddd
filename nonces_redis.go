package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisNonceReserved = "reserved"
	redisNonceConsumed = "consumed"
)

// Deletes the key only while it still holds the reservation marker, so a rollback can never erase a
// consumed nonce.
var redisReleaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisNonceRegistry stores the ledger as one key per nonce. Reservation is a SETNX of a marker
// value; a nonce reserved by another process reads as used.
type RedisNonceRegistry struct {
	rdb    *goredis.Client
	prefix string
}

func OpenRedisNonceRegistry(ctx context.Context, addr, prefix string) (*RedisNonceRegistry, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisNonceRegistry(rdb, prefix), nil
}

func NewRedisNonceRegistry(rdb *goredis.Client, prefix string) *RedisNonceRegistry {
	return &RedisNonceRegistry{rdb: rdb, prefix: prefix}
}

func (registry *RedisNonceRegistry) key(nonce []byte) string {
	return registry.prefix + NonceKey(nonce)
}

func (registry *RedisNonceRegistry) Reserve(ctx context.Context, nonce []byte) (NonceReservation, error) {
	key := registry.key(nonce)
	reserved, err := registry.rdb.SetNX(ctx, key, redisNonceReserved, 0).Result()
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrNonceAlreadyUsed
	}
	return &redisReservation{rdb: registry.rdb, key: key}, nil
}

func (registry *RedisNonceRegistry) IsConsumed(ctx context.Context, nonce []byte) (bool, error) {
	value, err := registry.rdb.Get(ctx, registry.key(nonce)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == redisNonceConsumed, nil
}

func (registry *RedisNonceRegistry) Close() error {
	return registry.rdb.Close()
}

type redisReservation struct {
	rdb     *goredis.Client
	key     string
	settled bool
}

func (reservation *redisReservation) Commit(ctx context.Context) error {
	if reservation.settled {
		return errReservationSettled
	}
	if err := reservation.rdb.Set(ctx, reservation.key, redisNonceConsumed, 0).Err(); err != nil {
		return err
	}
	reservation.settled = true
	return nil
}

func (reservation *redisReservation) Rollback(ctx context.Context) error {
	if reservation.settled {
		return errReservationSettled
	}
	reservation.settled = true
	return redisReleaseScript.Run(ctx, reservation.rdb, []string{reservation.key}, redisNonceReserved).Err()
}
