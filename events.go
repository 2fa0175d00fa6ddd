package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// LogObserver writes every creation record to the log.
type LogObserver struct {
	log *Logger
}

func NewLogObserver(log *Logger) *LogObserver {
	return &LogObserver{log: log.With("service", "CreationLog")}
}

func (observer *LogObserver) Observe(ctx context.Context, record CreationRecord) error {
	observer.log.Info(record.Event,
		"kind", record.Kind.String(),
		"asset", record.Asset.Hex(),
		"factory", record.Factory.Hex(),
		"nonce", record.Nonce,
		"owners", len(record.Owners),
	)
	return nil
}

// RedisObserver publishes creation records as JSON on a Redis channel so indexers can follow new
// collections without polling.
type RedisObserver struct {
	rdb     *goredis.Client
	channel string
}

func OpenRedisObserver(ctx context.Context, addr, channel string) (*RedisObserver, error) {
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

	return NewRedisObserver(rdb, channel), nil
}

func NewRedisObserver(rdb *goredis.Client, channel string) *RedisObserver {
	return &RedisObserver{rdb: rdb, channel: channel}
}

func (observer *RedisObserver) Observe(ctx context.Context, record CreationRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return observer.rdb.Publish(ctx, observer.channel, raw).Err()
}

// Subscribe delivers records published on the observer's channel to onRecord until ctx is done.
func (observer *RedisObserver) Subscribe(ctx context.Context, onRecord func(CreationRecord)) error {
	sub := observer.rdb.Subscribe(ctx, observer.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var record CreationRecord
			if err := json.Unmarshal([]byte(message.Payload), &record); err != nil {
				continue
			}
			onRecord(record)
		}
	}
}

func (observer *RedisObserver) Close() error {
	return observer.rdb.Close()
}
