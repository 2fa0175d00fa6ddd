package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// exerciseNonceRegistry runs the ledger contract against any backend. Nonces are prefixed with
// prefix so shared backends can be reused between runs.
func exerciseNonceRegistry(t *testing.T, registry NonceRegistry, prefix string) {
	ctx := context.Background()
	nonce := func(name string) []byte { return []byte(prefix + name) }

	t.Run("commit consumes", func(t *testing.T) {
		reservation, err := registry.Reserve(ctx, nonce("a"))
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := reservation.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		consumed, err := registry.IsConsumed(ctx, nonce("a"))
		if err != nil || !consumed {
			t.Fatalf("expected consumed, got %v (err=%v)", consumed, err)
		}
		if _, err := registry.Reserve(ctx, nonce("a")); !errors.Is(err, ErrNonceAlreadyUsed) {
			t.Fatalf("expected ErrNonceAlreadyUsed, got %v", err)
		}
	})

	t.Run("rollback releases", func(t *testing.T) {
		reservation, err := registry.Reserve(ctx, nonce("b"))
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := reservation.Rollback(ctx); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		consumed, err := registry.IsConsumed(ctx, nonce("b"))
		if err != nil || consumed {
			t.Fatalf("expected unconsumed after rollback, got %v (err=%v)", consumed, err)
		}
		again, err := registry.Reserve(ctx, nonce("b"))
		if err != nil {
			t.Fatalf("reserve after rollback: %v", err)
		}
		if err := again.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
	})

	t.Run("settles once", func(t *testing.T) {
		reservation, err := registry.Reserve(ctx, nonce("c"))
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if err := reservation.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := reservation.Rollback(ctx); err == nil {
			t.Fatalf("expected rollback after commit to fail")
		}
		consumed, _ := registry.IsConsumed(ctx, nonce("c"))
		if !consumed {
			t.Fatalf("a late rollback must not release a consumed nonce")
		}
	})

	t.Run("try consume", func(t *testing.T) {
		first, err := TryConsume(ctx, registry, nonce("d"))
		if err != nil || !first {
			t.Fatalf("expected first TryConsume to succeed, got %v (err=%v)", first, err)
		}
		second, err := TryConsume(ctx, registry, nonce("d"))
		if err != nil || second {
			t.Fatalf("expected second TryConsume to fail, got %v (err=%v)", second, err)
		}
	})

	t.Run("binary nonces", func(t *testing.T) {
		raw := append(nonce("e"), 0x00, 0xff)
		if ok, err := TryConsume(ctx, registry, raw); err != nil || !ok {
			t.Fatalf("expected binary nonce to be consumed, got %v (err=%v)", ok, err)
		}
		if consumed, _ := registry.IsConsumed(ctx, nonce("e")); consumed {
			t.Fatalf("a prefix of a consumed nonce must stay unconsumed")
		}
	})
}

func TestMemoryNonceRegistry(t *testing.T) {
	exerciseNonceRegistry(t, NewMemoryNonceRegistry(), "")
}

func TestMemoryNonceRegistryConcurrentReserve(t *testing.T) {
	registry := NewMemoryNonceRegistry()

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := TryConsume(context.Background(), registry, []byte(testNonce)); ok {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if reserved != 1 {
		t.Fatalf("expected exactly one caller to consume the nonce, got %d", reserved)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one consumed nonce, got %d", registry.Len())
	}
}

func TestMemoryNonceRegistryPendingReservationBlocksOthers(t *testing.T) {
	registry := NewMemoryNonceRegistry()
	ctx := context.Background()

	reservation, err := registry.Reserve(ctx, []byte(testNonce))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := registry.Reserve(ctx, []byte(testNonce)); !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("expected a pending reservation to block, got %v", err)
	}
	if consumed, _ := registry.IsConsumed(ctx, []byte(testNonce)); consumed {
		t.Fatalf("a pending reservation is not consumed yet")
	}
	if registry.Len() != 0 {
		t.Fatalf("pending reservations must not be counted")
	}
	if err := reservation.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestSQLiteNonceRegistry(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	registry, err := NewSQLiteNonceRegistry(db)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	exerciseNonceRegistry(t, registry, "")
}

func TestSQLiteNonceRegistryPersists(t *testing.T) {
	path := t.TempDir() + "/router.db"
	ctx := context.Background()

	registry, err := OpenSQLiteNonceRegistry(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ok, err := TryConsume(ctx, registry, []byte(testNonce)); err != nil || !ok {
		t.Fatalf("consume: %v (err=%v)", ok, err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteNonceRegistry(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Reserve(ctx, []byte(testNonce)); !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("expected the nonce to survive a restart, got %v", err)
	}
}

func TestPostgresNonceRegistry(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres nonce registry tests")
	}
	registry, err := OpenPostgresNonceRegistry(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer registry.Close()

	exerciseNonceRegistry(t, registry, fmt.Sprintf("test-%d-", time.Now().UnixNano()))
}
