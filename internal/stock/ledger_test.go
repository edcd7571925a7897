package stock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func getPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("postgres not available: %v", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			sku TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			stock INT NOT NULL DEFAULT 0,
			price_cents INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS stock_reservations (
			id TEXT PRIMARY KEY,
			attempt_id TEXT NOT NULL,
			product_id TEXT NOT NULL REFERENCES products(id),
			qty INT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		t.Fatalf("schema setup: %v", err)
	}
	return pool
}

func seedProduct(t *testing.T, pool *pgxpool.Pool, stock int) string {
	t.Helper()
	ctx := context.Background()
	id := "test-" + uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO products(id, sku, name, stock, price_cents)
		VALUES ($1, $1, 'Filtre', $2, 4990)`, id, stock)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM stock_reservations WHERE product_id=$1`, id)
		pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	})
	return id
}

func TestReserveAndAvailability(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 5)

	ok, err := l.CheckAvailability(ctx, pid, 5)
	if err != nil || !ok {
		t.Fatalf("expected 5 available, ok=%v err=%v", ok, err)
	}

	attempt := uuid.NewString()
	if err := l.Reserve(ctx, attempt, pid, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// hold counts against availability without touching on-hand
	ok, err = l.CheckAvailability(ctx, pid, 3)
	if err != nil || ok {
		t.Fatalf("expected 3 unavailable after hold, ok=%v err=%v", ok, err)
	}
	ok, _ = l.CheckAvailability(ctx, pid, 2)
	if !ok {
		t.Fatal("expected 2 still available")
	}
	var onHand int
	pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, pid).Scan(&onHand)
	if onHand != 5 {
		t.Fatalf("on-hand mutated by reservation: %d", onHand)
	}
}

func TestReserveInsufficient(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 1)

	err := l.Reserve(ctx, uuid.NewString(), pid, 2)
	if err == nil {
		t.Fatal("expected insufficient stock error")
	}
}

func TestReleaseRestoresAvailability(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 2)

	attempt := uuid.NewString()
	if err := l.Reserve(ctx, attempt, pid, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok, _ := l.CheckAvailability(ctx, pid, 1); ok {
		t.Fatal("expected nothing available while held")
	}
	if err := l.Release(ctx, attempt); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.CheckAvailability(ctx, pid, 2); !ok {
		t.Fatal("expected availability restored after release")
	}
}

func TestReleaseScopedToAttempt(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 4)

	a, b := uuid.NewString(), uuid.NewString()
	if err := l.Reserve(ctx, a, pid, 2); err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	if err := l.Reserve(ctx, b, pid, 2); err != nil {
		t.Fatalf("reserve b: %v", err)
	}
	if err := l.Release(ctx, a); err != nil {
		t.Fatalf("release a: %v", err)
	}
	// b's hold must survive a's release
	if ok, _ := l.CheckAvailability(ctx, pid, 3); ok {
		t.Fatal("expected b's 2 units still held")
	}
	if ok, _ := l.CheckAvailability(ctx, pid, 2); !ok {
		t.Fatal("expected a's 2 units released")
	}
}

func TestExpiredReservationNotCounted(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	// TTL in the past: the hold is born expired, no sweep involved
	l := &Ledger{DB: pool, TTL: -time.Second}
	pid := seedProduct(t, pool, 2)

	// Reserve itself re-validates with expiry in the past; insert directly
	_, err := pool.Exec(ctx, `
		INSERT INTO stock_reservations(id, attempt_id, product_id, qty, expires_at)
		VALUES ($1, $2, $3, 2, now() - interval '1 second')`,
		uuid.NewString(), uuid.NewString(), pid)
	if err != nil {
		t.Fatalf("insert expired: %v", err)
	}

	if ok, _ := l.CheckAvailability(ctx, pid, 2); !ok {
		t.Fatal("expired reservation still counted against availability")
	}
}

func TestConfirmReduction(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 3)

	attempt := uuid.NewString()
	if err := l.Reserve(ctx, attempt, pid, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.ConfirmReduction(ctx, attempt, pid, 2); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	var onHand int
	pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, pid).Scan(&onHand)
	if onHand != 1 {
		t.Fatalf("expected on-hand 1, got %d", onHand)
	}
	var held int
	pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_reservations WHERE attempt_id=$1`, attempt).Scan(&held)
	if held != 0 {
		t.Fatalf("reservation not cleared, %d left", held)
	}
}

func TestConfirmReductionNeverNegative(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 1)

	err := l.ConfirmReduction(ctx, uuid.NewString(), pid, 2)
	if err == nil {
		t.Fatal("expected failure reducing below zero")
	}
	var onHand int
	pool.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, pid).Scan(&onHand)
	if onHand != 1 {
		t.Fatalf("on-hand changed on failed reduction: %d", onHand)
	}
}

func TestSweepExpired(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 5)

	for i := 0; i < 3; i++ {
		_, err := pool.Exec(ctx, `
			INSERT INTO stock_reservations(id, attempt_id, product_id, qty, expires_at)
			VALUES ($1, $2, $3, 1, now() - interval '1 minute')`,
			uuid.NewString(), fmt.Sprintf("sweep-%d", i), pid)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := l.Reserve(ctx, uuid.NewString(), pid, 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	n, err := l.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n < 3 {
		t.Fatalf("expected at least 3 swept, got %d", n)
	}
	var live int
	pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_reservations WHERE product_id=$1`, pid).Scan(&live)
	if live != 1 {
		t.Fatalf("expected the active hold to survive, got %d rows", live)
	}
}

// Two checkouts race for the last unit: exactly one reservation may win.
func TestConcurrentReserveLastUnit(t *testing.T) {
	pool := getPool(t)
	defer pool.Close()
	ctx := context.Background()

	l := &Ledger{DB: pool, TTL: 15 * time.Minute}
	pid := seedProduct(t, pool, 1)

	const shoppers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Reserve(ctx, uuid.NewString(), pid, 1); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 winning reservation, got %d", wins.Load())
	}
	var reserved int
	pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty),0) FROM stock_reservations
		WHERE product_id=$1 AND expires_at > now()`, pid).Scan(&reserved)
	if reserved > 1 {
		t.Fatalf("oversold: %d units reserved for 1 on hand", reserved)
	}
}
