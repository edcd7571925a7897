// Package stock tracks on-hand quantities and time-bounded reservations.
// A reservation is a soft hold: it reduces available stock without touching
// on-hand; on-hand only moves on confirmed fulfillment.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type Ledger struct {
	DB *pgxpool.Pool

	// TTL bounds a reservation's lifetime; expired rows stop counting against
	// availability whether or not they were swept.
	TTL time.Duration
}

// CheckAvailability reports whether on-hand minus active reservations covers
// qty. Reservations past expiry are ignored here, no sweep needed.
func (l *Ledger) CheckAvailability(ctx context.Context, productID string, qty int) (bool, error) {
	var available int
	err := l.DB.QueryRow(ctx, `
		SELECT p.stock - COALESCE((
			SELECT SUM(r.qty) FROM stock_reservations r
			WHERE r.product_id = p.id AND r.expires_at > now()
		), 0)
		FROM products p WHERE p.id = $1`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("product not found: %s", productID)
	}
	if err != nil {
		return false, err
	}
	return available >= qty, nil
}

// Reserve re-validates availability and inserts a hold, all under a row lock
// on the product so two concurrent checkouts cannot both claim the last unit.
func (l *Ledger) Reserve(ctx context.Context, attemptID, productID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("invalid qty %d for product %s", qty, productID)
	}
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var onHand int
	err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("product not found: %s", productID)
	}
	if err != nil {
		return err
	}

	var reserved int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty), 0) FROM stock_reservations
		WHERE product_id = $1 AND expires_at > now()`, productID).Scan(&reserved)
	if err != nil {
		return err
	}

	if onHand-reserved < qty {
		return fmt.Errorf("%w: product %s (requested %d, available %d)",
			ErrInsufficientStock, productID, qty, onHand-reserved)
	}

	expiresAt := time.Now().UTC().Add(l.TTL)
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, attempt_id, product_id, qty, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), attemptID, productID, qty, expiresAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Release drops every reservation held by one checkout attempt. Scoping by
// attempt keeps concurrent shoppers' holds on the same product intact.
func (l *Ledger) Release(ctx context.Context, attemptID string) error {
	_, err := l.DB.Exec(ctx, `DELETE FROM stock_reservations WHERE attempt_id=$1`, attemptID)
	return err
}

// ConfirmReduction decrements on-hand and clears the matching reservation in
// one transaction. Fails without touching anything if the decrement would go
// negative.
func (l *Ledger) ConfirmReduction(ctx context.Context, attemptID, productID string, qty int) error {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: cannot reduce product %s by %d", ErrInsufficientStock, productID, qty)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM stock_reservations WHERE attempt_id=$1 AND product_id=$2`,
		attemptID, productID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SweepExpired deletes reservations past their expiry. Not safety-critical
// (availability ignores them already), it just bounds table growth.
func (l *Ledger) SweepExpired(ctx context.Context) (int64, error) {
	ct, err := l.DB.Exec(ctx, `DELETE FROM stock_reservations WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (l *Ledger) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.SweepExpired(ctx)
			if err != nil {
				log.Printf("reservation sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("reservation sweep: removed %d expired", n)
			}
		}
	}
}
