package notify

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydrolia/checkout/internal/orders"
)

// UserDirectory resolves a user id to a contact address. The identity
// provider owns the users table; we only read the email column.
type UserDirectory interface {
	Email(ctx context.Context, userID string) (string, error)
}

type PGDirectory struct{ DB *pgxpool.Pool }

func (d *PGDirectory) Email(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.DB.QueryRow(ctx, `SELECT email FROM users WHERE id=$1`, userID).Scan(&email)
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return email, nil
}

// Dispatcher renders the per-status message and hands it to the delivery
// service. Callers treat failures as log-only: a lost email never rolls back
// an order.
type Dispatcher struct {
	Users  UserDirectory
	Mailer MailSender
}

func (d *Dispatcher) Notify(ctx context.Context, userID, orderID string, status orders.Status, totalCents int, extra string) error {
	email, err := d.Users.Email(ctx, userID)
	if err != nil {
		return err
	}
	subject, html := renderEmail(orderID, status, totalCents, extra)
	if err := d.Mailer.Send(ctx, email, subject, html); err != nil {
		return fmt.Errorf("send %s notification for order %s: %w", status, orderID, err)
	}
	return nil
}
