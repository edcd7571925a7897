package orders

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/hydrolia/checkout/internal/redisx"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// EventSink is where lifecycle events go; the kafka producer satisfies it.
type EventSink interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type CreateOrderInput struct {
	AttemptID       string
	UserID          string
	TotalCents      int
	ShippingAddress string
	BillingAddress  string
	PaymentRef      string
	Items           []PricedItem
}

// Recorder owns the orders and order_items tables. Orders enter as paid;
// every status change is cached, pushed on the live feed, and published as
// an event.
type Recorder struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Feed     *Feed
	Producer EventSink
	Service  string
}

// FindByAttempt returns the order a previous run of the same checkout
// attempt already recorded, if any.
func (r *Recorder) FindByAttempt(ctx context.Context, attemptID string) (Order, bool, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, attempt_id, user_id, status, total_cents, shipping_address,
		       billing_address, payment_ref, created_at, updated_at
		FROM orders WHERE attempt_id=$1`, attemptID).
		Scan(&o.ID, &o.AttemptID, &o.UserID, &o.Status, &o.TotalCents,
			&o.ShippingAddress, &o.BillingAddress, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

// CreateOrder writes the order and its lines in one transaction, initial
// status paid. Idempotent per attempt: a replay returns the existing order.
func (r *Recorder) CreateOrder(ctx context.Context, in CreateOrderInput) (Order, error) {
	if existing, ok, err := r.FindByAttempt(ctx, in.AttemptID); err != nil {
		return Order{}, err
	} else if ok {
		return existing, nil
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer tx.Rollback(ctx)

	orderID := uuid.NewString()
	var o Order
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, attempt_id, user_id, status, total_cents,
		                   shipping_address, billing_address, payment_ref)
		VALUES ($1, $2, $3, 'paid', $4, $5, $6, $7)
		RETURNING id, attempt_id, user_id, status, total_cents, shipping_address,
		          billing_address, payment_ref, created_at, updated_at`,
		orderID, in.AttemptID, in.UserID, in.TotalCents,
		in.ShippingAddress, in.BillingAddress, in.PaymentRef).
		Scan(&o.ID, &o.AttemptID, &o.UserID, &o.Status, &o.TotalCents,
			&o.ShippingAddress, &o.BillingAddress, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	for _, it := range in.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), orderID, it.ProductID, it.Qty, it.PriceCents); err != nil {
			return Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}

	r.announce(ctx, o, "")
	return o, nil
}

// UpdateStatus moves an order forward in the state machine. A rejected
// transition is a caller bug: logged, surfaced as ErrInvalidTransition,
// never shown to the customer.
func (r *Recorder) UpdateStatus(ctx context.Context, orderID string, next Status, extra string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var o Order
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if err != nil {
		return err
	}

	if !CanTransition(o.Status, next) {
		log.Printf("rejected transition %s -> %s for order %s", o.Status, next, orderID)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	o.Status = next
	r.announce(ctx, o, extra)
	return nil
}

func (r *Recorder) GetOrder(ctx context.Context, orderID string) (Order, []OrderItem, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, attempt_id, user_id, status, total_cents, shipping_address,
		       billing_address, payment_ref, created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.AttemptID, &o.UserID, &o.Status, &o.TotalCents,
			&o.ShippingAddress, &o.BillingAddress, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, price_cents
		FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return Order{}, nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return Order{}, nil, err
		}
		items = append(items, it)
	}
	return o, items, rows.Err()
}

func (r *Recorder) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// announce fans a committed status out to the cache, the live feed and the
// event bus. All best-effort: the order row is already durable.
func (r *Recorder) announce(ctx context.Context, o Order, extra string) {
	if r.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
		if err := r.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, o.Status), redisx.TTLStatusCache).Err(); err != nil {
			log.Printf("status cache for %s: %v", o.ID, err)
		}
	}
	if r.Feed != nil {
		if err := r.Feed.Publish(ctx, o.ID, o.Status); err != nil {
			log.Printf("feed publish for %s: %v", o.ID, err)
		}
	}
	if r.Producer != nil {
		ev := NewEnvelope(EventOrderStatusChanged, r.Service, o.ID, StatusChangedPayload{
			OrderID:    o.ID,
			UserID:     o.UserID,
			Status:     o.Status,
			TotalCents: o.TotalCents,
			Extra:      extra,
		})
		b, _ := marshalEnvelope(ev)
		r.Producer.Publish(PartitionKey(o.ID), b,
			kafkago.Header{Key: "x-event-type", Value: []byte(EventOrderStatusChanged)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}
}
