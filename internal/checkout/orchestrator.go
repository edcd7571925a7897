// Package checkout sequences one purchase attempt: validate stock, hold it,
// authorize and confirm payment, record the order, decrement stock, and
// release every hold on any failure along the way.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hydrolia/checkout/internal/orders"
	"github.com/hydrolia/checkout/internal/payment"
	"github.com/hydrolia/checkout/internal/stock"
)

var (
	ErrMissingUser = errors.New("checkout requires an authenticated user")
	ErrEmptyCart   = errors.New("cart is empty")
)

type Ledger interface {
	CheckAvailability(ctx context.Context, productID string, qty int) (bool, error)
	Reserve(ctx context.Context, attemptID, productID string, qty int) error
	Release(ctx context.Context, attemptID string) error
	ConfirmReduction(ctx context.Context, attemptID, productID string, qty int) error
}

type Catalog interface {
	UnitPrices(ctx context.Context, ids []string) (map[string]int, error)
}

type Payments interface {
	CreateAuthorization(ctx context.Context, amountCents int) (payment.Authorization, error)
	Confirm(ctx context.Context, auth payment.Authorization, paymentMethod string) (payment.Result, error)
}

type Recorder interface {
	FindByAttempt(ctx context.Context, attemptID string) (orders.Order, bool, error)
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, []orders.OrderItem, error)
}

// IdemStore caches attempt -> order id so a replayed attempt skips the whole
// pipeline. Misses and errors fall through to the order table, which stays the
// source of truth.
type IdemStore interface {
	LookupAttempt(ctx context.Context, attemptID string) (orderID string, ok bool)
	RememberAttempt(ctx context.Context, attemptID, orderID string)
}

// Orchestrator is stateless between calls; all shared state lives in the
// store. Concurrent checkouts for the same product are serialized by the
// ledger, not here.
type Orchestrator struct {
	Ledger   Ledger
	Catalog  Catalog
	Payments Payments
	Recorder Recorder

	Idem IdemStore // optional fast path for replayed attempts

	StoreRetries int                 // transient store failures per reserve
	Sleep        func(time.Duration) // injectable for tests
}

type Input struct {
	AttemptID       string // one per cart snapshot; generated when absent
	UserID          string
	Items           []orders.ItemInput
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
}

func (o *Orchestrator) Checkout(ctx context.Context, in Input) (orders.Order, error) {
	if in.UserID == "" {
		return orders.Order{}, ErrMissingUser
	}
	if len(in.Items) == 0 {
		return orders.Order{}, ErrEmptyCart
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Qty <= 0 {
			return orders.Order{}, fmt.Errorf("invalid cart line: product %q qty %d", it.ProductID, it.Qty)
		}
	}
	if in.PaymentMethod == "" {
		return orders.Order{}, errors.New("missing payment method")
	}

	attemptID := in.AttemptID
	if attemptID == "" {
		attemptID = uuid.NewString()
	}

	// A replayed attempt that already produced an order must not re-reserve
	// or re-charge. Cache first, then the order table.
	if o.Idem != nil {
		if orderID, ok := o.Idem.LookupAttempt(ctx, attemptID); ok {
			if existing, _, err := o.Recorder.GetOrder(ctx, orderID); err == nil {
				return existing, nil
			}
		}
	}
	if existing, ok, err := o.Recorder.FindByAttempt(ctx, attemptID); err != nil {
		return orders.Order{}, err
	} else if ok {
		return existing, nil
	}

	// 1. availability pass, naming the first short product
	for _, it := range in.Items {
		ok, err := o.Ledger.CheckAvailability(ctx, it.ProductID, it.Qty)
		if err != nil {
			return orders.Order{}, err
		}
		if !ok {
			return orders.Order{}, fmt.Errorf("%w: product %s", stock.ErrInsufficientStock, it.ProductID)
		}
	}

	// 2. hold every line; a failure mid-loop releases what this attempt took
	for _, it := range in.Items {
		if err := o.reserveWithRetry(ctx, attemptID, it); err != nil {
			o.release(ctx, attemptID)
			return orders.Order{}, err
		}
	}

	// 3. total from current catalog prices, never from the client
	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}
	prices, err := o.Catalog.UnitPrices(ctx, ids)
	if err != nil {
		o.release(ctx, attemptID)
		return orders.Order{}, err
	}
	total := 0
	priced := make([]orders.PricedItem, 0, len(in.Items))
	for _, it := range in.Items {
		price, ok := prices[it.ProductID]
		if !ok {
			o.release(ctx, attemptID)
			return orders.Order{}, fmt.Errorf("product not found: %s", it.ProductID)
		}
		total += price * it.Qty
		priced = append(priced, orders.PricedItem{ProductID: it.ProductID, Qty: it.Qty, PriceCents: price})
	}

	// 4. one authorization per attempt
	auth, err := o.Payments.CreateAuthorization(ctx, total)
	if err != nil {
		o.release(ctx, attemptID)
		return orders.Order{}, err
	}

	// 5. confirm; declines and gateway failures surface as-is
	res, err := o.Payments.Confirm(ctx, auth, in.PaymentMethod)
	if err != nil {
		o.release(ctx, attemptID)
		return orders.Order{}, err
	}

	// 6. durable order, initial status paid
	order, err := o.Recorder.CreateOrder(ctx, orders.CreateOrderInput{
		AttemptID:       attemptID,
		UserID:          in.UserID,
		TotalCents:      total,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentRef:      res.AuthorizationID,
		Items:           priced,
	})
	if err != nil {
		// Money captured with no order row: release the holds and surface for
		// reconciliation against the payment reference.
		o.release(ctx, attemptID)
		log.Printf("CRITICAL: payment %s confirmed but order create failed (attempt %s): %v", auth.ID, attemptID, err)
		return orders.Order{}, fmt.Errorf("record order after payment %s: %w", auth.ID, err)
	}

	// 7. decrement on-hand and clear each hold. A line failure here leaves a
	// hold that expires on its own; the order stands and the line is
	// reconciled out of band.
	for _, it := range priced {
		if err := o.Ledger.ConfirmReduction(ctx, attemptID, it.ProductID, it.Qty); err != nil {
			log.Printf("CRITICAL: stock reduction failed for order %s product %s: %v", order.ID, it.ProductID, err)
		}
	}

	if o.Idem != nil {
		o.Idem.RememberAttempt(ctx, attemptID, order.ID)
	}
	return order, nil
}

// reserveWithRetry retries transient store failures with backoff. An actual
// stock shortfall is final and returned immediately.
func (o *Orchestrator) reserveWithRetry(ctx context.Context, attemptID string, it orders.ItemInput) error {
	retries := o.StoreRetries
	if retries <= 0 {
		retries = 3
	}
	sleep := o.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			sleep(time.Duration(1<<(i-1)) * 100 * time.Millisecond)
		}
		err := o.Ledger.Reserve(ctx, attemptID, it.ProductID, it.Qty)
		if err == nil {
			return nil
		}
		if errors.Is(err, stock.ErrInsufficientStock) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("reserve product %s: %w", it.ProductID, lastErr)
}

func (o *Orchestrator) release(ctx context.Context, attemptID string) {
	if err := o.Ledger.Release(ctx, attemptID); err != nil {
		log.Printf("release reservations for attempt %s: %v", attemptID, err)
	}
}
