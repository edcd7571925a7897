package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/hydrolia/checkout/internal/catalog"
	"github.com/hydrolia/checkout/internal/checkout"
	"github.com/hydrolia/checkout/internal/money"
	"github.com/hydrolia/checkout/internal/orders"
	"github.com/hydrolia/checkout/internal/payment"
	"github.com/hydrolia/checkout/internal/redisx"
	"github.com/hydrolia/checkout/internal/stock"
)

type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
	Recorder     *orders.Recorder
	Catalog      *catalog.Repo
	Feed         *orders.Feed
	Redis        *redis.Client
}

type CheckoutReq struct {
	AttemptID       string             `json:"attempt_id"`
	Items           []orders.ItemInput `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	BillingAddress  string             `json:"billing_address"`
	PaymentMethod   string             `json:"payment_method"`
}

type CheckoutResp struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	TotalCents int    `json:"total_cents"`
	Total      string `json:"total"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/orders/{id}/watch", h.watchOrder)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// userID comes from the identity provider fronting this service; anonymous
// checkout is not supported.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "sign in required"})
		return
	}

	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	order, err := h.Orchestrator.Checkout(ctx, checkout.Input{
		AttemptID:       req.AttemptID,
		UserID:          uid,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		code := http.StatusInternalServerError
		msg := "checkout failed, please try again"
		switch {
		case errors.Is(err, stock.ErrInsufficientStock):
			code, msg = http.StatusConflict, err.Error()
		case errors.Is(err, payment.ErrDeclined):
			code, msg = http.StatusPaymentRequired, err.Error()
		case errors.Is(err, payment.ErrGateway):
			code, msg = http.StatusServiceUnavailable, "payment service unavailable, please try again"
		case errors.Is(err, checkout.ErrMissingUser), errors.Is(err, checkout.ErrEmptyCart):
			code, msg = http.StatusBadRequest, err.Error()
		}
		writeJSON(w, code, map[string]string{"error": msg})
		return
	}

	writeJSON(w, http.StatusCreated, CheckoutResp{
		OrderID:    order.ID,
		Status:     string(order.Status),
		TotalCents: order.TotalCents,
		Total:      money.FormatEUR(order.TotalCents),
	})
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, items, err := h.Recorder.GetOrder(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": order,
		"items": items,
		"total": money.FormatEUR(order.TotalCents),
	})
}

func (h *CheckoutHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, store as fallback
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	status, err := h.Recorder.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	b, _ := json.Marshal(map[string]any{"status": status})
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// watchOrder streams status changes as server-sent events for the live
// tracking view.
func (h *CheckoutHandler) watchOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	current, err := h.Recorder.GetOrderStatus(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	updates, cancel, err := h.Feed.Subscribe(r.Context(), orderID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "subscribe failed"})
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	streamStatuses(r.Context(), w, flusher, current, updates)
}

// streamStatuses writes the current status and then every update as an SSE
// event, returning as soon as a terminal status has been written.
func streamStatuses(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, current orders.Status, updates <-chan orders.Status) {
	fmt.Fprintf(w, "data: %s\n\n", current)
	flusher.Flush()
	if current.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s, open := <-updates:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", s)
			flusher.Flush()
			if s.Terminal() {
				return
			}
		}
	}
}

func (h *CheckoutHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
