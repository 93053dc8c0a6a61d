package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/order-service/internal/orders"
	"github.com/evercart/evercart/services/order-service/internal/storage"
)

// Handler serves the operator endpoints on the ops mux: order placement
// and cancellation, saga state, and outbox health. This is operational
// tooling, not a customer API.
type Handler struct {
	pool   *db.Pool
	orders *orders.Service
	repo   *storage.Repository
	outbox *outbox.Repository
}

func New(pool *db.Pool, orderSvc *orders.Service, repo *storage.Repository, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, orders: orderSvc, repo: repo, outbox: outboxRepo}
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getOrder(w, r)
	case http.MethodPost:
		h.placeOrder(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	o, err := h.repo.GetOrder(r.Context(), id)
	if errors.Is(err, storage.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orderJSON(o))
}

type placeOrderRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Items    []struct {
		ProductID      string `json:"product_id"`
		Quantity       int    `json:"quantity"`
		UnitPriceCents int64  `json:"unit_price_cents"`
	} `json:"items"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	in := orders.PlaceOrderInput{UserID: req.UserID, Currency: req.Currency}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.LineInput{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}

	o, err := h.orders.PlaceOrder(r.Context(), in)
	if errors.Is(err, orders.ErrEmptyOrder) || errors.Is(err, orders.ErrInvalidLine) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "place order failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, orderJSON(o))
}

type cancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	o, err := h.orders.Cancel(r.Context(), req.OrderID, req.Reason)
	if errors.Is(err, storage.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, orders.ErrNotCancellable) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orderJSON(o))
}

func (h *Handler) OutboxStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		http.Error(w, "db unavailable", http.StatusServiceUnavailable)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	counts, err := h.outbox.CountByStatus(r.Context(), tx)
	if err != nil {
		http.Error(w, "count failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pending":   counts.Pending,
		"processed": counts.Processed,
		"failed":    counts.Failed,
	})
}

func orderJSON(o storage.Order) map[string]any {
	return map[string]any{
		"order_id":       o.ID,
		"status":         o.Status,
		"total_cents":    o.TotalCents,
		"currency":       o.Currency,
		"items_total":    o.ItemsTotal,
		"items_reserved": o.ItemsReserved,
		"cancel_reason":  o.CancelReason,
		"updated_at":     o.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
