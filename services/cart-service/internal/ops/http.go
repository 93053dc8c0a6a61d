package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/cart-service/internal/cart"
	"github.com/evercart/evercart/services/cart-service/internal/storage"
)

type Handler struct {
	pool   *db.Pool
	cart   *cart.Service
	outbox *outbox.Repository
}

func New(pool *db.Pool, cartSvc *cart.Service, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, cart: cartSvc, outbox: outboxRepo}
}

// Items serves the cart for a user (GET ?user=) and adds a line (POST).
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listItems(w, r)
	case http.MethodPost:
		h.addItem(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	items, err := h.cart.List(r.Context(), userID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type addItemRequest struct {
	UserID         string `json:"user_id"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	item, err := h.cart.AddItem(r.Context(), req.UserID, req.ProductID, req.Quantity, req.UnitPriceCents)
	if errors.Is(err, cart.ErrInvalidItem) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, "add failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type removeItemRequest struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req removeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	err := h.cart.RemoveItem(r.Context(), req.UserID, req.ProductID)
	if errors.Is(err, storage.ErrItemNotFound) {
		http.Error(w, "item not in cart", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "remove failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

type checkoutRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	out, err := h.cart.CheckoutCart(r.Context(), req.UserID)
	if errors.Is(err, cart.ErrEmptyCart) {
		http.Error(w, "cart is empty", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "checkout failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"checkout_id": out.CheckoutID,
		"user_id":     out.UserID,
		"items":       out.Items,
		"total_cents": out.TotalCents,
	})
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

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
