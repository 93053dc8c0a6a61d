package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/payment-service/internal/storage"
)

type Handler struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, repo: repo, outbox: outboxRepo}
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		http.Error(w, "missing order", http.StatusBadRequest)
		return
	}

	p, err := h.repo.GetByOrder(r.Context(), orderID)
	if errors.Is(err, storage.ErrPaymentNotFound) {
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":     p.ID,
		"order_id":       p.OrderID,
		"status":         p.Status,
		"amount_cents":   p.AmountCents,
		"currency":       p.Currency,
		"provider":       p.Provider,
		"failure_reason": p.FailureReason,
		"updated_at":     p.UpdatedAt,
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
