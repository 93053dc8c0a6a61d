package ops

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/services/inventory-service/internal/storage"
)

type Handler struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository) *Handler {
	return &Handler{pool: pool, repo: repo, outbox: outboxRepo}
}

// StockStatus reports one product's stock when ?product= is given, else
// the most recently touched rows.
func (h *Handler) StockStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if productID := r.URL.Query().Get("product"); productID != "" {
		s, err := h.repo.GetStock(r.Context(), productID)
		if errors.Is(err, storage.ErrStockNotFound) {
			http.Error(w, "no stock row", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "lookup failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stockJSON(s))
		return
	}

	rows, err := h.repo.ListStock(r.Context(), 100)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(rows))
	for _, s := range rows {
		out = append(out, stockJSON(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": out})
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

func stockJSON(s storage.Stock) map[string]any {
	return map[string]any{
		"product_id": s.ProductID,
		"available":  s.Available,
		"reserved":   s.Reserved,
		"updated_at": s.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
