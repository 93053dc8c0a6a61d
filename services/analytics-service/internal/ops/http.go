package ops

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

type Handler struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Handler {
	return &Handler{pool: pool}
}

// DailyMetrics returns one day's aggregates (?day=YYYY-MM-DD, default today).
func (h *Handler) DailyMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	day := r.URL.Query().Get("day")
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		http.Error(w, "bad day format, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	out := map[string]any{"day": day}

	var ordersCreated, ordersConfirmed, ordersCancelled, paymentsCompleted, paymentsFailed, paymentsRefunded, inventoryRejections int
	var revenueCents int64
	err := h.pool.QueryRow(r.Context(), `
		SELECT orders_created, orders_confirmed, orders_cancelled,
		       payments_completed, payments_failed, payments_refunded,
		       inventory_rejections, revenue_cents
		FROM daily_order_metrics WHERE day = $1::date
	`, day).Scan(&ordersCreated, &ordersConfirmed, &ordersCancelled, &paymentsCompleted, &paymentsFailed, &paymentsRefunded, &inventoryRejections, &revenueCents)
	if err != nil && err != pgx.ErrNoRows {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	out["orders"] = map[string]any{
		"created":              ordersCreated,
		"confirmed":            ordersConfirmed,
		"cancelled":            ordersCancelled,
		"payments_completed":   paymentsCompleted,
		"payments_failed":      paymentsFailed,
		"payments_refunded":    paymentsRefunded,
		"inventory_rejections": inventoryRejections,
		"revenue_cents":        revenueCents,
	}

	var itemsAdded, itemsRemoved, checkouts int
	err = h.pool.QueryRow(r.Context(), `
		SELECT items_added, items_removed, checkouts
		FROM daily_cart_metrics WHERE day = $1::date
	`, day).Scan(&itemsAdded, &itemsRemoved, &checkouts)
	if err != nil && err != pgx.ErrNoRows {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	out["cart"] = map[string]any{
		"items_added":   itemsAdded,
		"items_removed": itemsRemoved,
		"checkouts":     checkouts,
	}

	writeJSON(w, http.StatusOK, out)
}

// Funnel lists the recorded lifecycle events for one order.
func (h *Handler) Funnel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		http.Error(w, "missing order", http.StatusBadRequest)
		return
	}

	rows, err := h.pool.Query(r.Context(), `
		SELECT event_type, amount_cents, occurred_at
		FROM order_funnel_events
		WHERE order_id = $1
		ORDER BY occurred_at
	`, orderID)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var events []map[string]any
	for rows.Next() {
		var eventType string
		var amountCents int64
		var occurredAt time.Time
		if err := rows.Scan(&eventType, &amountCents, &occurredAt); err != nil {
			http.Error(w, "scan failed", http.StatusInternalServerError)
			return
		}
		events = append(events, map[string]any{
			"event_type":   eventType,
			"amount_cents": amountCents,
			"occurred_at":  occurredAt,
		})
	}
	if rows.Err() != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "events": events})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
