package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/kafkax"
	"github.com/evercart/evercart/libs/registry"
)

// Handler folds the event stream into the order funnel and the daily
// aggregates. A malformed payload is logged and skipped; a poison
// message never wedges the consumer group.
type Handler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	switch meta.EventType {
	case registry.EventOrderCreated,
		registry.EventOrderPaymentRequested,
		registry.EventOrderConfirmed,
		registry.EventOrderCancelled:
		return h.onOrderEvent(ctx, tx, meta, msg.Value)
	case registry.EventPaymentCompleted,
		registry.EventPaymentFailed,
		registry.EventPaymentRefunded:
		return h.onPaymentEvent(ctx, tx, meta, msg.Value)
	case registry.EventInventoryReserved,
		registry.EventInventoryRejected,
		registry.EventInventoryReleased:
		return h.onInventoryEvent(ctx, tx, meta, msg.Value)
	case registry.EventCartItemAdded,
		registry.EventCartItemRemoved,
		registry.EventCartCheckoutCompleted:
		return h.onCartEvent(ctx, tx, meta, msg.Value)
	default:
		return nil
	}
}

func (h *Handler) onOrderEvent(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	var evt struct {
		OrderID     string `json:"order_id"`
		UserID      string `json:"user_id"`
		TotalCents  int64  `json:"total_cents"`
		AmountCents int64  `json:"amount_cents"`
		CreatedAt   string `json:"created_at"`
		ConfirmedAt string `json:"confirmed_at"`
		CancelledAt string `json:"cancelled_at"`
		RequestedAt string `json:"requested_at"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("invalid order event payload", "err", err, "event_type", meta.EventType)
		return nil
	}
	if evt.OrderID == "" {
		h.logger.Error("order event without order_id", "event_type", meta.EventType)
		return nil
	}

	amount := evt.TotalCents
	if amount == 0 {
		amount = evt.AmountCents
	}
	occurredAt := firstTimestamp(evt.CreatedAt, evt.ConfirmedAt, evt.CancelledAt, evt.RequestedAt)

	if err := h.recordFunnel(ctx, tx, meta, evt.OrderID, evt.UserID, amount, occurredAt); err != nil {
		return err
	}

	var column string
	switch meta.EventType {
	case registry.EventOrderCreated:
		column = "orders_created"
	case registry.EventOrderConfirmed:
		column = "orders_confirmed"
	case registry.EventOrderCancelled:
		column = "orders_cancelled"
	default:
		return nil
	}
	return h.bumpOrderMetric(ctx, tx, occurredAt, column, 1, 0)
}

func (h *Handler) onPaymentEvent(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	var evt struct {
		OrderID     string `json:"order_id"`
		AmountCents int64  `json:"amount_cents"`
		CompletedAt string `json:"completed_at"`
		FailedAt    string `json:"failed_at"`
		RefundedAt  string `json:"refunded_at"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("invalid payment event payload", "err", err, "event_type", meta.EventType)
		return nil
	}
	if evt.OrderID == "" {
		h.logger.Error("payment event without order_id", "event_type", meta.EventType)
		return nil
	}

	occurredAt := firstTimestamp(evt.CompletedAt, evt.FailedAt, evt.RefundedAt)
	if err := h.recordFunnel(ctx, tx, meta, evt.OrderID, "", evt.AmountCents, occurredAt); err != nil {
		return err
	}

	switch meta.EventType {
	case registry.EventPaymentCompleted:
		return h.bumpOrderMetric(ctx, tx, occurredAt, "payments_completed", 1, evt.AmountCents)
	case registry.EventPaymentFailed:
		return h.bumpOrderMetric(ctx, tx, occurredAt, "payments_failed", 1, 0)
	case registry.EventPaymentRefunded:
		return h.bumpOrderMetric(ctx, tx, occurredAt, "payments_refunded", 1, -evt.AmountCents)
	}
	return nil
}

func (h *Handler) onInventoryEvent(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	var evt struct {
		OrderID    string `json:"order_id"`
		ReservedAt string `json:"reserved_at"`
		RejectedAt string `json:"rejected_at"`
		ReleasedAt string `json:"released_at"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("invalid inventory event payload", "err", err, "event_type", meta.EventType)
		return nil
	}
	if evt.OrderID == "" {
		h.logger.Error("inventory event without order_id", "event_type", meta.EventType)
		return nil
	}

	occurredAt := firstTimestamp(evt.ReservedAt, evt.RejectedAt, evt.ReleasedAt)
	if err := h.recordFunnel(ctx, tx, meta, evt.OrderID, "", 0, occurredAt); err != nil {
		return err
	}
	if meta.EventType == registry.EventInventoryRejected {
		return h.bumpOrderMetric(ctx, tx, occurredAt, "inventory_rejections", 1, 0)
	}
	return nil
}

func (h *Handler) onCartEvent(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	var evt struct {
		UserID      string `json:"user_id"`
		AddedAt     string `json:"added_at"`
		RemovedAt   string `json:"removed_at"`
		CompletedAt string `json:"completed_at"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("invalid cart event payload", "err", err, "event_type", meta.EventType)
		return nil
	}
	if evt.UserID == "" {
		h.logger.Error("cart event without user_id", "event_type", meta.EventType)
		return nil
	}

	var column string
	switch meta.EventType {
	case registry.EventCartItemAdded:
		column = "items_added"
	case registry.EventCartItemRemoved:
		column = "items_removed"
	case registry.EventCartCheckoutCompleted:
		column = "checkouts"
	default:
		return nil
	}

	day := firstTimestamp(evt.AddedAt, evt.RemovedAt, evt.CompletedAt)
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_cart_metrics (day, `+column+`)
		VALUES ($1::date, 1)
		ON CONFLICT (day)
		DO UPDATE SET `+column+` = daily_cart_metrics.`+column+` + 1,
		              updated_at = now()
	`, day)
	return err
}

func (h *Handler) recordFunnel(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, orderID, userID string, amountCents int64, occurredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_funnel_events (event_id, event_type, order_id, user_id, amount_cents, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, meta.EventID, meta.EventType, orderID, userID, amountCents, occurredAt)
	return err
}

// bumpOrderMetric upserts one day's counters. The column name comes
// from a fixed switch above, never from input.
func (h *Handler) bumpOrderMetric(ctx context.Context, tx pgx.Tx, day time.Time, column string, inc int, revenueDelta int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_order_metrics (day, `+column+`, revenue_cents)
		VALUES ($1::date, $2, $3)
		ON CONFLICT (day)
		DO UPDATE SET `+column+` = daily_order_metrics.`+column+` + EXCLUDED.`+column+`,
		              revenue_cents = daily_order_metrics.revenue_cents + EXCLUDED.revenue_cents,
		              updated_at = now()
	`, day, inc, revenueDelta)
	return err
}

func firstTimestamp(candidates ...string) time.Time {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
