package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/kafkax"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/order-service/internal/storage"
)

// Coordinator drives an order through its saga: it consumes the
// reservation and payment outcomes and advances the order row, emitting
// the next command event from the same transaction. Every transition is
// guarded by the current status, so duplicates and stragglers are no-ops.
type Coordinator struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Coordinator {
	return &Coordinator{repo: repo, outbox: outboxRepo, logger: logger}
}

// Handle dispatches one consumed message. It runs inside the consumer's
// transaction together with the inbox record.
func (c *Coordinator) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	switch meta.EventType {
	case registry.EventInventoryReserved:
		return c.onInventoryReserved(ctx, tx, msg.Value)
	case registry.EventInventoryRejected:
		return c.onInventoryRejected(ctx, tx, msg.Value)
	case registry.EventPaymentCompleted:
		return c.onPaymentCompleted(ctx, tx, msg.Value)
	case registry.EventPaymentFailed:
		return c.onPaymentFailed(ctx, tx, msg.Value)
	case registry.EventInventoryReleased, registry.EventPaymentRefunded:
		// Compensation confirmations; the order is already settled.
		return nil
	default:
		c.logger.Info("ignoring event", "event_type", meta.EventType)
		return nil
	}
}

func (c *Coordinator) onInventoryReserved(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID   string `json:"order_id"`
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("inventory.reserved payload: %w", err)
	}

	o, ok, err := c.repo.IncrementReserved(ctx, tx, evt.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("stale reservation outcome ignored", "order_id", evt.OrderID, "product_id", evt.ProductID)
		return nil
	}
	if o.ItemsReserved < o.ItemsTotal {
		c.logger.Info("order line reserved", "order_id", o.ID, "reserved", o.ItemsReserved, "total", o.ItemsTotal)
		return nil
	}

	// Every line is reserved; hand the order to the payment service.
	o, ok, err = c.repo.Transition(ctx, tx, o.ID,
		[]storage.Status{storage.StatusCreated}, storage.StatusAwaitingPayment)
	if err != nil || !ok {
		return err
	}
	c.logger.Info("order fully reserved, requesting payment", "order_id", o.ID, "amount_cents", o.TotalCents)
	return c.emit(ctx, tx, o.ID, registry.EventOrderPaymentRequested, map[string]any{
		"order_id":     o.ID,
		"user_id":      o.UserID,
		"amount_cents": o.TotalCents,
		"currency":     o.Currency,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Coordinator) onInventoryRejected(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID   string `json:"order_id"`
		ProductID string `json:"product_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("inventory.rejected payload: %w", err)
	}

	reason := "inventory rejected: " + evt.Reason
	o, ok, err := c.repo.Cancel(ctx, tx, evt.OrderID,
		[]storage.Status{storage.StatusCreated}, reason)
	if err != nil {
		return err
	}
	if !ok {
		// A second rejected line, or a cancel that already happened.
		c.logger.Info("stale rejection ignored", "order_id", evt.OrderID, "product_id", evt.ProductID)
		return nil
	}
	c.logger.Warn("order cancelled by inventory", "order_id", o.ID, "product_id", evt.ProductID, "reason", evt.Reason)
	return c.emitCancelled(ctx, tx, o, reason)
}

func (c *Coordinator) onPaymentCompleted(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("payment.completed payload: %w", err)
	}

	o, ok, err := c.repo.Transition(ctx, tx, evt.OrderID,
		[]storage.Status{storage.StatusAwaitingPayment}, storage.StatusConfirmed)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("stale payment outcome ignored", "order_id", evt.OrderID, "payment_id", evt.PaymentID)
		return nil
	}
	c.logger.Info("order confirmed", "order_id", o.ID, "payment_id", evt.PaymentID)
	return c.emit(ctx, tx, o.ID, registry.EventOrderConfirmed, map[string]any{
		"order_id":     o.ID,
		"user_id":      o.UserID,
		"payment_id":   evt.PaymentID,
		"confirmed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Coordinator) onPaymentFailed(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID string `json:"order_id"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("payment.failed payload: %w", err)
	}

	reason := "payment failed: " + evt.Reason
	o, ok, err := c.repo.Cancel(ctx, tx, evt.OrderID,
		[]storage.Status{storage.StatusAwaitingPayment}, reason)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("stale payment failure ignored", "order_id", evt.OrderID)
		return nil
	}
	c.logger.Warn("order cancelled by payment", "order_id", o.ID, "reason", evt.Reason)
	return c.emitCancelled(ctx, tx, o, reason)
}

func (c *Coordinator) emitCancelled(ctx context.Context, tx pgx.Tx, o storage.Order, reason string) error {
	return c.emit(ctx, tx, o.ID, registry.EventOrderCancelled, map[string]any{
		"order_id":     o.ID,
		"user_id":      o.UserID,
		"reason":       reason,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Coordinator) emit(ctx context.Context, tx pgx.Tx, orderID string, eventType string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = c.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       b,
	})
	return err
}
