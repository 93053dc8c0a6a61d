package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/kafkax"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/payment-service/internal/charge"
	"github.com/evercart/evercart/services/payment-service/internal/storage"
)

// Handler settles payments for orders. The charge happens inside the
// consumer transaction: the payment row, its outcome event, and the
// inbox marker commit together, and the provider's idempotency key
// absorbs the redelivery that follows a crash in between.
type Handler struct {
	repo     *storage.Repository
	outbox   *outbox.Repository
	provider charge.Provider
	logger   *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, provider charge.Provider, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outbox: outboxRepo, provider: provider, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	switch meta.EventType {
	case registry.EventOrderPaymentRequested:
		return h.onPaymentRequested(ctx, tx, msg.Value)
	case registry.EventOrderCancelled:
		return h.onOrderCancelled(ctx, tx, msg.Value)
	default:
		return nil
	}
}

func (h *Handler) onPaymentRequested(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID     string `json:"order_id"`
		UserID      string `json:"user_id"`
		AmountCents int64  `json:"amount_cents"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("order.payment.requested payload: %w", err)
	}
	if evt.Currency == "" {
		evt.Currency = "usd"
	}

	p := storage.Payment{
		ID:          uuid.NewString(),
		OrderID:     evt.OrderID,
		UserID:      evt.UserID,
		AmountCents: evt.AmountCents,
		Currency:    evt.Currency,
		Status:      storage.StatusPending,
		Provider:    h.provider.Name(),
	}
	if err := h.repo.Insert(ctx, tx, p); err != nil {
		return err
	}

	result, err := h.provider.Charge(ctx, charge.Request{
		OrderID:     evt.OrderID,
		UserID:      evt.UserID,
		AmountCents: evt.AmountCents,
		Currency:    evt.Currency,
	})
	if err != nil {
		// Transport trouble, not a verdict. Roll back and let the
		// redelivery try again.
		return fmt.Errorf("charge order %s: %w", evt.OrderID, err)
	}

	if result.Declined {
		if _, _, err := h.repo.Fail(ctx, tx, p.ID, result.Reason); err != nil {
			return err
		}
		h.logger.Warn("payment declined", "order_id", evt.OrderID, "payment_id", p.ID, "reason", result.Reason)
		return h.emit(ctx, tx, registry.EventPaymentFailed, evt.OrderID, map[string]any{
			"order_id":   evt.OrderID,
			"payment_id": p.ID,
			"reason":     result.Reason,
			"failed_at":  time.Now().UTC().Format(time.RFC3339),
		})
	}

	if _, _, err := h.repo.Complete(ctx, tx, p.ID, result.ProviderPaymentID); err != nil {
		return err
	}
	h.logger.Info("payment completed", "order_id", evt.OrderID, "payment_id", p.ID, "amount_cents", evt.AmountCents, "provider", h.provider.Name())
	return h.emit(ctx, tx, registry.EventPaymentCompleted, evt.OrderID, map[string]any{
		"order_id":     evt.OrderID,
		"payment_id":   p.ID,
		"amount_cents": evt.AmountCents,
		"currency":     evt.Currency,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// onOrderCancelled settles the payment side of a cancelled order. A
// pending payment is simply closed; a completed one is refunded, the
// late-cancel compensation.
func (h *Handler) onOrderCancelled(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("order.cancelled payload: %w", err)
	}

	p, err := h.repo.GetByOrderForUpdate(ctx, tx, evt.OrderID)
	if errors.Is(err, storage.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch p.Status {
	case storage.StatusPending:
		if _, err := h.repo.CancelPending(ctx, tx, p.ID); err != nil {
			return err
		}
		h.logger.Info("pending payment cancelled", "order_id", evt.OrderID, "payment_id", p.ID)
		return nil
	case storage.StatusCompleted:
		refundID, err := h.provider.Refund(ctx, p.ProviderPaymentID, p.OrderID)
		if err != nil {
			return fmt.Errorf("refund order %s: %w", evt.OrderID, err)
		}
		if _, err := h.repo.MarkRefunded(ctx, tx, p.ID, refundID); err != nil {
			return err
		}
		h.logger.Info("payment refunded", "order_id", evt.OrderID, "payment_id", p.ID, "refund_id", refundID)
		return h.emit(ctx, tx, registry.EventPaymentRefunded, evt.OrderID, map[string]any{
			"order_id":     evt.OrderID,
			"payment_id":   p.ID,
			"refund_id":    refundID,
			"amount_cents": p.AmountCents,
			"refunded_at":  time.Now().UTC().Format(time.RFC3339),
		})
	default:
		return nil
	}
}

func (h *Handler) emit(ctx context.Context, tx pgx.Tx, eventType, orderID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "payment",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       b,
	})
	return err
}
