package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/evercart/evercart/libs/kafkax"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/inventory-service/internal/storage"
)

// Handler applies catalog and order events to the stock ledger. Each
// order line is reserved independently; the order service aggregates the
// per-line outcomes and drives the compensation on rejection.
type Handler struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outbox: outboxRepo, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, tx pgx.Tx, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	switch meta.EventType {
	case registry.EventProductCreated:
		return h.onProductCreated(ctx, tx, msg.Value)
	case registry.EventOrderCreated:
		return h.onOrderCreated(ctx, tx, msg.Value)
	case registry.EventOrderCancelled:
		return h.onOrderCancelled(ctx, tx, msg.Value)
	default:
		// Other order-events and catalog updates do not touch stock.
		return nil
	}
}

func (h *Handler) onProductCreated(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		ProductID    string `json:"product_id"`
		InitialStock int    `json:"initial_stock"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("product.created payload: %w", err)
	}
	if evt.InitialStock < 0 {
		evt.InitialStock = 0
	}
	if err := h.repo.SeedStock(ctx, tx, evt.ProductID, evt.InitialStock); err != nil {
		return err
	}
	h.logger.Info("stock seeded", "product_id", evt.ProductID, "available", evt.InitialStock)
	return nil
}

func (h *Handler) onOrderCreated(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID string `json:"order_id"`
		Items   []struct {
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("order.created payload: %w", err)
	}

	for _, line := range evt.Items {
		ok, err := h.repo.Reserve(ctx, tx, line.ProductID, line.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			h.logger.Warn("reservation rejected", "order_id", evt.OrderID, "product_id", line.ProductID, "quantity", line.Quantity)
			if err := h.emit(ctx, tx, registry.EventInventoryRejected, line.ProductID, map[string]any{
				"order_id":    evt.OrderID,
				"product_id":  line.ProductID,
				"quantity":    line.Quantity,
				"reason":      "insufficient stock",
				"rejected_at": time.Now().UTC().Format(time.RFC3339),
			}); err != nil {
				return err
			}
			continue
		}

		res := storage.Reservation{
			ID:        uuid.NewString(),
			OrderID:   evt.OrderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Status:    storage.ReservationActive,
		}
		if err := h.repo.InsertReservation(ctx, tx, res); err != nil {
			return err
		}
		h.logger.Info("stock reserved", "order_id", evt.OrderID, "product_id", line.ProductID, "quantity", line.Quantity)
		if err := h.emit(ctx, tx, registry.EventInventoryReserved, line.ProductID, map[string]any{
			"order_id":       evt.OrderID,
			"product_id":     line.ProductID,
			"quantity":       line.Quantity,
			"reservation_id": res.ID,
			"reserved_at":    time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) onOrderCancelled(ctx context.Context, tx pgx.Tx, payload []byte) error {
	var evt struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("order.cancelled payload: %w", err)
	}

	released, err := h.repo.ReleaseOrder(ctx, tx, evt.OrderID)
	if err != nil {
		return err
	}
	for _, res := range released {
		h.logger.Info("reservation released", "order_id", res.OrderID, "product_id", res.ProductID, "quantity", res.Quantity)
		if err := h.emit(ctx, tx, registry.EventInventoryReleased, res.ProductID, map[string]any{
			"order_id":    res.OrderID,
			"product_id":  res.ProductID,
			"quantity":    res.Quantity,
			"released_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) emit(ctx context.Context, tx pgx.Tx, eventType, productID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = h.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "stock",
		AggregateID:   productID,
		EventType:     eventType,
		Payload:       b,
	})
	return err
}
