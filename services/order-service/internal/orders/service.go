package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/order-service/internal/storage"
)

var (
	ErrEmptyOrder     = errors.New("order has no items")
	ErrInvalidLine    = errors.New("invalid order line")
	ErrNotCancellable = errors.New("order is not cancellable")
)

type LineInput struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

type PlaceOrderInput struct {
	UserID   string
	Currency string
	Items    []LineInput
}

type Service struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
	logger *slog.Logger
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Service {
	return &Service{pool: pool, repo: repo, outbox: outboxRepo, logger: logger}
}

// PlaceOrder writes the order, its lines, and the order.created event in
// one transaction. The event reaches Kafka only if the order committed,
// and an order never commits without its event.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (storage.Order, error) {
	if len(in.Items) == 0 {
		return storage.Order{}, ErrEmptyOrder
	}
	if _, err := uuid.Parse(in.UserID); err != nil {
		return storage.Order{}, fmt.Errorf("invalid user id: %w", err)
	}
	if in.Currency == "" {
		in.Currency = "usd"
	}

	var total int64
	for _, line := range in.Items {
		if line.Quantity <= 0 || line.UnitPriceCents < 0 {
			return storage.Order{}, fmt.Errorf("%w: product %s", ErrInvalidLine, line.ProductID)
		}
		if _, err := uuid.Parse(line.ProductID); err != nil {
			return storage.Order{}, fmt.Errorf("%w: product %s", ErrInvalidLine, line.ProductID)
		}
		total += int64(line.Quantity) * line.UnitPriceCents
	}

	o := storage.Order{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		Status:     storage.StatusCreated,
		Currency:   in.Currency,
		TotalCents: total,
		ItemsTotal: len(in.Items),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.InsertOrder(ctx, tx, o); err != nil {
		return storage.Order{}, err
	}

	items := make([]map[string]any, 0, len(in.Items))
	for _, line := range in.Items {
		item := storage.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        o.ID,
			ProductID:      line.ProductID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		}
		if err := s.repo.InsertOrderItem(ctx, tx, item); err != nil {
			return storage.Order{}, err
		}
		items = append(items, map[string]any{
			"product_id":       line.ProductID,
			"quantity":         line.Quantity,
			"unit_price_cents": line.UnitPriceCents,
		})
	}

	payload, err := json.Marshal(map[string]any{
		"order_id":    o.ID,
		"user_id":     o.UserID,
		"currency":    o.Currency,
		"total_cents": o.TotalCents,
		"items":       items,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return storage.Order{}, err
	}
	if _, err := s.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "order",
		AggregateID:   o.ID,
		EventType:     registry.EventOrderCreated,
		Payload:       payload,
	}); err != nil {
		return storage.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Order{}, err
	}
	s.logger.Info("order placed", "order_id", o.ID, "user_id", o.UserID, "total_cents", o.TotalCents, "items", o.ItemsTotal)
	return o, nil
}

// Cancel cancels an order that has not been confirmed yet. Confirmed
// orders are out of reach here; a cancellation that races the payment is
// resolved by the payment service refunding on the cancelled event.
func (s *Service) Cancel(ctx context.Context, orderID string, reason string) (storage.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, ok, err := s.repo.Cancel(ctx, tx, orderID,
		[]storage.Status{storage.StatusCreated, storage.StatusAwaitingPayment}, reason)
	if err != nil {
		return storage.Order{}, err
	}
	if !ok {
		if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
			return storage.Order{}, err
		}
		return storage.Order{}, ErrNotCancellable
	}

	payload, err := json.Marshal(map[string]any{
		"order_id":     o.ID,
		"user_id":      o.UserID,
		"reason":       reason,
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return storage.Order{}, err
	}
	if _, err := s.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "order",
		AggregateID:   o.ID,
		EventType:     registry.EventOrderCancelled,
		Payload:       payload,
	}); err != nil {
		return storage.Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.Order{}, err
	}
	s.logger.Info("order cancelled", "order_id", o.ID, "reason", reason)
	return o, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (storage.Order, []storage.OrderItem, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return storage.Order{}, nil, err
	}
	items, err := s.repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return storage.Order{}, nil, err
	}
	return o, items, nil
}
