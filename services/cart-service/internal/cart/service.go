package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/cart-service/internal/storage"
)

var (
	ErrInvalidItem = errors.New("invalid cart item")
	ErrEmptyCart   = errors.New("cart is empty")
)

// Checkout is the snapshot handed back to the caller and mirrored into
// the checkout event. Orders are placed from it downstream; the cart
// itself is already drained by then.
type Checkout struct {
	CheckoutID string
	UserID     string
	Items      []storage.CartItem
	TotalCents int64
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

func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int, unitPriceCents int64) (storage.CartItem, error) {
	if quantity <= 0 || unitPriceCents < 0 {
		return storage.CartItem{}, ErrInvalidItem
	}
	if _, err := uuid.Parse(userID); err != nil {
		return storage.CartItem{}, fmt.Errorf("%w: bad user id", ErrInvalidItem)
	}
	if _, err := uuid.Parse(productID); err != nil {
		return storage.CartItem{}, fmt.Errorf("%w: bad product id", ErrInvalidItem)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.CartItem{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := s.repo.Upsert(ctx, tx, storage.CartItem{
		ID:             uuid.NewString(),
		UserID:         userID,
		ProductID:      productID,
		Quantity:       quantity,
		UnitPriceCents: unitPriceCents,
	})
	if err != nil {
		return storage.CartItem{}, err
	}

	if err := s.emit(ctx, tx, registry.EventCartItemAdded, userID, map[string]any{
		"user_id":          userID,
		"product_id":       productID,
		"quantity":         quantity,
		"unit_price_cents": unitPriceCents,
		"added_at":         time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return storage.CartItem{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.CartItem{}, err
	}

	s.logger.Info("cart item added", "user_id", userID, "product_id", productID, "quantity", item.Quantity)
	return item, nil
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := s.repo.Remove(ctx, tx, userID, productID); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, registry.EventCartItemRemoved, userID, map[string]any{
		"user_id":    userID,
		"product_id": productID,
		"removed_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("cart item removed", "user_id", userID, "product_id", productID)
	return nil
}

// CheckoutCart drains the cart and emits the checkout event with the
// full item snapshot in one transaction.
func (s *Service) CheckoutCart(ctx context.Context, userID string) (Checkout, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Checkout{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	items, err := s.repo.Drain(ctx, tx, userID)
	if err != nil {
		return Checkout{}, err
	}
	if len(items) == 0 {
		return Checkout{}, ErrEmptyCart
	}

	out := Checkout{
		CheckoutID: uuid.NewString(),
		UserID:     userID,
		Items:      items,
	}
	snapshot := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out.TotalCents += int64(it.Quantity) * it.UnitPriceCents
		snapshot = append(snapshot, map[string]any{
			"product_id":       it.ProductID,
			"quantity":         it.Quantity,
			"unit_price_cents": it.UnitPriceCents,
		})
	}

	if err := s.emit(ctx, tx, registry.EventCartCheckoutCompleted, userID, map[string]any{
		"checkout_id":  out.CheckoutID,
		"user_id":      userID,
		"items":        snapshot,
		"total_cents":  out.TotalCents,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return Checkout{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Checkout{}, err
	}

	s.logger.Info("cart checked out", "user_id", userID, "checkout_id", out.CheckoutID, "items", len(items), "total_cents", out.TotalCents)
	return out, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]storage.CartItem, error) {
	return s.repo.List(ctx, userID)
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType, userID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "cart",
		AggregateID:   userID,
		EventType:     eventType,
		Payload:       b,
	})
	return err
}
