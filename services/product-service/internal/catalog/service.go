package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
	"github.com/evercart/evercart/libs/outbox"
	"github.com/evercart/evercart/libs/registry"
	"github.com/evercart/evercart/services/product-service/internal/storage"
)

var (
	ErrEmptyName    = errors.New("product name is required")
	ErrInvalidPrice = errors.New("price must not be negative")
)

type CreateInput struct {
	Name         string
	Description  string
	PriceCents   int64
	Currency     string
	InitialStock int
}

// Service owns the catalog. Every write commits its event through the
// outbox; the compacted product-events topic keeps the latest state per
// product for late-joining consumers.
type Service struct {
	pool   *db.Pool
	repo   *storage.Repository
	outbox *outbox.Repository
	cache  *Cache
	logger *slog.Logger
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, cache *Cache, logger *slog.Logger) *Service {
	return &Service{pool: pool, repo: repo, outbox: outboxRepo, cache: cache, logger: logger}
}

func (s *Service) Create(ctx context.Context, in CreateInput) (storage.Product, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return storage.Product{}, ErrEmptyName
	}
	if in.PriceCents < 0 {
		return storage.Product{}, ErrInvalidPrice
	}
	if in.Currency == "" {
		in.Currency = "usd"
	}
	if in.InitialStock < 0 {
		in.InitialStock = 0
	}

	p := storage.Product{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Description:  in.Description,
		PriceCents:   in.PriceCents,
		Currency:     in.Currency,
		InitialStock: in.InitialStock,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Product{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.repo.Insert(ctx, tx, p); err != nil {
		return storage.Product{}, err
	}
	if err := s.emit(ctx, tx, registry.EventProductCreated, p.ID, map[string]any{
		"product_id":    p.ID,
		"name":          p.Name,
		"price_cents":   p.PriceCents,
		"currency":      p.Currency,
		"initial_stock": p.InitialStock,
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return storage.Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Product{}, err
	}

	s.logger.Info("product created", "product_id", p.ID, "name", p.Name, "price_cents", p.PriceCents)
	return p, nil
}

func (s *Service) UpdateDetails(ctx context.Context, id, name, description string) (storage.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.Product{}, ErrEmptyName
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Product{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := s.repo.UpdateDetails(ctx, tx, id, name, description)
	if err != nil {
		return storage.Product{}, err
	}
	if err := s.emit(ctx, tx, registry.EventProductUpdated, p.ID, map[string]any{
		"product_id":  p.ID,
		"name":        p.Name,
		"description": p.Description,
		"updated_at":  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return storage.Product{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Product{}, err
	}

	s.cache.Invalidate(ctx, p.ID)
	s.logger.Info("product updated", "product_id", p.ID)
	return p, nil
}

func (s *Service) ChangePrice(ctx context.Context, id string, priceCents int64) (storage.Product, error) {
	if priceCents < 0 {
		return storage.Product{}, ErrInvalidPrice
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storage.Product{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, oldPrice, err := s.repo.ChangePrice(ctx, tx, id, priceCents)
	if err != nil {
		return storage.Product{}, err
	}
	// An unchanged price is not a price change; skip the event fanout.
	if oldPrice != priceCents {
		if err := s.emit(ctx, tx, registry.EventProductPriceChanged, p.ID, map[string]any{
			"product_id":      p.ID,
			"old_price_cents": oldPrice,
			"new_price_cents": priceCents,
			"changed_at":      time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return storage.Product{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.Product{}, err
	}

	s.cache.Invalidate(ctx, p.ID)
	s.logger.Info("product price changed", "product_id", p.ID, "old_cents", oldPrice, "new_cents", priceCents)
	return p, nil
}

// Get serves reads through the cache.
func (s *Service) Get(ctx context.Context, id string) (storage.Product, error) {
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return storage.Product{}, err
	}
	s.cache.Put(ctx, p)
	return p, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]storage.Product, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType, productID string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.outbox.Insert(ctx, tx, outbox.Entry{
		AggregateType: "product",
		AggregateID:   productID,
		EventType:     eventType,
		Payload:       b,
	})
	return err
}
