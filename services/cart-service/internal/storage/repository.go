package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

var ErrItemNotFound = errors.New("cart item not found")

type CartItem struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	AddedAt        time.Time `json:"added_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert adds the line or tops up an existing one. The price snapshot
// follows the latest add.
func (r *Repository) Upsert(ctx context.Context, tx pgx.Tx, item CartItem) (CartItem, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO cart_items (id, user_id, product_id, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    unit_price_cents = EXCLUDED.unit_price_cents
		RETURNING id, user_id, product_id, quantity, unit_price_cents, added_at
	`, item.ID, item.UserID, item.ProductID, item.Quantity, item.UnitPriceCents)

	var out CartItem
	err := row.Scan(&out.ID, &out.UserID, &out.ProductID, &out.Quantity, &out.UnitPriceCents, &out.AddedAt)
	return out, err
}

func (r *Repository) Remove(ctx context.Context, tx pgx.Tx, userID, productID string) (CartItem, error) {
	row := tx.QueryRow(ctx, `
		DELETE FROM cart_items
		WHERE user_id = $1 AND product_id = $2
		RETURNING id, user_id, product_id, quantity, unit_price_cents, added_at
	`, userID, productID)

	var out CartItem
	err := row.Scan(&out.ID, &out.UserID, &out.ProductID, &out.Quantity, &out.UnitPriceCents, &out.AddedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CartItem{}, ErrItemNotFound
	}
	return out, err
}

// Drain removes and returns every line in the user's cart. The checkout
// event is built from the returned snapshot.
func (r *Repository) Drain(ctx context.Context, tx pgx.Tx, userID string) ([]CartItem, error) {
	rows, err := tx.Query(ctx, `
		DELETE FROM cart_items
		WHERE user_id = $1
		RETURNING id, user_id, product_id, quantity, unit_price_cents, added_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) List(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, product_id, quantity, unit_price_cents, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CartItem
	for rows.Next() {
		var it CartItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
