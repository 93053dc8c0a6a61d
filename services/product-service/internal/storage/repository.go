package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

var ErrProductNotFound = errors.New("product not found")

type Product struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PriceCents   int64     `json:"price_cents"`
	Currency     string    `json:"currency"`
	InitialStock int       `json:"initial_stock"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, description, price_cents, currency, initial_stock, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Currency, &p.InitialStock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p Product) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO products (id, name, description, price_cents, currency, initial_stock)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Description, p.PriceCents, p.Currency, p.InitialStock)
	return err
}

func (r *Repository) UpdateDetails(ctx context.Context, tx pgx.Tx, id, name, description string) (Product, error) {
	p, err := scanProduct(tx.QueryRow(ctx, `
		UPDATE products
		SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns+`
	`, id, name, description))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// ChangePrice swaps the price and reports the previous one, so the
// emitted event can carry both.
func (r *Repository) ChangePrice(ctx context.Context, tx pgx.Tx, id string, priceCents int64) (Product, int64, error) {
	var old int64
	if err := tx.QueryRow(ctx, `
		SELECT price_cents FROM products WHERE id = $1 FOR UPDATE
	`, id).Scan(&old); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, 0, ErrProductNotFound
		}
		return Product{}, 0, err
	}

	p, err := scanProduct(tx.QueryRow(ctx, `
		UPDATE products
		SET price_cents = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns+`
	`, id, priceCents))
	return p, old, err
}

func (r *Repository) Get(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func (r *Repository) List(ctx context.Context, limit int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
