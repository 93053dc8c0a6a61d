package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

var ErrStockNotFound = errors.New("stock row not found")

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
)

type Stock struct {
	ProductID string
	Available int
	Reserved  int
	UpdatedAt time.Time
}

type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Status    ReservationStatus
	CreatedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// SeedStock creates the stock row for a new product. Replayed
// product.created events hit the conflict clause and change nothing.
func (r *Repository) SeedStock(ctx context.Context, tx pgx.Tx, productID string, initial int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO product_stock (product_id, available)
		VALUES ($1, $2)
		ON CONFLICT (product_id) DO NOTHING
	`, productID, initial)
	return err
}

// AddStock tops up availability for an existing product.
func (r *Repository) AddStock(ctx context.Context, tx pgx.Tx, productID string, qty int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_stock
		SET available = available + $2, updated_at = now()
		WHERE product_id = $1
	`, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Reserve moves qty units from available to reserved, but only if enough
// stock remains. The guard in the WHERE clause is the whole reservation
// algorithm: no row updated means not enough stock (or no such product).
func (r *Repository) Reserve(ctx context.Context, tx pgx.Tx, productID string, qty int) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE product_stock
		SET available = available - $2, reserved = reserved + $2, updated_at = now()
		WHERE product_id = $1 AND available >= $2
	`, productID, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) InsertReservation(ctx context.Context, tx pgx.Tx, res Reservation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservations (id, order_id, product_id, quantity, status)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.OrderID, res.ProductID, res.Quantity, res.Status)
	return err
}

// ReleaseOrder flips the order's ACTIVE reservations to RELEASED and
// returns the stock to availability. Running it twice for the same order
// releases nothing the second time.
func (r *Repository) ReleaseOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]Reservation, error) {
	rows, err := tx.Query(ctx, `
		UPDATE reservations
		SET status = 'RELEASED', released_at = now()
		WHERE order_id = $1 AND status = 'ACTIVE'
		RETURNING id, order_id, product_id, quantity
	`, orderID)
	if err != nil {
		return nil, err
	}
	released, err := collectReservations(rows)
	if err != nil {
		return nil, err
	}

	for _, res := range released {
		_, err := tx.Exec(ctx, `
			UPDATE product_stock
			SET available = available + $2, reserved = reserved - $2, updated_at = now()
			WHERE product_id = $1
		`, res.ProductID, res.Quantity)
		if err != nil {
			return nil, err
		}
	}
	return released, nil
}

func (r *Repository) GetStock(ctx context.Context, productID string) (Stock, error) {
	var s Stock
	err := r.pool.QueryRow(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM product_stock
		WHERE product_id = $1
	`, productID).Scan(&s.ProductID, &s.Available, &s.Reserved, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockNotFound
	}
	return s, err
}

func (r *Repository) ListStock(ctx context.Context, limit int) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM product_stock
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ProductID, &s.Available, &s.Reserved, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.ProductID, &res.Quantity); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
