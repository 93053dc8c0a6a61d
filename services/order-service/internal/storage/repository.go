package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

var ErrOrderNotFound = errors.New("order not found")

type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusConfirmed       Status = "CONFIRMED"
	StatusCancelled       Status = "CANCELLED"
)

type Order struct {
	ID            string
	UserID        string
	Status        Status
	Currency      string
	TotalCents    int64
	ItemsTotal    int
	ItemsReserved int
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OrderItem struct {
	ID             string
	OrderID        string
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, user_id, status, currency, total_cents, items_total, items_reserved, cancel_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.Currency, &o.TotalCents, &o.ItemsTotal, &o.ItemsReserved, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (r *Repository) InsertOrder(ctx context.Context, tx pgx.Tx, o Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, currency, total_cents, items_total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.UserID, o.Status, o.Currency, o.TotalCents, o.ItemsTotal)
	return err
}

func (r *Repository) InsertOrderItem(ctx context.Context, tx pgx.Tx, item OrderItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price_cents)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPriceCents)
	return err
}

func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (r *Repository) ListOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// IncrementReserved bumps the reserved-line counter while the order is
// still CREATED. Returns false when the order moved on (or never existed);
// a stale reservation outcome is then simply ignored.
func (r *Repository) IncrementReserved(ctx context.Context, tx pgx.Tx, orderID string) (Order, bool, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET items_reserved = items_reserved + 1, updated_at = now()
		WHERE id = $1 AND status = 'CREATED'
		RETURNING `+orderColumns+`
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

// Transition moves the order from one of the given statuses to the next
// one. Returns false when the current status does not match: duplicate
// and out-of-order events land here and must change nothing.
func (r *Repository) Transition(ctx context.Context, tx pgx.Tx, orderID string, from []Status, to Status) (Order, bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+orderColumns+`
	`, orderID, states, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

// Cancel is Transition to CANCELLED with the reason recorded on the row.
func (r *Repository) Cancel(ctx context.Context, tx pgx.Tx, orderID string, from []Status, reason string) (Order, bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = 'CANCELLED', cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+orderColumns+`
	`, orderID, states, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}
