package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/evercart/evercart/libs/db"
)

var ErrPaymentNotFound = errors.New("payment not found")

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusRefunded  Status = "REFUNDED"
)

type Payment struct {
	ID                string
	OrderID           string
	UserID            string
	AmountCents       int64
	Currency          string
	Status            Status
	Provider          string
	ProviderPaymentID string
	ProviderRefundID  string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const paymentColumns = `id, order_id, user_id, amount_cents, currency, status, provider, provider_payment_id, provider_refund_id, failure_reason, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.AmountCents, &p.Currency, &p.Status, &p.Provider, &p.ProviderPaymentID, &p.ProviderRefundID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, p Payment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO payments (id, order_id, user_id, amount_cents, currency, status, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.OrderID, p.UserID, p.AmountCents, p.Currency, p.Status, p.Provider)
	return err
}

// GetByOrderForUpdate locks the order's payment row for the rest of the
// transaction. The cancellation flow reads and then settles the row; the
// lock keeps a concurrent charge from interleaving.
func (r *Repository) GetByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func (r *Repository) GetByOrder(ctx context.Context, orderID string) (Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func (r *Repository) Complete(ctx context.Context, tx pgx.Tx, id string, providerPaymentID string) (Payment, bool, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'COMPLETED', provider_payment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+paymentColumns+`
	`, id, providerPaymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	return p, true, nil
}

func (r *Repository) Fail(ctx context.Context, tx pgx.Tx, id string, reason string) (Payment, bool, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'FAILED', failure_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+paymentColumns+`
	`, id, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	return p, true, nil
}

func (r *Repository) CancelPending(ctx context.Context, tx pgx.Tx, id string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkRefunded(ctx context.Context, tx pgx.Tx, id string, providerRefundID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'REFUNDED', provider_refund_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'COMPLETED'
	`, id, providerRefundID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
