package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	otelx "github.com/evercart/evercart/libs/otel"
)

// Repository persists outbox entries. Every method takes the caller's
// transaction: Insert joins the business write, the publisher's claim and
// mark calls share one transaction per batch so the row locks taken by
// ClaimPending hold until the marks commit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes a PENDING entry. The entry ID is assigned here and
// returned; the current trace context is captured alongside the payload.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_entries (id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, traceparent, tracestate)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// ClaimPending locks up to limit due entries for this transaction.
// FOR UPDATE SKIP LOCKED makes concurrent publishers invisible to each
// other: a row claimed elsewhere is simply not returned.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, traceparent, tracestate, created_at
		FROM outbox_entries
		WHERE status = 'PENDING' AND next_attempt_at <= now()
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Status: StatusPending}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.RetryCount, &e.LastError, &e.Traceparent, &e.Tracestate, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// MarkProcessed finalizes successfully published entries. The retry count
// is left as-is: it records how many attempts the entry survived.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_entries
		SET status = 'PROCESSED', processed_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// MarkRetry keeps the entry PENDING and schedules the next attempt.
func (r *Repository) MarkRetry(ctx context.Context, tx pgx.Tx, id string, retryCount int, nextAttemptAt time.Time, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_entries
		SET retry_count = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1
	`, id, retryCount, nextAttemptAt, truncateError(lastError))
	return err
}

// MarkFailed gives up on the entry. processed_at stays NULL.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, retryCount int, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_entries
		SET status = 'FAILED', retry_count = $2, last_error = $3
		WHERE id = $1
	`, id, retryCount, truncateError(lastError))
	return err
}

// CountByStatus tallies entries per status for the ops surface.
func (r *Repository) CountByStatus(ctx context.Context, tx pgx.Tx) (Counts, error) {
	rows, err := tx.Query(ctx, `
		SELECT status, count(*) FROM outbox_entries GROUP BY status
	`)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch Status(status) {
		case StatusPending:
			c.Pending = n
		case StatusProcessed:
			c.Processed = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// ListFailed returns the most recent FAILED entries for inspection.
func (r *Repository) ListFailed(ctx context.Context, tx pgx.Tx, limit int) ([]Entry, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, retry_count, last_error, traceparent, tracestate, created_at
		FROM outbox_entries
		WHERE status = 'FAILED'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e := Entry{Status: StatusFailed}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.RetryCount, &e.LastError, &e.Traceparent, &e.Tracestate, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// last_error is operator context, not an error archive.
func truncateError(s string) string {
	const max = 1024
	if len(s) > max {
		return s[:max]
	}
	return s
}
