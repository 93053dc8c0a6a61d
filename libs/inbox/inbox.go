package inbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository is the consumer-side dedup table. Record shares the
// handler's transaction so the marker and the handler's writes commit
// or roll back together.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Record inserts the event id and reports whether it was fresh. A
// redelivered event conflicts on the primary key and returns false
// without erroring the transaction.
func (r *Repository) Record(ctx context.Context, tx pgx.Tx, eventID string, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
