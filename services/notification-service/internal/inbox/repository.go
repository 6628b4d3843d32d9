// Package inbox deduplicates consumed events. Kafka delivers at least once;
// the unique event id insert makes enqueue processing exactly once.
package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webschedulr/webschedulr/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Seen reports whether an event id was already processed.
func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM inbox_events WHERE event_id = $1
	`, eventID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record registers an event id. A false return means the event was already
// processed and must be skipped.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}
