// Package deliverylog is the append-only audit trail of dispatch attempts.
// Rows are never updated or deleted, and a failed insert must never abort
// the dispatch that produced it.
package deliverylog

import (
	"context"
	"time"

	"github.com/webschedulr/webschedulr/libs/db"
)

// Outcome values recorded per attempt.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusSkipped   = "skipped"
)

type Entry struct {
	BusinessID    int64
	QueueEntryID  *int64
	CorrelationID string
	Channel       string
	EventType     string
	AppointmentID int64
	Recipient     string
	Provider      string
	Status        string
	Attempt       int
	ErrorMessage  string
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Append(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_delivery_log
			(business_id, queue_entry_id, correlation_id, channel, event_type,
			 appointment_id, recipient, provider, status, attempt, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.BusinessID, e.QueueEntryID, e.CorrelationID, e.Channel, e.EventType,
		e.AppointmentID, e.Recipient, e.Provider, e.Status, e.Attempt, e.ErrorMessage)
	return err
}
