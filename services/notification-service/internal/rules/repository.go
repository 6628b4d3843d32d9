// Package rules reads the per-business notification configuration: which
// event/channel pairs are enabled, reminder offsets, integration state, and
// recipient opt-outs.
package rules

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webschedulr/webschedulr/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// IsRuleEnabled reports whether notifications for an event/channel pair are
// switched on. A missing rule row means disabled.
func (r *Repository) IsRuleEnabled(ctx context.Context, businessID int64, eventType, channel string) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `
		SELECT enabled FROM business_notification_rules
		WHERE business_id = $1 AND event_type = $2 AND channel = $3
	`, businessID, eventType, channel).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// ReminderOffsetMinutes returns the channel's reminder lead time, or nil when
// no offset is configured (that channel sends no reminders).
func (r *Repository) ReminderOffsetMinutes(ctx context.Context, businessID int64, channel string) (*int, error) {
	var offset *int
	err := r.pool.QueryRow(ctx, `
		SELECT reminder_offset_minutes FROM business_notification_rules
		WHERE business_id = $1 AND event_type = 'appointment_reminder' AND channel = $2
	`, businessID, channel).Scan(&offset)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return offset, nil
}

// IsIntegrationActive reports whether the channel's provider integration is
// configured and active for the business.
func (r *Repository) IsIntegrationActive(ctx context.Context, businessID int64, channel string) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `
		SELECT active FROM channel_integrations
		WHERE business_id = $1 AND channel = $2
	`, businessID, channel).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

func (r *Repository) IsOptedOut(ctx context.Context, businessID int64, channel, recipient string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notification_opt_outs
		WHERE business_id = $1 AND channel = $2 AND recipient = $3
	`, businessID, channel, recipient).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ActiveBusinessIDs lists the businesses the reminder scan iterates over.
func (r *Repository) ActiveBusinessIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM businesses WHERE active ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OptOut records a recipient's opt-out. Opting out twice is a no-op.
func (r *Repository) OptOut(ctx context.Context, businessID int64, channel, recipient string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_opt_outs (business_id, channel, recipient)
		VALUES ($1, $2, $3)
	`, businessID, channel, recipient)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil
	}
	return err
}
