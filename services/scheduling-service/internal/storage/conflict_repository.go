package storage

import (
	"context"
	"time"

	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
)

// ConflictRepository answers the interval queries behind slot generation and
// the authoritative availability check. Cancelled appointments never count.
type ConflictRepository struct {
	pool *db.Pool
}

func NewConflictRepository(pool *db.Pool) *ConflictRepository {
	return &ConflictRepository{pool: pool}
}

// OverlappingAppointments finds non-cancelled appointments whose [start_at,
// end_at) intersects [start, end). Half-open on both sides, so back-to-back
// appointments do not conflict.
func (r *ConflictRepository) OverlappingAppointments(ctx context.Context, providerID int64, start, end time.Time, excludeID, locationID *int64) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status <> 'cancelled'
			AND start_at < $3
			AND end_at > $2
			AND ($4::bigint IS NULL OR id <> $4)
			AND ($5::bigint IS NULL OR location_id = $5)
		ORDER BY start_at ASC
	`, providerID, start, end, excludeID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// OverlappingBlockedTimes includes global rows (provider_id IS NULL), which
// block every provider.
func (r *ConflictRepository) OverlappingBlockedTimes(ctx context.Context, providerID int64, start, end time.Time) ([]model.BlockedTime, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, start_at, end_at, COALESCE(reason, '')
		FROM blocked_times
		WHERE (provider_id = $1 OR provider_id IS NULL)
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.BlockedTime
	for rows.Next() {
		var b model.BlockedTime
		if err := rows.Scan(&b.ID, &b.ProviderID, &b.StartAt, &b.EndAt, &b.Reason); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}

func (r *ConflictRepository) AppointmentsForDay(ctx context.Context, providerID int64, dayStart, dayEnd time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status <> 'cancelled'
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
	`, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}
