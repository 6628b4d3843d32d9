package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/libs/db"
)

// staleLockAge is how long a claimed row stays locked before any worker may
// reclaim it, covering workers that crashed mid-dispatch.
const staleLockAge = 15 * time.Minute

const entryColumns = `
	id, business_id, channel, event_type, appointment_id, status,
	attempts, max_attempts, run_after, idempotency_key,
	COALESCE(correlation_id, ''), COALESCE(lock_token, ''), locked_at,
	COALESCE(last_error, ''), created_at`

type Repository struct {
	pool *db.Pool

	reminderColOnce sync.Once
	reminderCol     bool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert enqueues an entry idempotently. When a row with the same
// (business_id, idempotency_key) already exists, the existing id is returned
// with inserted=false; a duplicate enqueue is a no-op, never an error. The
// insert-then-recheck shape is deliberate: uniqueness may surface as a
// conflict error or as a silently skipped insert depending on the storage
// engine, and both must land in the same no-op path.
func (r *Repository) Insert(ctx context.Context, e *Entry) (int64, bool, error) {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}

	var id int64
	insertErr := r.pool.QueryRow(ctx, `
		INSERT INTO notification_queue
			(business_id, channel, event_type, appointment_id, status,
			 attempts, max_attempts, run_after, idempotency_key)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
		RETURNING id
	`, e.BusinessID, e.Channel, e.EventType, e.AppointmentID,
		e.MaxAttempts, e.RunAfter, e.IdempotencyKey).Scan(&id)
	if insertErr == nil {
		return id, true, nil
	}

	var existing int64
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM notification_queue
		WHERE business_id = $1 AND idempotency_key = $2
	`, e.BusinessID, e.IdempotencyKey).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, insertErr
	}
	return 0, false, err
}

// FetchDueIDs selects dispatch candidates: queued, due, and either unlocked
// or stale-locked. Ordered by id ascending so the oldest obligations go
// first.
func (r *Repository) FetchDueIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM notification_queue
		WHERE status = 'queued'
			AND (run_after IS NULL OR run_after <= now())
			AND (lock_token IS NULL OR locked_at < now() - make_interval(mins => $2))
		ORDER BY id ASC
		LIMIT $1
	`, limit, int(staleLockAge.Minutes()))
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

// Claim is the optimistic-lock compare-and-swap: the update applies only if
// the row is still unlocked or stale-locked. A false return means another
// worker won the row.
func (r *Repository) Claim(ctx context.Context, id int64, lockToken string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET lock_token = $2, locked_at = now()
		WHERE id = $1
			AND status = 'queued'
			AND (run_after IS NULL OR run_after <= now())
			AND (lock_token IS NULL OR locked_at < now() - make_interval(mins => $3))
	`, id, lockToken, int(staleLockAge.Minutes()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FetchClaimed re-reads rows by lock token, dropping any row another worker
// claimed between candidate selection and the claim update.
func (r *Repository) FetchClaimed(ctx context.Context, lockToken string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM notification_queue
		WHERE lock_token = $1 AND status = 'queued'
		ORDER BY id ASC
	`, lockToken)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.BusinessID, &e.Channel, &e.EventType, &e.AppointmentID, &e.Status,
			&e.Attempts, &e.MaxAttempts, &e.RunAfter, &e.IdempotencyKey,
			&e.CorrelationID, &e.LockToken, &e.LockedAt,
			&e.LastError, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'sent', lock_token = NULL, locked_at = NULL, last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) Cancel(ctx context.Context, id int64, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'cancelled', lock_token = NULL, locked_at = NULL, last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'failed', attempts = $2, lock_token = NULL, locked_at = NULL, last_error = $3
		WHERE id = $1
	`, id, attempts, lastError)
	return err
}

// Requeue schedules a retry: attempts recorded, lock cleared, row back to
// queued with a deferred run_after.
func (r *Repository) Requeue(ctx context.Context, id int64, attempts int, runAfter time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = 'queued', attempts = $2, run_after = $3,
			lock_token = NULL, locked_at = NULL, last_error = $4
		WHERE id = $1
	`, id, attempts, runAfter, lastError)
	return err
}

// Release clears the lock without touching attempts, for rows skipped by a
// per-run rate budget.
func (r *Repository) Release(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET lock_token = NULL, locked_at = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *Repository) SetCorrelationID(ctx context.Context, id int64, correlationID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_queue
		SET correlation_id = $2
		WHERE id = $1
	`, id, correlationID)
	return err
}

// ReminderCandidate is a future appointment eligible for reminder enqueue.
type ReminderCandidate struct {
	AppointmentID int64
	StartAt       time.Time
}

// ReminderCandidates scans one business's non-cancelled future appointments
// inside the look-ahead window. The scan runs per business; without the
// business_id filter every active business would enqueue reminders for every
// appointment. The reminder_sent column is optional: a schema without it
// degrades to treating every appointment as eligible.
func (r *Repository) ReminderCandidates(ctx context.Context, businessID int64, now time.Time, lookahead time.Duration) ([]ReminderCandidate, error) {
	query := `
		SELECT id, start_at FROM appointments
		WHERE business_id = $3
			AND status <> 'cancelled'
			AND start_at > $1
			AND start_at <= $2`
	if r.hasReminderColumn(ctx) {
		query += `
			AND reminder_sent = false`
	}
	query += `
		ORDER BY start_at ASC`

	rows, err := r.pool.Query(ctx, query, now, now.Add(lookahead), businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		if err := rows.Scan(&c.AppointmentID, &c.StartAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// MarkReminderSent flips the appointment's reminder flag, best effort. A
// schema without the column is a silent no-op.
func (r *Repository) MarkReminderSent(ctx context.Context, appointmentID int64) error {
	if !r.hasReminderColumn(ctx) {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments SET reminder_sent = true WHERE id = $1
	`, appointmentID)
	return err
}

func (r *Repository) hasReminderColumn(ctx context.Context) bool {
	r.reminderColOnce.Do(func() {
		var n int
		err := r.pool.QueryRow(ctx, `
			SELECT count(*) FROM information_schema.columns
			WHERE table_name = 'appointments' AND column_name = 'reminder_sent'
		`).Scan(&n)
		r.reminderCol = err == nil && n > 0
	})
	return r.reminderCol
}

// AppointmentContext is the denormalized view the dispatcher renders
// templates from. Nothing here is owned by the notification subsystem; a
// missing appointment is a terminal failure for the queue row, not a crash.
type AppointmentContext struct {
	AppointmentID int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	ServiceName   string
	ProviderName  string
	LocationName  string
	BusinessName  string
	StartAt       time.Time
	EndAt         time.Time
	Status        string
}

func (r *Repository) AppointmentContext(ctx context.Context, appointmentID int64) (*AppointmentContext, error) {
	var a AppointmentContext
	err := r.pool.QueryRow(ctx, `
		SELECT a.id,
			trim(COALESCE(c.first_name, '') || ' ' || COALESCE(c.last_name, '')),
			COALESCE(c.email, ''),
			COALESCE(c.phone, ''),
			COALESCE(s.name, ''),
			COALESCE(p.name, ''),
			COALESCE(a.location_name, ''),
			COALESCE(b.name, ''),
			a.start_at, a.end_at, a.status
		FROM appointments a
		LEFT JOIN customers c ON c.id = a.customer_id
		LEFT JOIN services s ON s.id = a.service_id
		LEFT JOIN providers p ON p.id = a.provider_id
		LEFT JOIN businesses b ON b.id = a.business_id
		WHERE a.id = $1
	`, appointmentID).Scan(
		&a.AppointmentID, &a.CustomerName, &a.CustomerEmail, &a.CustomerPhone,
		&a.ServiceName, &a.ProviderName, &a.LocationName, &a.BusinessName,
		&a.StartAt, &a.EndAt, &a.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment %d: %w", appointmentID, err)
	}
	return &a, nil
}
