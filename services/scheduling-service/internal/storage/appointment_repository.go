package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
)

const appointmentColumns = `
	id, business_id, customer_id, provider_id, service_id, location_id,
	COALESCE(location_name, ''), COALESCE(location_address, ''), COALESCE(location_contact, ''),
	start_at, end_at, status, COALESCE(notes, ''), reminder_sent,
	COALESCE(public_token, ''), token_expires_at, created_at, updated_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *AppointmentRepository) Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(business_id, customer_id, provider_id, service_id, location_id,
			 location_name, location_address, location_contact,
			 start_at, end_at, status, notes, public_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, appt.BusinessID, appt.CustomerID, appt.ProviderID, appt.ServiceID, appt.LocationID,
		appt.LocationName, appt.LocationAddress, appt.LocationContact,
		appt.StartAt, appt.EndAt, appt.Status, appt.Notes,
		appt.PublicToken, appt.TokenExpiresAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *AppointmentRepository) GetByPublicToken(ctx context.Context, token string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE public_token = $1
			AND (token_expires_at IS NULL OR token_expires_at > now())
	`, token)
	return scanAppointment(row)
}

func (r *AppointmentRepository) Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET customer_id = $2,
			provider_id = $3,
			service_id = $4,
			location_id = $5,
			location_name = $6,
			location_address = $7,
			location_contact = $8,
			start_at = $9,
			end_at = $10,
			status = $11,
			notes = $12,
			reminder_sent = $13,
			public_token = $14,
			token_expires_at = $15,
			updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.CustomerID, appt.ProviderID, appt.ServiceID, appt.LocationID,
		appt.LocationName, appt.LocationAddress, appt.LocationContact,
		appt.StartAt, appt.EndAt, appt.Status, appt.Notes, appt.ReminderSent,
		appt.PublicToken, appt.TokenExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status model.Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) ListForProvider(ctx context.Context, providerID int64, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.CustomerID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.LocationID,
		&appt.LocationName,
		&appt.LocationAddress,
		&appt.LocationContact,
		&appt.StartAt,
		&appt.EndAt,
		&appt.Status,
		&appt.Notes,
		&appt.ReminderSent,
		&appt.PublicToken,
		&appt.TokenExpiresAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
