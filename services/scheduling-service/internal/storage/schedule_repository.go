package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/libs/db"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/schedule"
)

// ScheduleRepository backs the schedule catalog: per-provider weekly rows,
// global business hours, and settings-driven blocked periods.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) ProviderDaySchedule(ctx context.Context, providerID int64, weekday time.Weekday) (schedule.DaySchedule, bool, error) {
	var row schedule.DaySchedule
	var breakStart, breakEnd *int
	err := r.pool.QueryRow(ctx, `
		SELECT active, start_minute, end_minute, break_start_minute, break_end_minute
		FROM provider_schedules
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int(weekday)).Scan(&row.Active, &row.Start, &row.End, &breakStart, &breakEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.DaySchedule{}, false, nil
	}
	if err != nil {
		return schedule.DaySchedule{}, false, err
	}
	if breakStart != nil && breakEnd != nil {
		row.Break = &schedule.Break{Start: *breakStart, End: *breakEnd}
	}
	return row, true, nil
}

func (r *ScheduleRepository) BusinessHoursForWeekday(ctx context.Context, providerID int64, weekday time.Weekday) (*schedule.DayHours, error) {
	var hours schedule.DayHours
	err := r.pool.QueryRow(ctx, `
		SELECT start_minute, end_minute
		FROM business_hours
		WHERE provider_id = $1 AND weekday = $2
	`, providerID, int(weekday)).Scan(&hours.Start, &hours.End)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hours, nil
}

type blockedPeriodJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BlockedPeriods reads the blocked_periods setting, a JSON array of inclusive
// date ranges. A missing or malformed setting means no closures.
func (r *ScheduleRepository) BlockedPeriods(ctx context.Context) ([]schedule.DateRange, error) {
	raw, err := r.setting(ctx, "blocked_periods")
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var periods []blockedPeriodJSON
	if err := json.Unmarshal([]byte(raw), &periods); err != nil {
		return nil, nil
	}
	ranges := make([]schedule.DateRange, 0, len(periods))
	for _, p := range periods {
		ranges = append(ranges, schedule.DateRange{Start: p.Start, End: p.End})
	}
	return ranges, nil
}

// BufferMinutes returns the configured gap between appointments, 0 when
// unset.
func (r *ScheduleRepository) BufferMinutes(ctx context.Context) (int, error) {
	raw, err := r.setting(ctx, "buffer_time_minutes")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

// RescheduleWindowHours returns the minimum notice for self-service
// reschedules: 0 means no restriction.
func (r *ScheduleRepository) RescheduleWindowHours(ctx context.Context) (int, error) {
	raw, err := r.setting(ctx, "reschedule_window_hours")
	if err != nil {
		return 0, err
	}
	switch raw {
	case "12", "24", "48":
		n, _ := strconv.Atoi(raw)
		return n, nil
	}
	return 0, nil
}

func (r *ScheduleRepository) setting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `
		SELECT value FROM settings WHERE key = $1
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
