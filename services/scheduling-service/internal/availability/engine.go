// Package availability computes bookable slots and performs the
// authoritative single-slot check used at booking time.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/webschedulr/webschedulr/libs/timezone"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/schedule"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals [a,b) and [c,d)
// intersect: a < d && c < b. Back-to-back intervals do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Slot is one bookable candidate in the requested zone. Label is the
// human-facing range ("9:00 AM - 9:30 AM").
type Slot struct {
	Start time.Time
	End   time.Time
	Label string
}

// ConflictQuery answers interval-overlap questions against persisted
// appointments and blocked times. Cancelled appointments are never returned.
type ConflictQuery interface {
	OverlappingAppointments(ctx context.Context, providerID int64, start, end time.Time, excludeID, locationID *int64) ([]model.Appointment, error)
	OverlappingBlockedTimes(ctx context.Context, providerID int64, start, end time.Time) ([]model.BlockedTime, error)
	AppointmentsForDay(ctx context.Context, providerID int64, dayStart, dayEnd time.Time) ([]model.Appointment, error)
}

type ServiceLookup interface {
	ServiceByID(ctx context.Context, id int64) (*model.Service, error)
}

type Engine struct {
	catalog   *schedule.Catalog
	conflicts ConflictQuery
	services  ServiceLookup
}

func NewEngine(catalog *schedule.Catalog, conflicts ConflictQuery, services ServiceLookup) *Engine {
	return &Engine{catalog: catalog, conflicts: conflicts, services: services}
}

// AvailableSlots enumerates bookable slots for a provider/service/date.
// date is "2006-01-02" in the given zone. Candidates start at the provider's
// opening time and step by serviceDuration+buffer minutes; a candidate whose
// end would pass the provider's closing time is discarded, as is any candidate
// overlapping a break or a busy period. Slots come back in ascending start
// order.
func (e *Engine) AvailableSlots(ctx context.Context, providerID int64, date string, serviceID int64, bufferMinutes int, zoneName string) ([]Slot, error) {
	blocked, err := e.catalog.IsDateBlocked(ctx, date)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	svc, err := e.services.ServiceByID(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if svc == nil || !svc.Active || svc.DurationMin <= 0 {
		return nil, nil
	}

	hours, err := e.catalog.ProviderHoursForDate(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if hours == nil {
		return nil, nil
	}

	loc, _ := timezone.Load(zoneName)
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)

	busy, err := e.busyPeriods(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(svc.DurationMin) * time.Minute
	step := duration + time.Duration(bufferMinutes)*time.Minute
	open := day.Add(time.Duration(hours.Start) * time.Minute)
	close := day.Add(time.Duration(hours.End) * time.Minute)

	var slots []Slot
	for t := open; !t.Add(duration).After(close); t = t.Add(step) {
		candidate := Interval{Start: t, End: t.Add(duration)}
		if overlapsBreak(candidate, day, hours.Breaks) {
			continue
		}
		if overlapsAny(candidate, busy) {
			continue
		}
		slots = append(slots, Slot{
			Start: candidate.Start,
			End:   candidate.End,
			Label: candidate.Start.Format("3:04 PM") + " - " + candidate.End.Format("3:04 PM"),
		})
	}
	return slots, nil
}

// CheckResult is the outcome of the authoritative slot check. Reason is
// human-readable and empty when Available. Conflicts carries the colliding
// appointments when the failure is an appointment conflict.
type CheckResult struct {
	Available bool
	Reason    string
	Conflicts []model.Appointment
}

// IsSlotAvailable re-validates one candidate slot independently of any
// previously computed slot list. Callers must invoke it again at the moment
// of persistence; a stale "was available" result is not trusted.
//
// startLocal/endLocal use "2006-01-02 15:04:05" in zoneName. A slot ending
// exactly at closing time is valid; one starting at or after closing is not.
func (e *Engine) IsSlotAvailable(ctx context.Context, providerID int64, startLocal, endLocal, zoneName string, excludeAppointmentID, locationID *int64) (CheckResult, error) {
	loc, _ := timezone.Load(zoneName)
	start, err := timezone.ToAbsolute(startLocal, loc)
	if err != nil {
		return CheckResult{}, fmt.Errorf("invalid start time %q: %w", startLocal, err)
	}
	end, err := timezone.ToAbsolute(endLocal, loc)
	if err != nil {
		return CheckResult{}, fmt.Errorf("invalid end time %q: %w", endLocal, err)
	}
	localStart := start.In(loc)
	date := localStart.Format("2006-01-02")

	blocked, err := e.catalog.IsDateBlocked(ctx, date)
	if err != nil {
		return CheckResult{}, err
	}
	if blocked {
		return CheckResult{Reason: "Date is blocked (holiday/closure)"}, nil
	}

	hours, err := e.catalog.ProviderHoursForDate(ctx, providerID, date)
	if err != nil {
		return CheckResult{}, err
	}
	if hours == nil {
		return CheckResult{Reason: "Provider not working on this date"}, nil
	}

	// Compare instants against the day's open/close rather than minutes of
	// day, so a slot spilling past local midnight cannot wrap around and pass.
	day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)
	openAt := day.Add(time.Duration(hours.Start) * time.Minute)
	closeAt := day.Add(time.Duration(hours.End) * time.Minute)
	if start.Before(openAt) || end.After(closeAt) {
		return CheckResult{Reason: fmt.Sprintf("Outside provider working hours (%s - %s)",
			schedule.FormatMinute(hours.Start), schedule.FormatMinute(hours.End))}, nil
	}

	for _, b := range hours.Breaks {
		breakStart := day.Add(time.Duration(b.Start) * time.Minute)
		breakEnd := day.Add(time.Duration(b.End) * time.Minute)
		if start.Before(breakEnd) && breakStart.Before(end) {
			return CheckResult{Reason: "Overlaps with provider break time"}, nil
		}
	}

	conflicts, err := e.conflicts.OverlappingAppointments(ctx, providerID, start, end, excludeAppointmentID, locationID)
	if err != nil {
		return CheckResult{}, err
	}
	if len(conflicts) > 0 {
		return CheckResult{
			Reason:    fmt.Sprintf("Conflicts with %d existing appointment(s)", len(conflicts)),
			Conflicts: conflicts,
		}, nil
	}

	blockedTimes, err := e.conflicts.OverlappingBlockedTimes(ctx, providerID, start, end)
	if err != nil {
		return CheckResult{}, err
	}
	if len(blockedTimes) > 0 {
		return CheckResult{Reason: "Time period is blocked"}, nil
	}

	return CheckResult{Available: true}, nil
}

// busyPeriods merges same-day non-cancelled appointments with overlapping
// blocked times, as absolute instants.
func (e *Engine) busyPeriods(ctx context.Context, providerID int64, dayStart, dayEnd time.Time) ([]Interval, error) {
	appts, err := e.conflicts.AppointmentsForDay(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	blocked, err := e.conflicts.OverlappingBlockedTimes(ctx, providerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	busy := make([]Interval, 0, len(appts)+len(blocked))
	for _, a := range appts {
		busy = append(busy, Interval{Start: a.StartAt, End: a.EndAt})
	}
	for _, b := range blocked {
		busy = append(busy, Interval{Start: b.StartAt, End: b.EndAt})
	}
	return busy, nil
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}

func overlapsBreak(candidate Interval, day time.Time, breaks []schedule.Break) bool {
	for _, b := range breaks {
		iv := Interval{
			Start: day.Add(time.Duration(b.Start) * time.Minute),
			End:   day.Add(time.Duration(b.End) * time.Minute),
		}
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
