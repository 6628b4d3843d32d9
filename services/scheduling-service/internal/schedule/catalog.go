// Package schedule resolves which hours a provider is bookable on a given
// date, reconciling provider-specific weekly schedules with global business
// hours and whole-day blocked periods.
package schedule

import (
	"context"
	"fmt"
	"time"
)

// Break is a pause inside a working day, in minutes since midnight,
// half-open [Start, End).
type Break struct {
	Start int
	End   int
}

// DayHours is a provider's bookable window for one date, local to the
// provider's zone. Start/End are minutes since midnight.
type DayHours struct {
	Start  int
	End    int
	Breaks []Break
}

// DaySchedule is one provider_schedules row. An inactive row means the
// provider explicitly does not work that weekday, even if global business
// hours exist.
type DaySchedule struct {
	Active bool
	Start  int
	End    int
	Break  *Break
}

type Store interface {
	// ProviderDaySchedule returns the provider-specific row for a weekday,
	// and whether such a row exists.
	ProviderDaySchedule(ctx context.Context, providerID int64, weekday time.Weekday) (DaySchedule, bool, error)
	// BusinessHoursForWeekday returns the global fallback hours for a
	// provider+weekday, or nil when none are configured.
	BusinessHoursForWeekday(ctx context.Context, providerID int64, weekday time.Weekday) (*DayHours, error)
	// BlockedPeriods returns whole-day closures as inclusive date ranges
	// ("2006-01-02" strings).
	BlockedPeriods(ctx context.Context) ([]DateRange, error)
}

// DateRange is an inclusive [Start, End] range of calendar dates.
type DateRange struct {
	Start string
	End   string
}

type Catalog struct {
	store Store
}

func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// ProviderHoursForDate resolves working hours for one date. A
// provider-specific schedule row fully overrides global business hours: an
// inactive row means "not working today" regardless of the global config.
// Only when no row exists at all do global business hours apply. nil means
// the provider is not bookable that day.
func (c *Catalog) ProviderHoursForDate(ctx context.Context, providerID int64, date string) (*DayHours, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	weekday := day.Weekday()

	row, found, err := c.store.ProviderDaySchedule(ctx, providerID, weekday)
	if err != nil {
		return nil, err
	}
	if found {
		if !row.Active {
			return nil, nil
		}
		hours := &DayHours{Start: row.Start, End: row.End}
		if row.Break != nil {
			hours.Breaks = []Break{*row.Break}
		}
		return hours, nil
	}

	return c.store.BusinessHoursForWeekday(ctx, providerID, weekday)
}

// IsDateBlocked reports whether the date falls inside any whole-day blocked
// period. Ranges are inclusive on both ends; plain string comparison works
// because dates are zero-padded ISO strings.
func (c *Catalog) IsDateBlocked(ctx context.Context, date string) (bool, error) {
	periods, err := c.store.BlockedPeriods(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range periods {
		if p.Start == "" || p.End == "" {
			continue
		}
		if date >= p.Start && date <= p.End {
			return true, nil
		}
	}
	return false, nil
}

// FormatMinute renders a minute-of-day as "15:04" for failure reasons.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
