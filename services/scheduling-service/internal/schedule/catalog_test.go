package schedule

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	rows     map[time.Weekday]DaySchedule
	fallback map[time.Weekday]*DayHours
	blocked  []DateRange
}

func (f *fakeStore) ProviderDaySchedule(_ context.Context, _ int64, wd time.Weekday) (DaySchedule, bool, error) {
	row, ok := f.rows[wd]
	return row, ok, nil
}

func (f *fakeStore) BusinessHoursForWeekday(_ context.Context, _ int64, wd time.Weekday) (*DayHours, error) {
	return f.fallback[wd], nil
}

func (f *fakeStore) BlockedPeriods(_ context.Context) ([]DateRange, error) {
	return f.blocked, nil
}

func TestProviderScheduleOverridesBusinessHours(t *testing.T) {
	// 2025-06-02 is a Monday.
	store := &fakeStore{
		rows: map[time.Weekday]DaySchedule{
			time.Monday: {Active: true, Start: 600, End: 900, Break: &Break{Start: 720, End: 780}},
		},
		fallback: map[time.Weekday]*DayHours{
			time.Monday: {Start: 540, End: 1020},
		},
	}
	catalog := NewCatalog(store)

	hours, err := catalog.ProviderHoursForDate(context.Background(), 1, "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if hours == nil {
		t.Fatal("expected hours, got nil")
	}
	if hours.Start != 600 || hours.End != 900 {
		t.Errorf("got %d-%d, want 600-900", hours.Start, hours.End)
	}
	if len(hours.Breaks) != 1 || hours.Breaks[0].Start != 720 {
		t.Errorf("break not carried over: %+v", hours.Breaks)
	}
}

func TestInactiveScheduleRowMeansNotWorking(t *testing.T) {
	store := &fakeStore{
		rows: map[time.Weekday]DaySchedule{
			time.Monday: {Active: false, Start: 540, End: 1020},
		},
		fallback: map[time.Weekday]*DayHours{
			time.Monday: {Start: 540, End: 1020},
		},
	}
	catalog := NewCatalog(store)

	hours, err := catalog.ProviderHoursForDate(context.Background(), 1, "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if hours != nil {
		t.Errorf("inactive row should override fallback, got %+v", hours)
	}
}

func TestFallbackToBusinessHours(t *testing.T) {
	store := &fakeStore{
		fallback: map[time.Weekday]*DayHours{
			time.Monday: {Start: 540, End: 1020},
		},
	}
	catalog := NewCatalog(store)

	hours, err := catalog.ProviderHoursForDate(context.Background(), 1, "2025-06-02")
	if err != nil {
		t.Fatal(err)
	}
	if hours == nil || hours.Start != 540 || hours.End != 1020 {
		t.Errorf("got %+v, want 540-1020", hours)
	}
}

func TestNoHoursConfigured(t *testing.T) {
	catalog := NewCatalog(&fakeStore{})

	hours, err := catalog.ProviderHoursForDate(context.Background(), 1, "2025-06-01")
	if err != nil {
		t.Fatal(err)
	}
	if hours != nil {
		t.Errorf("expected nil, got %+v", hours)
	}
}

func TestInvalidDate(t *testing.T) {
	catalog := NewCatalog(&fakeStore{})
	if _, err := catalog.ProviderHoursForDate(context.Background(), 1, "06/02/2025"); err == nil {
		t.Error("expected error for invalid date format")
	}
}

func TestIsDateBlocked(t *testing.T) {
	store := &fakeStore{blocked: []DateRange{
		{Start: "2025-12-24", End: "2025-12-26"},
		{Start: "", End: "2025-01-01"},
	}}
	catalog := NewCatalog(store)

	cases := []struct {
		date string
		want bool
	}{
		{"2025-12-23", false},
		{"2025-12-24", true},
		{"2025-12-25", true},
		{"2025-12-26", true},
		{"2025-12-27", false},
		{"2025-01-01", false}, // range with empty start is skipped
	}
	for _, c := range cases {
		got, err := catalog.IsDateBlocked(context.Background(), c.date)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("IsDateBlocked(%s) = %v, want %v", c.date, got, c.want)
		}
	}
}

func TestFormatMinute(t *testing.T) {
	if got := FormatMinute(540); got != "09:00" {
		t.Errorf("got %s, want 09:00", got)
	}
	if got := FormatMinute(1005); got != "16:45" {
		t.Errorf("got %s, want 16:45", got)
	}
}
