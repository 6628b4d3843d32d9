// Package timezone converts between named IANA zones and absolute UTC
// instants. All storage-facing code works in UTC; zone names only appear at
// the edges (booking input, slot display).
package timezone

import "time"

// Layout is the wire format for local date-times ("2006-01-02 15:04:05").
const Layout = "2006-01-02 15:04:05"

// Load resolves an IANA zone name. An unknown or empty name falls back to
// UTC; the second return reports whether the fallback was taken so callers
// can log the degradation.
func Load(name string) (*time.Location, bool) {
	if name == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, true
	}
	return loc, false
}

// IsValid reports whether name resolves to a known zone.
func IsValid(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// ToAbsolute parses a local date-time string in the given zone and returns
// the UTC instant. DST is resolved for the parsed date, not for "now".
func ToAbsolute(local string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, local, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ToZoned renders a UTC instant as a local date-time string in the given
// zone.
func ToZoned(instant time.Time, loc *time.Location) string {
	return instant.In(loc).Format(Layout)
}

// OffsetMinutes returns the zone's UTC offset in minutes at the reference
// instant. Unknown zones report 0 (UTC fallback).
func OffsetMinutes(name string, ref time.Time) int {
	loc, _ := Load(name)
	_, offset := ref.In(loc).Zone()
	return offset / 60
}
