package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	minCalendarDays = 1
	maxCalendarDays = 120

	calendarCacheTTL = 5 * time.Minute
)

// CalendarAvailability returns the number of open slots per date for a range
// of days starting at fromDate, for month/week calendar views. The day count
// is clamped to [1, 120].
func (e *Engine) CalendarAvailability(ctx context.Context, providerID, serviceID int64, fromDate string, days, bufferMinutes int, zoneName string) (map[string]int, error) {
	if days < minCalendarDays {
		days = minCalendarDays
	}
	if days > maxCalendarDays {
		days = maxCalendarDays
	}

	start, err := time.Parse("2006-01-02", fromDate)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", fromDate, err)
	}

	counts := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		slots, err := e.AvailableSlots(ctx, providerID, date, serviceID, bufferMinutes, zoneName)
		if err != nil {
			return nil, err
		}
		counts[date] = len(slots)
	}
	return counts, nil
}

// CalendarCache fronts CalendarAvailability with a short-lived Redis cache.
// Calendar views are read far more often than the underlying schedule
// changes, and slight staleness is acceptable since the authoritative check
// runs again at booking time.
type CalendarCache struct {
	engine *Engine
	rdb    *redis.Client
}

func NewCalendarCache(engine *Engine, rdb *redis.Client) *CalendarCache {
	return &CalendarCache{engine: engine, rdb: rdb}
}

func (c *CalendarCache) CalendarAvailability(ctx context.Context, providerID, serviceID int64, fromDate string, days, bufferMinutes int, zoneName string) (map[string]int, error) {
	if c.rdb == nil {
		return c.engine.CalendarAvailability(ctx, providerID, serviceID, fromDate, days, bufferMinutes, zoneName)
	}
	key := fmt.Sprintf("calendar:%d:%d:%s:%d:%d:%s", providerID, serviceID, fromDate, days, bufferMinutes, zoneName)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var counts map[string]int
		if json.Unmarshal(raw, &counts) == nil {
			return counts, nil
		}
	}

	counts, err := c.engine.CalendarAvailability(ctx, providerID, serviceID, fromDate, days, bufferMinutes, zoneName)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(counts); err == nil {
		// Cache writes are best effort.
		c.rdb.Set(ctx, key, raw, calendarCacheTTL)
	}
	return counts, nil
}

// Invalidate drops cached calendars for a provider after a booking change.
func (c *CalendarCache) Invalidate(ctx context.Context, providerID int64) {
	if c.rdb == nil {
		return
	}
	pattern := fmt.Sprintf("calendar:%d:*", providerID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
}
