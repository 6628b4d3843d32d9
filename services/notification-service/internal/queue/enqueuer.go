package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
)

// reminderLookahead bounds the reminder scan window.
const reminderLookahead = 30 * 24 * time.Hour

// Store is the queue persistence the enqueuer writes through.
type Store interface {
	Insert(ctx context.Context, e *Entry) (int64, bool, error)
	ReminderCandidates(ctx context.Context, businessID int64, now time.Time, lookahead time.Duration) ([]ReminderCandidate, error)
}

// RuleSource answers per-business notification configuration questions.
type RuleSource interface {
	IsRuleEnabled(ctx context.Context, businessID int64, eventType, channel string) (bool, error)
	ReminderOffsetMinutes(ctx context.Context, businessID int64, channel string) (*int, error)
	IsIntegrationActive(ctx context.Context, businessID int64, channel string) (bool, error)
}

type Enqueuer struct {
	store  Store
	rules  RuleSource
	logger *slog.Logger
}

func NewEnqueuer(store Store, rules RuleSource, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{store: store, rules: rules, logger: logger}
}

// EnqueueAppointmentEvent queues one notification obligation. startTime is
// only used for reminder idempotency keys; runAfter defers dispatch. The
// returned bool is false when an identical obligation already existed.
func (e *Enqueuer) EnqueueAppointmentEvent(ctx context.Context, businessID int64, ch, eventType string, appointmentID int64, runAfter *time.Time, startTime string) (int64, bool, error) {
	entry := &Entry{
		BusinessID:     businessID,
		Channel:        ch,
		EventType:      eventType,
		AppointmentID:  appointmentID,
		RunAfter:       runAfter,
		IdempotencyKey: IdempotencyKey(ch, eventType, appointmentID, startTime),
		MaxAttempts:    DefaultMaxAttempts,
	}
	return e.store.Insert(ctx, entry)
}

// ReminderStats reports one reminder scan, for observability only.
type ReminderStats struct {
	Scanned  int
	Enqueued int
	Skipped  int
}

// EnqueueDueReminders scans future appointments and queues reminders whose
// due time has arrived. A channel with no configured offset, a disabled
// rule, or an inactive integration is skipped entirely. Duplicate enqueues
// count as skips, the idempotency key makes them no-ops.
func (e *Enqueuer) EnqueueDueReminders(ctx context.Context, businessID int64, now time.Time) (ReminderStats, error) {
	var stats ReminderStats

	var enabled []struct {
		name   string
		offset time.Duration
	}
	for _, ch := range []string{channel.Email, channel.SMS, channel.WhatsApp} {
		offset, err := e.rules.ReminderOffsetMinutes(ctx, businessID, ch)
		if err != nil {
			return stats, err
		}
		if offset == nil || *offset <= 0 {
			continue
		}
		on, err := e.rules.IsRuleEnabled(ctx, businessID, EventReminder, ch)
		if err != nil {
			return stats, err
		}
		if !on {
			continue
		}
		active, err := e.rules.IsIntegrationActive(ctx, businessID, ch)
		if err != nil {
			return stats, err
		}
		if !active {
			continue
		}
		enabled = append(enabled, struct {
			name   string
			offset time.Duration
		}{ch, time.Duration(*offset) * time.Minute})
	}
	if len(enabled) == 0 {
		return stats, nil
	}

	candidates, err := e.store.ReminderCandidates(ctx, businessID, now, reminderLookahead)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(candidates)

	for _, c := range candidates {
		startKey := c.StartAt.UTC().Format("2006-01-02 15:04:05")
		for _, ch := range enabled {
			dueAt := c.StartAt.Add(-ch.offset)
			if now.Before(dueAt) {
				stats.Skipped++
				continue
			}
			_, inserted, err := e.EnqueueAppointmentEvent(ctx, businessID, ch.name, EventReminder, c.AppointmentID, nil, startKey)
			if err != nil {
				e.logger.Error("reminder enqueue failed", "appointment_id", c.AppointmentID, "channel", ch.name, "err", err)
				stats.Skipped++
				continue
			}
			if inserted {
				stats.Enqueued++
			} else {
				stats.Skipped++
			}
		}
	}
	return stats, nil
}
