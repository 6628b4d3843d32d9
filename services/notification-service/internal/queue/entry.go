// Package queue owns the notification queue: idempotent enqueue of
// lifecycle and reminder notifications, and the storage operations the
// dispatcher claims work through.
package queue

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Queue entry statuses. sent, cancelled and failed are terminal.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Notification event types carried on queue rows.
const (
	EventConfirmed   = "appointment_confirmed"
	EventReminder    = "appointment_reminder"
	EventCancelled   = "appointment_cancelled"
	EventRescheduled = "appointment_rescheduled"
)

const (
	DefaultMaxAttempts = 5

	// maxKeyLength is the storage budget for idempotency keys; longer keys
	// are replaced with their hash.
	maxKeyLength = 120
)

type Entry struct {
	ID             int64
	BusinessID     int64
	Channel        string
	EventType      string
	AppointmentID  int64
	Status         string
	Attempts       int
	MaxAttempts    int
	RunAfter       *time.Time
	IdempotencyKey string
	CorrelationID  string
	LockToken      string
	LockedAt       *time.Time
	LastError      string
	CreatedAt      time.Time
}

// IdempotencyKey builds the uniqueness key for one notification obligation:
// channel:eventType:appt:<id>. Reminder keys additionally carry the
// appointment start time, so a rescheduled appointment's reminder is a new
// obligation rather than a suppressed duplicate.
func IdempotencyKey(channel, eventType string, appointmentID int64, startTime string) string {
	key := fmt.Sprintf("%s:%s:appt:%d", channel, eventType, appointmentID)
	if eventType == EventReminder && startTime != "" {
		key += ":start:" + startTime
	}
	if len(key) > maxKeyLength {
		sum := sha1.Sum([]byte(key))
		key = hex.EncodeToString(sum[:])
	}
	return key
}
