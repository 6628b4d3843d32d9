package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// CanTransitionTo validates the appointment lifecycle:
// pending -> {confirmed, cancelled}; confirmed -> {completed, cancelled, no_show}.
// Terminal states do not transition, except cancelled -> cancelled which is a
// no-op rather than an error.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled || next == StatusNoShow
	case StatusCancelled:
		return next == StatusCancelled
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Appointment start/end are absolute UTC instants. The location_* fields are a
// snapshot taken at booking time; they do not track later location edits.
type Appointment struct {
	ID              int64
	BusinessID      int64
	CustomerID      int64
	ProviderID      int64
	ServiceID       int64
	LocationID      *int64
	LocationName    string
	LocationAddress string
	LocationContact string
	StartAt         time.Time
	EndAt           time.Time
	Status          Status
	Notes           string
	ReminderSent    bool
	PublicToken     string
	TokenExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Customer struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
	Notes     string
	CreatedAt time.Time
}

type Service struct {
	ID          int64
	Name        string
	DurationMin int
	Active      bool
}

// BlockedTime is an ad hoc unavailable interval. A nil ProviderID means the
// block applies to every provider.
type BlockedTime struct {
	ID         int64
	ProviderID *int64
	StartAt    time.Time
	EndAt      time.Time
	Reason     string
}

type LocationSnapshot struct {
	ID      int64
	Name    string
	Address string
	Contact string
}
