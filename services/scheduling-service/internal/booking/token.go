package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// tokenLifetime bounds how long a public self-service link stays valid after
// the appointment ends.
const tokenLifetime = 30 * 24 * time.Hour

// NewPublicToken returns an opaque collision-resistant token for customer
// self-service links. Regenerated on every successful reschedule so old
// links stop working.
func NewPublicToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func tokenExpiry(appointmentEnd time.Time) *time.Time {
	t := appointmentEnd.Add(tokenLifetime)
	return &t
}
