package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// Emitter writes appointment lifecycle events into the outbox. Emission is
// best effort: a failure is logged and swallowed so a notification problem
// never fails the booking it describes.
type Emitter struct {
	repo   *Repository
	logger *slog.Logger
}

func NewEmitter(repo *Repository, logger *slog.Logger) *Emitter {
	return &Emitter{repo: repo, logger: logger}
}

func (e *Emitter) Emit(ctx context.Context, tx pgx.Tx, eventType string, appointmentID, businessID int64, channels []string) {
	payload, err := json.Marshal(LifecyclePayload{
		EventType:     eventType,
		AppointmentID: appointmentID,
		BusinessID:    businessID,
		Channels:      channels,
	})
	if err != nil {
		e.logger.Error("lifecycle event marshal failed", "event_type", eventType, "appointment_id", appointmentID, "err", err)
		return
	}

	evt := Event{
		AggregateType: "appointment",
		AggregateID:   strconv.FormatInt(appointmentID, 10),
		EventType:     eventType,
		Payload:       payload,
	}
	if err := e.repo.Insert(ctx, tx, evt); err != nil {
		e.logger.Error("lifecycle event emit failed", "event_type", eventType, "appointment_id", appointmentID, "err", err)
	}
}
