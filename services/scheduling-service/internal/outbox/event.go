package outbox

// Appointment lifecycle event types. The Kafka topic name equals the event
// type, one topic per event.
const (
	EventConfirmed   = "appointment.confirmed"
	EventCancelled   = "appointment.cancelled"
	EventRescheduled = "appointment.rescheduled"
	EventCompleted   = "appointment.completed"
	EventNoShow      = "appointment.no_show"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// LifecyclePayload is the JSON body consumed by the notification service.
type LifecyclePayload struct {
	EventType     string   `json:"event_type"`
	AppointmentID int64    `json:"appointment_id"`
	BusinessID    int64    `json:"business_id"`
	Channels      []string `json:"channels,omitempty"`
}
