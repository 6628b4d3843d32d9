package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
)

// lifecycleTopics maps the scheduling service's event topics to the queue's
// notification event types. Topics without a notification (completed,
// no-show) are absent.
var lifecycleTopics = map[string]string{
	"appointment.confirmed":   queue.EventConfirmed,
	"appointment.cancelled":   queue.EventCancelled,
	"appointment.rescheduled": queue.EventRescheduled,
}

// LifecycleTopics lists the topics a notification consumer group subscribes
// to.
func LifecycleTopics() []string {
	topics := make([]string, 0, len(lifecycleTopics))
	for t := range lifecycleTopics {
		topics = append(topics, t)
	}
	return topics
}

// lifecyclePayload mirrors the scheduling service's outbox event body.
type lifecyclePayload struct {
	EventType     string   `json:"event_type"`
	AppointmentID int64    `json:"appointment_id"`
	BusinessID    int64    `json:"business_id"`
	Channels      []string `json:"channels"`
}

type lifecycleEnqueuer interface {
	EnqueueAppointmentEvent(ctx context.Context, businessID int64, ch, eventType string, appointmentID int64, runAfter *time.Time, startTime string) (int64, bool, error)
}

// LifecycleHandler decodes a lifecycle event and enqueues one notification
// per channel. An unmapped topic or unparseable payload is dropped with a
// log line rather than retried: redelivery cannot fix either.
func LifecycleHandler(enq lifecycleEnqueuer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		eventType, ok := lifecycleTopics[msg.Topic]
		if !ok {
			logger.Warn("unmapped lifecycle topic", "topic", msg.Topic)
			return nil
		}

		var payload lifecyclePayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("lifecycle payload decode failed", "topic", msg.Topic, "err", err)
			return nil
		}
		if payload.AppointmentID == 0 || payload.BusinessID == 0 {
			logger.Error("lifecycle payload missing ids", "topic", msg.Topic)
			return nil
		}

		channels := payload.Channels
		if len(channels) == 0 {
			channels = []string{channel.Email, channel.SMS, channel.WhatsApp}
		}

		for _, ch := range channels {
			if !channel.Supported(ch) {
				logger.Warn("unsupported channel on lifecycle event", "channel", ch)
				continue
			}
			_, _, err := enq.EnqueueAppointmentEvent(ctx, payload.BusinessID, ch, eventType, payload.AppointmentID, nil, "")
			if err != nil {
				return fmt.Errorf("enqueue %s/%s for appointment %d: %w", eventType, ch, payload.AppointmentID, err)
			}
		}
		return nil
	}
}
