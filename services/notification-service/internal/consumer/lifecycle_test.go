package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
)

type enqueueCall struct {
	businessID    int64
	channel       string
	eventType     string
	appointmentID int64
}

type fakeEnqueuer struct {
	calls []enqueueCall
	err   error
}

func (f *fakeEnqueuer) EnqueueAppointmentEvent(ctx context.Context, businessID int64, ch, eventType string, appointmentID int64, runAfter *time.Time, startTime string) (int64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	f.calls = append(f.calls, enqueueCall{businessID, ch, eventType, appointmentID})
	return int64(len(f.calls)), true, nil
}

func lifecycleMsg(topic, body string) kafka.Message {
	return kafka.Message{Topic: topic, Value: []byte(body)}
}

func TestLifecycleHandlerMapsTopicToEventType(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"appointment.confirmed", queue.EventConfirmed},
		{"appointment.cancelled", queue.EventCancelled},
		{"appointment.rescheduled", queue.EventRescheduled},
	}
	for _, c := range cases {
		enq := &fakeEnqueuer{}
		h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

		err := h(context.Background(), lifecycleMsg(c.topic,
			`{"event_type":"ignored","appointment_id":7,"business_id":1,"channels":["email"]}`))
		if err != nil {
			t.Fatalf("%s: %v", c.topic, err)
		}
		if len(enq.calls) != 1 {
			t.Fatalf("%s: %d enqueues, want 1", c.topic, len(enq.calls))
		}
		got := enq.calls[0]
		if got.eventType != c.want || got.channel != "email" || got.appointmentID != 7 || got.businessID != 1 {
			t.Fatalf("%s: call = %+v", c.topic, got)
		}
	}
}

func TestLifecycleHandlerDefaultsToAllChannels(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

	err := h(context.Background(), lifecycleMsg("appointment.confirmed",
		`{"appointment_id":7,"business_id":1}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enq.calls) != 3 {
		t.Fatalf("%d enqueues, want one per supported channel", len(enq.calls))
	}
}

func TestLifecycleHandlerSkipsUnsupportedChannel(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

	err := h(context.Background(), lifecycleMsg("appointment.confirmed",
		`{"appointment_id":7,"business_id":1,"channels":["pigeon","sms"]}`))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(enq.calls) != 1 || enq.calls[0].channel != "sms" {
		t.Fatalf("calls = %+v, want only sms", enq.calls)
	}
}

func TestLifecycleHandlerDropsBadPayload(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

	for _, body := range []string{"not-json", `{"appointment_id":0,"business_id":1}`} {
		if err := h(context.Background(), lifecycleMsg("appointment.confirmed", body)); err != nil {
			t.Fatalf("bad payload should be dropped, got %v", err)
		}
	}
	if len(enq.calls) != 0 {
		t.Fatalf("enqueued from a bad payload: %+v", enq.calls)
	}
}

func TestLifecycleHandlerDropsUnmappedTopic(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

	err := h(context.Background(), lifecycleMsg("appointment.completed",
		`{"appointment_id":7,"business_id":1}`))
	if err != nil {
		t.Fatalf("unmapped topic should be dropped, got %v", err)
	}
	if len(enq.calls) != 0 {
		t.Fatal("enqueued from an unmapped topic")
	}
}

func TestLifecycleHandlerPropagatesEnqueueError(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("db down")}
	h := LifecycleHandler(enq, slog.New(slog.DiscardHandler))

	err := h(context.Background(), lifecycleMsg("appointment.confirmed",
		`{"appointment_id":7,"business_id":1,"channels":["email"]}`))
	if err == nil {
		t.Fatal("expected the storage error to propagate for redelivery")
	}
}
