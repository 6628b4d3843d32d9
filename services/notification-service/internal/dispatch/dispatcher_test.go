package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/deliverylog"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
)

type fakeQueueStore struct {
	entries map[int64]*queue.Entry
	appts   map[int64]*queue.AppointmentContext

	releasedIDs   []int64
	reminderSent  []int64
	apptErr       error
	correlationID map[int64]string
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{
		entries:       map[int64]*queue.Entry{},
		appts:         map[int64]*queue.AppointmentContext{},
		correlationID: map[int64]string{},
	}
}

func (s *fakeQueueStore) add(e queue.Entry) *queue.Entry {
	if e.Status == "" {
		e.Status = queue.StatusQueued
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = queue.DefaultMaxAttempts
	}
	s.entries[e.ID] = &e
	return s.entries[e.ID]
}

func (s *fakeQueueStore) FetchDueIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	for id, e := range s.entries {
		if e.Status == queue.StatusQueued && e.LockToken == "" && len(ids) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeQueueStore) Claim(ctx context.Context, id int64, lockToken string) (bool, error) {
	e, ok := s.entries[id]
	if !ok || e.Status != queue.StatusQueued || e.LockToken != "" {
		return false, nil
	}
	e.LockToken = lockToken
	return true, nil
}

func (s *fakeQueueStore) FetchClaimed(ctx context.Context, lockToken string) ([]queue.Entry, error) {
	var out []queue.Entry
	for _, e := range s.entries {
		if e.LockToken == lockToken && e.Status == queue.StatusQueued {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeQueueStore) MarkSent(ctx context.Context, id int64) error {
	s.entries[id].Status = queue.StatusSent
	s.entries[id].LockToken = ""
	return nil
}

func (s *fakeQueueStore) Cancel(ctx context.Context, id int64, reason string) error {
	s.entries[id].Status = queue.StatusCancelled
	s.entries[id].LastError = reason
	s.entries[id].LockToken = ""
	return nil
}

func (s *fakeQueueStore) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	s.entries[id].Status = queue.StatusFailed
	s.entries[id].Attempts = attempts
	s.entries[id].LastError = lastError
	s.entries[id].LockToken = ""
	return nil
}

func (s *fakeQueueStore) Requeue(ctx context.Context, id int64, attempts int, runAfter time.Time, lastError string) error {
	e := s.entries[id]
	e.Status = queue.StatusQueued
	e.Attempts = attempts
	e.RunAfter = &runAfter
	e.LastError = lastError
	e.LockToken = ""
	return nil
}

func (s *fakeQueueStore) Release(ctx context.Context, id int64) error {
	s.entries[id].LockToken = ""
	s.releasedIDs = append(s.releasedIDs, id)
	return nil
}

func (s *fakeQueueStore) SetCorrelationID(ctx context.Context, id int64, correlationID string) error {
	s.correlationID[id] = correlationID
	return nil
}

func (s *fakeQueueStore) AppointmentContext(ctx context.Context, appointmentID int64) (*queue.AppointmentContext, error) {
	if s.apptErr != nil {
		return nil, s.apptErr
	}
	return s.appts[appointmentID], nil
}

func (s *fakeQueueStore) MarkReminderSent(ctx context.Context, appointmentID int64) error {
	s.reminderSent = append(s.reminderSent, appointmentID)
	return nil
}

type fakeRuleSource struct {
	disabledRules    map[string]bool
	inactiveChannels map[string]bool
	optedOut         map[string]bool
}

func (f *fakeRuleSource) IsRuleEnabled(ctx context.Context, businessID int64, eventType, ch string) (bool, error) {
	return !f.disabledRules[eventType+":"+ch], nil
}

func (f *fakeRuleSource) IsIntegrationActive(ctx context.Context, businessID int64, ch string) (bool, error) {
	return !f.inactiveChannels[ch], nil
}

func (f *fakeRuleSource) IsOptedOut(ctx context.Context, businessID int64, ch, recipient string) (bool, error) {
	return f.optedOut[ch+":"+recipient], nil
}

type fakeLogSink struct {
	entries []deliverylog.Entry
	err     error
}

func (f *fakeLogSink) Append(ctx context.Context, e deliverylog.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeSender struct {
	sent []channel.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg channel.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) Provider() string { return "fake" }

type dispatchFixture struct {
	store  *fakeQueueStore
	rules  *fakeRuleSource
	log    *fakeLogSink
	email  *fakeSender
	sms    *fakeSender
	disp   *Dispatcher
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		store: newFakeQueueStore(),
		rules: &fakeRuleSource{
			disabledRules:    map[string]bool{},
			inactiveChannels: map[string]bool{},
			optedOut:         map[string]bool{},
		},
		log:   &fakeLogSink{},
		email: &fakeSender{},
		sms:   &fakeSender{},
	}
	f.disp = NewDispatcher(f.store, f.rules, f.log, map[string]channel.Sender{
		channel.Email: f.email,
		channel.SMS:   f.sms,
	}, slog.New(slog.DiscardHandler))
	f.store.appts[7] = &queue.AppointmentContext{
		AppointmentID: 7,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		CustomerPhone: "+15551234567",
		ServiceName:   "Consultation",
		ProviderName:  "Dr. Moore",
		StartAt:       time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		EndAt:         time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
		Status:        "confirmed",
	}
	return f
}

func emailEntry(id int64) queue.Entry {
	return queue.Entry{
		ID:            id,
		BusinessID:    1,
		Channel:       channel.Email,
		EventType:     queue.EventConfirmed,
		AppointmentID: 7,
	}
}

func TestDispatchSendsAndMarksSent(t *testing.T) {
	f := newDispatchFixture()
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Sent != 1 {
		t.Fatalf("stats = %+v, want 1 claimed 1 sent", stats)
	}
	if got := f.store.entries[1].Status; got != queue.StatusSent {
		t.Fatalf("status = %q, want sent", got)
	}
	if len(f.email.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(f.email.sent))
	}
	msg := f.email.sent[0]
	if msg.Recipient != "ada@example.com" {
		t.Fatalf("recipient = %q", msg.Recipient)
	}
	if !strings.Contains(msg.Body, "Ada Lovelace") || !strings.Contains(msg.Body, "Consultation") {
		t.Fatalf("body not rendered from appointment context: %q", msg.Body)
	}
	if len(f.log.entries) != 1 || f.log.entries[0].Status != deliverylog.StatusSuccess {
		t.Fatalf("delivery log = %+v, want one success entry", f.log.entries)
	}
	if f.log.entries[0].Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", f.log.entries[0].Attempt)
	}
}

func TestDispatchAssignsCorrelationID(t *testing.T) {
	f := newDispatchFixture()
	f.store.add(emailEntry(1))

	if _, err := f.disp.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.store.correlationID[1] == "" {
		t.Fatal("correlation id not assigned")
	}
	if f.log.entries[0].CorrelationID != f.store.correlationID[1] {
		t.Fatal("delivery log missing the assigned correlation id")
	}
}

func TestDispatchReminderFlagsAppointment(t *testing.T) {
	f := newDispatchFixture()
	e := emailEntry(1)
	e.EventType = queue.EventReminder
	f.store.add(e)

	if _, err := f.disp.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.store.reminderSent) != 1 || f.store.reminderSent[0] != 7 {
		t.Fatalf("reminder flag updates = %v, want [7]", f.store.reminderSent)
	}
}

func TestDispatchConfirmationDoesNotFlagReminder(t *testing.T) {
	f := newDispatchFixture()
	f.store.add(emailEntry(1))

	if _, err := f.disp.Dispatch(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.store.reminderSent) != 0 {
		t.Fatalf("reminder flag updated for a confirmation: %v", f.store.reminderSent)
	}
}

func TestDispatchRuleDisabledCancels(t *testing.T) {
	f := newDispatchFixture()
	f.rules.disabledRules[queue.EventConfirmed+":"+channel.Email] = true
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Cancelled != 1 || stats.Sent != 0 {
		t.Fatalf("stats = %+v, want 1 cancelled", stats)
	}
	if got := f.store.entries[1].Status; got != queue.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got)
	}
	if len(f.email.sent) != 0 {
		t.Fatal("sender called for a disabled rule")
	}
	if f.log.entries[0].Status != deliverylog.StatusCancelled {
		t.Fatalf("log status = %q, want cancelled", f.log.entries[0].Status)
	}
}

func TestDispatchIntegrationInactiveCancels(t *testing.T) {
	f := newDispatchFixture()
	f.rules.inactiveChannels[channel.Email] = true
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Cancelled != 1 {
		t.Fatalf("stats = %+v, want 1 cancelled", stats)
	}
	if len(f.email.sent) != 0 {
		t.Fatal("sender called for an inactive integration")
	}
}

func TestDispatchOptedOutCancels(t *testing.T) {
	f := newDispatchFixture()
	f.rules.optedOut[channel.Email+":ada@example.com"] = true
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Cancelled != 1 {
		t.Fatalf("stats = %+v, want 1 cancelled", stats)
	}
	if got := f.store.entries[1].LastError; got != "opted out" {
		t.Fatalf("reason = %q, want opted out", got)
	}
	if len(f.email.sent) != 0 {
		t.Fatal("sender called for an opted-out recipient")
	}
}

func TestDispatchMissingAppointmentFailsTerminally(t *testing.T) {
	f := newDispatchFixture()
	e := emailEntry(1)
	e.AppointmentID = 999
	f.store.add(e)

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	if got := f.store.entries[1].Status; got != queue.StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
}

func TestDispatchMalformedEntryFailsTerminally(t *testing.T) {
	f := newDispatchFixture()
	f.store.add(queue.Entry{ID: 1, BusinessID: 1, Channel: "", EventType: queue.EventConfirmed, AppointmentID: 7})

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
}

func TestDispatchUnsupportedChannelFailsTerminally(t *testing.T) {
	f := newDispatchFixture()
	e := emailEntry(1)
	e.Channel = "pigeon"
	f.store.add(e)

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	if got := f.store.entries[1].Status; got != queue.StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
}

func TestDispatchMissingRecipientFailsTerminally(t *testing.T) {
	f := newDispatchFixture()
	f.store.appts[7].CustomerEmail = ""
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
}

func TestDispatchSendFailureRequeuesWithBackoff(t *testing.T) {
	f := newDispatchFixture()
	f.email.err = errors.New("smtp down")
	f.store.add(emailEntry(1))

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	f.disp.now = func() time.Time { return now }

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Skipped != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want a requeue counted as skipped", stats)
	}
	e := f.store.entries[1]
	if e.Status != queue.StatusQueued {
		t.Fatalf("status = %q, want queued", e.Status)
	}
	if e.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", e.Attempts)
	}
	want := now.Add(1 * time.Minute)
	if e.RunAfter == nil || !e.RunAfter.Equal(want) {
		t.Fatalf("run_after = %v, want %v", e.RunAfter, want)
	}
	if len(f.log.entries) != 1 || f.log.entries[0].Status != deliverylog.StatusFailed {
		t.Fatalf("delivery log = %+v, want one failed attempt", f.log.entries)
	}
}

func TestDispatchExhaustedAttemptsFailTerminally(t *testing.T) {
	f := newDispatchFixture()
	f.email.err = errors.New("smtp down")
	e := emailEntry(1)
	e.Attempts = queue.DefaultMaxAttempts - 1
	f.store.add(e)

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Failed != 1 || stats.Skipped != 0 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	got := f.store.entries[1]
	if got.Status != queue.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Attempts != queue.DefaultMaxAttempts {
		t.Fatalf("attempts = %d, want %d", got.Attempts, queue.DefaultMaxAttempts)
	}
}

func TestBackoffMinutes(t *testing.T) {
	cases := []struct {
		attempts int
		want     int
	}{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 8}, {5, 16}, {6, 32}, {7, 60}, {8, 60}, {20, 60},
	}
	for _, c := range cases {
		if got := BackoffMinutes(c.attempts); got != c.want {
			t.Errorf("BackoffMinutes(%d) = %d, want %d", c.attempts, got, c.want)
		}
	}
}

func TestDispatchBudgetReleasesWithoutAttempt(t *testing.T) {
	f := newDispatchFixture()
	f.disp.budgets[channel.Email] = 1
	f.store.add(emailEntry(1))
	f.store.add(emailEntry(2))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Sent != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want 1 sent 1 skipped", stats)
	}
	if len(f.store.releasedIDs) != 1 {
		t.Fatalf("released = %v, want exactly one release", f.store.releasedIDs)
	}
	released := f.store.entries[f.store.releasedIDs[0]]
	if released.Status != queue.StatusQueued || released.Attempts != 0 {
		t.Fatalf("released row = %+v, want queued with attempts untouched", released)
	}
}

func TestDispatchConcurrentWorkersDoNotDoubleSend(t *testing.T) {
	store := newFakeQueueStore()
	store.appts[7] = &queue.AppointmentContext{
		AppointmentID: 7,
		CustomerEmail: "ada@example.com",
		StartAt:       time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
	for i := int64(1); i <= 5; i++ {
		store.add(emailEntry(i))
	}
	rules := &fakeRuleSource{
		disabledRules:    map[string]bool{},
		inactiveChannels: map[string]bool{},
		optedOut:         map[string]bool{},
	}
	sender := &fakeSender{}
	logger := slog.New(slog.DiscardHandler)

	a := NewDispatcher(store, rules, &fakeLogSink{}, map[string]channel.Sender{channel.Email: sender}, logger)
	b := NewDispatcher(store, rules, &fakeLogSink{}, map[string]channel.Sender{channel.Email: sender}, logger)

	// Both workers select the same candidates; the claim decides ownership.
	idsA, _ := store.FetchDueIDs(context.Background(), 10)
	idsB, _ := store.FetchDueIDs(context.Background(), 10)
	if len(idsA) != 5 || len(idsB) != 5 {
		t.Fatalf("candidate selection = %d/%d, want 5/5", len(idsA), len(idsB))
	}

	statsA, err := a.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch a: %v", err)
	}
	statsB, err := b.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch b: %v", err)
	}
	if statsA.Sent+statsB.Sent != 5 {
		t.Fatalf("sent %d+%d, want 5 total", statsA.Sent, statsB.Sent)
	}
	if len(sender.sent) != 5 {
		t.Fatalf("sender called %d times, want 5", len(sender.sent))
	}
}

func TestDispatchLogFailureDoesNotAbort(t *testing.T) {
	f := newDispatchFixture()
	f.log.err = errors.New("log table missing")
	f.store.add(emailEntry(1))

	stats, err := f.disp.Dispatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Sent != 1 {
		t.Fatalf("stats = %+v, want the send to succeed despite log failure", stats)
	}
	if got := f.store.entries[1].Status; got != queue.StatusSent {
		t.Fatalf("status = %q, want sent", got)
	}
}
