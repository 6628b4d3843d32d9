package booking

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/availability"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/outbox"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/schedule"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeAppointments struct {
	byID      map[int64]model.Appointment
	nextID    int64
	lastTx    *fakeTx
	createErr error
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{byID: map[int64]model.Appointment{}, nextID: 1}
}

func (f *fakeAppointments) Begin(context.Context) (pgx.Tx, error) {
	f.lastTx = &fakeTx{}
	return f.lastTx, nil
}

func (f *fakeAppointments) Create(_ context.Context, _ pgx.Tx, appt *model.Appointment) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	id := f.nextID
	f.nextID++
	appt.ID = id
	f.byID[id] = *appt
	return id, nil
}

func (f *fakeAppointments) GetByID(_ context.Context, id int64) (model.Appointment, error) {
	appt, ok := f.byID[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (f *fakeAppointments) GetForUpdate(ctx context.Context, _ pgx.Tx, id int64) (model.Appointment, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeAppointments) GetByPublicToken(_ context.Context, token string) (model.Appointment, error) {
	for _, appt := range f.byID {
		if appt.PublicToken == token {
			return appt, nil
		}
	}
	return model.Appointment{}, pgx.ErrNoRows
}

func (f *fakeAppointments) Update(_ context.Context, _ pgx.Tx, appt *model.Appointment) error {
	if _, ok := f.byID[appt.ID]; !ok {
		return pgx.ErrNoRows
	}
	f.byID[appt.ID] = *appt
	return nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, _ pgx.Tx, id int64, status model.Status) error {
	appt, ok := f.byID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	appt.Status = status
	f.byID[id] = appt
	return nil
}

type fakeCustomers struct {
	byID    map[int64]*model.Customer
	byEmail map[string]*model.Customer
	byPhone map[string]*model.Customer
	created []*model.Customer
	nextID  int64
}

func newFakeCustomers() *fakeCustomers {
	return &fakeCustomers{
		byID:    map[int64]*model.Customer{},
		byEmail: map[string]*model.Customer{},
		byPhone: map[string]*model.Customer{},
		nextID:  100,
	}
}

func (f *fakeCustomers) GetByID(_ context.Context, id int64) (*model.Customer, error) {
	return f.byID[id], nil
}

func (f *fakeCustomers) FindByEmail(_ context.Context, email string) (*model.Customer, error) {
	return f.byEmail[email], nil
}

func (f *fakeCustomers) FindByPhone(_ context.Context, phone string) (*model.Customer, error) {
	return f.byPhone[phone], nil
}

func (f *fakeCustomers) Create(_ context.Context, _ pgx.Tx, c *model.Customer) (int64, error) {
	id := f.nextID
	f.nextID++
	c.ID = id
	f.byID[id] = c
	f.created = append(f.created, c)
	return id, nil
}

type fakeCatalog struct {
	services  map[int64]*model.Service
	locations map[int64]*model.LocationSnapshot
}

func (f *fakeCatalog) ServiceByID(_ context.Context, id int64) (*model.Service, error) {
	return f.services[id], nil
}

func (f *fakeCatalog) LocationByID(_ context.Context, id int64) (*model.LocationSnapshot, error) {
	return f.locations[id], nil
}

type fakeHours struct{ working bool }

func (f *fakeHours) ProviderHoursForDate(context.Context, int64, string) (*schedule.DayHours, error) {
	if !f.working {
		return nil, nil
	}
	return &schedule.DayHours{Start: 9 * 60, End: 17 * 60}, nil
}

type fakeChecker struct {
	result availability.CheckResult
	calls  []struct{ excludeID *int64 }
}

func (f *fakeChecker) IsSlotAvailable(_ context.Context, _ int64, _, _, _ string, excludeID, _ *int64) (availability.CheckResult, error) {
	f.calls = append(f.calls, struct{ excludeID *int64 }{excludeID})
	return f.result, nil
}

type emitted struct {
	eventType     string
	appointmentID int64
	channels      []string
}

type fakeEmitter struct{ events []emitted }

func (f *fakeEmitter) Emit(_ context.Context, _ pgx.Tx, eventType string, appointmentID, _ int64, channels []string) {
	f.events = append(f.events, emitted{eventType, appointmentID, channels})
}

type fakePolicy struct{ windowHours int }

func (f *fakePolicy) RescheduleWindowHours(context.Context) (int, error) {
	return f.windowHours, nil
}

type fixture struct {
	appointments *fakeAppointments
	customers    *fakeCustomers
	catalog      *fakeCatalog
	checker      *fakeChecker
	emitter      *fakeEmitter
	policy       *fakePolicy
	orchestrator *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		appointments: newFakeAppointments(),
		customers:    newFakeCustomers(),
		catalog: &fakeCatalog{
			services: map[int64]*model.Service{
				1: {ID: 1, Name: "Consultation", DurationMin: 30, Active: true},
				2: {ID: 2, Name: "Retired", DurationMin: 30, Active: false},
			},
			locations: map[int64]*model.LocationSnapshot{
				5: {ID: 5, Name: "Downtown", Address: "1 Main St", Contact: "555-0100"},
			},
		},
		checker: &fakeChecker{result: availability.CheckResult{Available: true}},
		emitter: &fakeEmitter{},
		policy:  &fakePolicy{},
	}
	f.orchestrator = NewOrchestrator(
		f.appointments, f.customers, f.catalog, &fakeHours{working: true},
		f.checker, f.emitter, f.policy, slog.New(slog.DiscardHandler),
	)
	return f
}

func validInput() CreateInput {
	return CreateInput{
		BusinessID:    1,
		ServiceID:     1,
		ProviderID:    3,
		Date:          "2025-06-02",
		Time:          "10:00",
		Timezone:      "UTC",
		CustomerEmail: "alex@example.com",
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture()

	res, err := f.orchestrator.CreateAppointment(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}

	appt := f.appointments.byID[res.AppointmentID]
	if appt.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", appt.Status)
	}
	if appt.BusinessID != 1 {
		t.Errorf("business id = %d, want 1", appt.BusinessID)
	}
	if appt.PublicToken == "" {
		t.Error("public token not generated")
	}
	if got := appt.StartAt.Format("2006-01-02 15:04"); got != "2025-06-02 10:00" {
		t.Errorf("start = %s", got)
	}
	if appt.EndAt.Sub(appt.StartAt) != 30*time.Minute {
		t.Errorf("duration = %s, want 30m", appt.EndAt.Sub(appt.StartAt))
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].eventType != outbox.EventConfirmed {
		t.Errorf("events = %+v, want one confirmed event", f.emitter.events)
	}
	if !f.appointments.lastTx.committed {
		t.Error("transaction not committed")
	}
}

func TestCreateAppointmentInvalidService(t *testing.T) {
	f := newFixture()

	for _, serviceID := range []int64{2, 99} {
		input := validInput()
		input.ServiceID = serviceID
		res, err := f.orchestrator.CreateAppointment(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if res.Success || res.Message != "invalid service" {
			t.Errorf("service %d: got %+v, want invalid service failure", serviceID, res)
		}
	}
}

func TestCreateAppointmentRequiresContact(t *testing.T) {
	f := newFixture()
	input := validInput()
	input.CustomerEmail = ""

	res, err := f.orchestrator.CreateAppointment(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure without email or phone")
	}
}

func TestCreateAppointmentSlotRejection(t *testing.T) {
	f := newFixture()
	conflict := model.Appointment{ID: 9}
	f.checker.result = availability.CheckResult{
		Reason:    "Conflicts with 1 existing appointment(s)",
		Conflicts: []model.Appointment{conflict},
	}

	res, err := f.orchestrator.CreateAppointment(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].ID != 9 {
		t.Errorf("conflicts not surfaced: %+v", res.Conflicts)
	}
	if len(f.appointments.byID) != 0 {
		t.Error("appointment persisted despite rejection")
	}
}

func TestCreateAppointmentInsertConflict(t *testing.T) {
	f := newFixture()
	f.appointments.createErr = &pgconn.PgError{Code: "23P01"}

	res, err := f.orchestrator.CreateAppointment(context.Background(), validInput())
	if err != nil {
		t.Fatalf("a constraint conflict must surface as a rejection, not an error: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection when the insert hits the exclusion constraint")
	}
	if res.Message == "" {
		t.Error("rejection carries no message")
	}
	if len(f.emitter.events) != 0 {
		t.Errorf("events = %+v, want none after a failed insert", f.emitter.events)
	}
}

func TestCreateAppointmentProviderNotWorking(t *testing.T) {
	f := newFixture()
	f.orchestrator = NewOrchestrator(
		f.appointments, f.customers, f.catalog, &fakeHours{working: false},
		f.checker, f.emitter, f.policy, slog.New(slog.DiscardHandler),
	)

	res, err := f.orchestrator.CreateAppointment(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure when provider has no hours")
	}
	if len(f.checker.calls) != 0 {
		t.Error("authoritative check should not run after pre-check failure")
	}
}

func TestCreateAppointmentLocationSnapshot(t *testing.T) {
	f := newFixture()
	input := validInput()
	locID := int64(5)
	input.LocationID = &locID

	res, err := f.orchestrator.CreateAppointment(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	appt := f.appointments.byID[res.AppointmentID]
	if appt.LocationName != "Downtown" || appt.LocationAddress != "1 Main St" {
		t.Errorf("location snapshot missing: %+v", appt)
	}
}

func TestResolveCustomerPrecedence(t *testing.T) {
	t.Run("explicit id", func(t *testing.T) {
		f := newFixture()
		f.customers.byID[7] = &model.Customer{ID: 7}
		input := validInput()
		id := int64(7)
		input.CustomerID = &id

		res, err := f.orchestrator.CreateAppointment(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success {
			t.Fatalf("got %q", res.Message)
		}
		if f.appointments.byID[res.AppointmentID].CustomerID != 7 {
			t.Error("explicit customer id not used")
		}
	})

	t.Run("unknown id fails", func(t *testing.T) {
		f := newFixture()
		input := validInput()
		id := int64(404)
		input.CustomerID = &id

		res, err := f.orchestrator.CreateAppointment(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			t.Fatal("expected failure for unknown customer id")
		}
	})

	t.Run("email reuse", func(t *testing.T) {
		f := newFixture()
		f.customers.byEmail["alex@example.com"] = &model.Customer{ID: 12}

		res, err := f.orchestrator.CreateAppointment(context.Background(), validInput())
		if err != nil {
			t.Fatal(err)
		}
		if f.appointments.byID[res.AppointmentID].CustomerID != 12 {
			t.Error("existing customer not reused by email")
		}
		if len(f.customers.created) != 0 {
			t.Error("new customer created despite email match")
		}
	})

	t.Run("phone reuse only without email", func(t *testing.T) {
		f := newFixture()
		f.customers.byPhone["+15550100"] = &model.Customer{ID: 15}
		input := validInput()
		input.CustomerPhone = "+15550100"

		// Email present: phone lookup must not run even though it would match.
		res, err := f.orchestrator.CreateAppointment(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if f.appointments.byID[res.AppointmentID].CustomerID == 15 {
			t.Error("phone lookup ran despite email being present")
		}

		input.CustomerEmail = ""
		res, err = f.orchestrator.CreateAppointment(context.Background(), input)
		if err != nil {
			t.Fatal(err)
		}
		if f.appointments.byID[res.AppointmentID].CustomerID != 15 {
			t.Error("existing customer not reused by phone")
		}
	})

	t.Run("create defaults blank name to Guest", func(t *testing.T) {
		f := newFixture()

		if _, err := f.orchestrator.CreateAppointment(context.Background(), validInput()); err != nil {
			t.Fatal(err)
		}
		if len(f.customers.created) != 1 {
			t.Fatal("expected one created customer")
		}
		if f.customers.created[0].FirstName != "Guest" {
			t.Errorf("first name = %q, want Guest", f.customers.created[0].FirstName)
		}
	})
}

func seedAppointment(f *fixture, status model.Status, start time.Time) int64 {
	id := f.appointments.nextID
	f.appointments.nextID++
	f.appointments.byID[id] = model.Appointment{
		ID:          id,
		CustomerID:  100,
		ProviderID:  3,
		ServiceID:   1,
		StartAt:     start,
		EndAt:       start.Add(30 * time.Minute),
		Status:      status,
		PublicToken: "tok-original",
	}
	return id
}

func TestRescheduleResetsReminderAndToken(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)
	appt := f.appointments.byID[id]
	appt.ReminderSent = true
	f.appointments.byID[id] = appt

	res, err := f.orchestrator.Reschedule(context.Background(), RescheduleInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-03",
		Time:          "11:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}

	updated := f.appointments.byID[id]
	if updated.ReminderSent {
		t.Error("reminder flag not reset after time change")
	}
	if updated.PublicToken == "tok-original" {
		t.Error("public token not regenerated")
	}
	if got := updated.StartAt.Format("2006-01-02 15:04"); got != "2025-06-03 11:00" {
		t.Errorf("start = %s", got)
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].eventType != outbox.EventRescheduled {
		t.Errorf("events = %+v", f.emitter.events)
	}
	if len(f.checker.calls) != 1 || f.checker.calls[0].excludeID == nil || *f.checker.calls[0].excludeID != id {
		t.Error("authoritative check did not exclude the appointment's own id")
	}
}

func TestRescheduleSameTimeKeepsReminderFlag(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)
	appt := f.appointments.byID[id]
	appt.ReminderSent = true
	f.appointments.byID[id] = appt

	res, err := f.orchestrator.Reschedule(context.Background(), RescheduleInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-02",
		Time:          "10:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}
	if !f.appointments.byID[id].ReminderSent {
		t.Error("reminder flag reset by a no-op time change")
	}
}

func TestRescheduleWindowPolicy(t *testing.T) {
	f := newFixture()
	f.policy.windowHours = 24
	id := seedAppointment(f, model.StatusConfirmed, time.Now().Add(2*time.Hour))

	res, err := f.orchestrator.Reschedule(context.Background(), RescheduleInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-03",
		Time:          "11:00",
		Timezone:      "UTC",
		SelfService:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("self-service reschedule inside the notice window should fail")
	}

	// Staff reschedules ignore the window.
	res, err = f.orchestrator.Reschedule(context.Background(), RescheduleInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-03",
		Time:          "11:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("staff reschedule failed: %q", res.Message)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture()
	id := seedAppointment(f, model.StatusConfirmed, time.Now().Add(time.Hour))

	res, err := f.orchestrator.Cancel(context.Background(), 1, id, []string{"email"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}
	if f.appointments.byID[id].Status != model.StatusCancelled {
		t.Error("status not cancelled")
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].eventType != outbox.EventCancelled {
		t.Errorf("events = %+v", f.emitter.events)
	}
}

func TestCancelAlreadyCancelledIsNoOp(t *testing.T) {
	f := newFixture()
	id := seedAppointment(f, model.StatusCancelled, time.Now().Add(time.Hour))

	res, err := f.orchestrator.Cancel(context.Background(), 1, id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("cancelling a cancelled appointment should succeed, got %q", res.Message)
	}
	if len(f.emitter.events) != 0 {
		t.Error("no event should be emitted for a no-op cancel")
	}
}

func TestCancelCompletedFails(t *testing.T) {
	f := newFixture()
	id := seedAppointment(f, model.StatusCompleted, time.Now().Add(-time.Hour))

	res, err := f.orchestrator.Cancel(context.Background(), 1, id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("cancelling a completed appointment should fail")
	}
}

func TestChangeStatusTransitions(t *testing.T) {
	cases := []struct {
		from model.Status
		to   model.Status
		ok   bool
	}{
		{model.StatusPending, model.StatusConfirmed, true},
		{model.StatusConfirmed, model.StatusCompleted, true},
		{model.StatusConfirmed, model.StatusNoShow, true},
		{model.StatusPending, model.StatusCompleted, false},
		{model.StatusCompleted, model.StatusConfirmed, false},
		{model.StatusNoShow, model.StatusCompleted, false},
	}
	for _, c := range cases {
		f := newFixture()
		id := seedAppointment(f, c.from, time.Now().Add(time.Hour))

		res, err := f.orchestrator.ChangeStatus(context.Background(), 1, id, c.to)
		if err != nil {
			t.Fatal(err)
		}
		if res.Success != c.ok {
			t.Errorf("%s -> %s: success = %v, want %v (%s)", c.from, c.to, res.Success, c.ok, res.Message)
		}
	}
}

func TestStartChanged(t *testing.T) {
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if StartChanged(base, base) {
		t.Error("identical instants reported as changed")
	}
	if !StartChanged(base, base.Add(time.Minute)) {
		t.Error("shifted instant not reported as changed")
	}
	// Same instant expressed in a different zone is not a change.
	ny, _ := time.LoadLocation("America/New_York")
	if StartChanged(base, base.In(ny)) {
		t.Error("zone conversion of the same instant reported as changed")
	}
}

func TestUpdateAppointmentNotesOnlySkipsSlotCheck(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)

	notes := "bring previous scans"
	res, err := f.orchestrator.UpdateAppointment(context.Background(), UpdateInput{
		BusinessID:    1,
		AppointmentID: id,
		Notes:         &notes,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}
	if len(f.checker.calls) != 0 {
		t.Error("slot check ran for a notes-only edit")
	}
	updated := f.appointments.byID[id]
	if updated.Notes != notes {
		t.Errorf("notes = %q", updated.Notes)
	}
	if !updated.StartAt.Equal(start) {
		t.Error("start time moved on a notes-only edit")
	}
	if len(f.emitter.events) != 0 {
		t.Errorf("events = %+v, want none for a notes-only edit", f.emitter.events)
	}
}

func TestUpdateAppointmentTimeChangeRechecksAndResetsReminder(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)
	appt := f.appointments.byID[id]
	appt.ReminderSent = true
	f.appointments.byID[id] = appt

	res, err := f.orchestrator.UpdateAppointment(context.Background(), UpdateInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-02",
		Time:          "14:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}
	if len(f.checker.calls) != 1 || f.checker.calls[0].excludeID == nil || *f.checker.calls[0].excludeID != id {
		t.Error("slot check did not run with the appointment's own id excluded")
	}
	updated := f.appointments.byID[id]
	if updated.ReminderSent {
		t.Error("reminder flag not reset after time change")
	}
	if got := updated.StartAt.Format("2006-01-02 15:04"); got != "2025-06-02 14:00" {
		t.Errorf("start = %s", got)
	}
	if updated.PublicToken != "tok-original" {
		t.Error("update must not regenerate the public token")
	}
	if len(f.emitter.events) != 1 || f.emitter.events[0].eventType != outbox.EventRescheduled {
		t.Errorf("events = %+v", f.emitter.events)
	}
}

func TestUpdateAppointmentServiceChangeAdjustsDuration(t *testing.T) {
	f := newFixture()
	f.catalog.services[4] = &model.Service{ID: 4, Name: "Extended", DurationMin: 60, Active: true}
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)

	newService := int64(4)
	res, err := f.orchestrator.UpdateAppointment(context.Background(), UpdateInput{
		BusinessID:    1,
		AppointmentID: id,
		ServiceID:     &newService,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("got %q", res.Message)
	}
	if len(f.checker.calls) != 1 {
		t.Error("slot check did not run after the duration grew")
	}
	updated := f.appointments.byID[id]
	if updated.ServiceID != 4 {
		t.Errorf("service = %d", updated.ServiceID)
	}
	if updated.EndAt.Sub(updated.StartAt) != 60*time.Minute {
		t.Errorf("duration = %s, want 60m", updated.EndAt.Sub(updated.StartAt))
	}
	if updated.ReminderSent {
		// start unchanged, so no reset needed either way; the flag was false.
		t.Error("reminder flag flipped unexpectedly")
	}
}

func TestUpdateAppointmentRejectsTerminal(t *testing.T) {
	f := newFixture()
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusCancelled, start)

	res, err := f.orchestrator.UpdateAppointment(context.Background(), UpdateInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-03",
		Time:          "11:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("updated a cancelled appointment")
	}
}

func TestUpdateAppointmentSlotRejectionDoesNotPersist(t *testing.T) {
	f := newFixture()
	f.checker.result = availability.CheckResult{Available: false, Reason: "Conflicts with 1 existing appointment(s)"}
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	id := seedAppointment(f, model.StatusConfirmed, start)

	res, err := f.orchestrator.UpdateAppointment(context.Background(), UpdateInput{
		BusinessID:    1,
		AppointmentID: id,
		Date:          "2025-06-02",
		Time:          "14:00",
		Timezone:      "UTC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("update persisted past a failed slot check")
	}
	if !f.appointments.byID[id].StartAt.Equal(start) {
		t.Error("appointment moved despite the rejection")
	}
}
