// Package booking drives the appointment lifecycle: create, update,
// reschedule, cancel, and status transitions, with the authoritative
// availability check re-run immediately before every persist.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/webschedulr/webschedulr/libs/timezone"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/availability"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/model"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/outbox"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/schedule"
	"github.com/webschedulr/webschedulr/services/scheduling-service/internal/storage"
)

type AppointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (int64, error)
	GetByID(ctx context.Context, id int64) (model.Appointment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (model.Appointment, error)
	GetByPublicToken(ctx context.Context, token string) (model.Appointment, error)
	Update(ctx context.Context, tx pgx.Tx, appt *model.Appointment) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status model.Status) error
}

type CustomerStore interface {
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
	FindByEmail(ctx context.Context, email string) (*model.Customer, error)
	FindByPhone(ctx context.Context, phone string) (*model.Customer, error)
	Create(ctx context.Context, tx pgx.Tx, c *model.Customer) (int64, error)
}

type CatalogStore interface {
	ServiceByID(ctx context.Context, id int64) (*model.Service, error)
	LocationByID(ctx context.Context, id int64) (*model.LocationSnapshot, error)
}

type HoursCatalog interface {
	ProviderHoursForDate(ctx context.Context, providerID int64, date string) (*schedule.DayHours, error)
}

type SlotChecker interface {
	IsSlotAvailable(ctx context.Context, providerID int64, startLocal, endLocal, zoneName string, excludeAppointmentID, locationID *int64) (availability.CheckResult, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, tx pgx.Tx, eventType string, appointmentID, businessID int64, channels []string)
}

type Policy interface {
	RescheduleWindowHours(ctx context.Context) (int, error)
}

type Orchestrator struct {
	appointments AppointmentStore
	customers    CustomerStore
	catalog      CatalogStore
	hours        HoursCatalog
	checker      SlotChecker
	emitter      EventEmitter
	policy       Policy
	logger       *slog.Logger
}

func NewOrchestrator(
	appointments AppointmentStore,
	customers CustomerStore,
	catalog CatalogStore,
	hours HoursCatalog,
	checker SlotChecker,
	emitter EventEmitter,
	policy Policy,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		appointments: appointments,
		customers:    customers,
		catalog:      catalog,
		hours:        hours,
		checker:      checker,
		emitter:      emitter,
		policy:       policy,
		logger:       logger,
	}
}

type CreateInput struct {
	BusinessID int64
	ServiceID  int64
	ProviderID int64
	Date       string // YYYY-MM-DD
	Time       string // HH:mm
	Timezone   string
	LocationID *int64
	Notes      string

	CustomerID        *int64
	CustomerEmail     string
	CustomerPhone     string
	CustomerFirstName string
	CustomerLastName  string

	NotificationTypes []string
}

// Result is the structured outcome of a booking operation. A business-rule
// rejection is a Result with Success=false, not an error; errors are reserved
// for infrastructure failures.
type Result struct {
	Success       bool
	AppointmentID int64
	Message       string
	Errors        []string
	Conflicts     []model.Appointment
}

func failure(message string, errs ...string) Result {
	if len(errs) == 0 {
		errs = []string{message}
	}
	return Result{Message: message, Errors: errs}
}

// CreateAppointment validates the request, re-runs the authoritative slot
// check as the last read before the insert, resolves or creates the customer,
// and persists a pending appointment. The lifecycle event is emitted in the
// same transaction via the outbox; emission problems are logged, never
// surfaced to the booker.
func (o *Orchestrator) CreateAppointment(ctx context.Context, input CreateInput) (Result, error) {
	svc, err := o.catalog.ServiceByID(ctx, input.ServiceID)
	if err != nil {
		return Result{}, err
	}
	if svc == nil || !svc.Active {
		return failure("invalid service"), nil
	}

	if input.CustomerID == nil && input.CustomerEmail == "" && input.CustomerPhone == "" {
		return failure("customer email or phone is required"), nil
	}

	loc, fellBack := timezone.Load(input.Timezone)
	if fellBack && input.Timezone != "" {
		o.logger.Warn("unknown timezone, using UTC", "timezone", input.Timezone)
	}

	startLocal := input.Date + " " + input.Time + ":00"
	start, err := timezone.ToAbsolute(startLocal, loc)
	if err != nil {
		return failure("invalid date or time"), nil
	}
	end := start.Add(time.Duration(svc.DurationMin) * time.Minute)
	endLocal := timezone.ToZoned(end, loc)

	if res, ok, err := o.precheckHours(ctx, input.ProviderID, input.Date); err != nil {
		return Result{}, err
	} else if !ok {
		return res, nil
	}

	check, err := o.checker.IsSlotAvailable(ctx, input.ProviderID, startLocal, endLocal, input.Timezone, nil, input.LocationID)
	if err != nil {
		return Result{}, err
	}
	if !check.Available {
		res := failure(check.Reason)
		res.Conflicts = check.Conflicts
		return res, nil
	}

	var snapshot *model.LocationSnapshot
	if input.LocationID != nil {
		snapshot, err = o.catalog.LocationByID(ctx, *input.LocationID)
		if err != nil {
			return Result{}, err
		}
		if snapshot == nil {
			return failure("invalid location"), nil
		}
	}

	tx, err := o.appointments.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	customerID, res, err := o.resolveCustomer(ctx, tx, input)
	if err != nil {
		return Result{}, err
	}
	if res != nil {
		return *res, nil
	}

	appt := &model.Appointment{
		BusinessID:     input.BusinessID,
		CustomerID:     customerID,
		ProviderID:     input.ProviderID,
		ServiceID:      input.ServiceID,
		StartAt:        start,
		EndAt:          end,
		Status:         model.StatusPending,
		Notes:          input.Notes,
		PublicToken:    NewPublicToken(),
		TokenExpiresAt: tokenExpiry(end),
	}
	if snapshot != nil {
		appt.LocationID = &snapshot.ID
		appt.LocationName = snapshot.Name
		appt.LocationAddress = snapshot.Address
		appt.LocationContact = snapshot.Contact
	}

	id, err := o.appointments.Create(ctx, tx, appt)
	if err != nil {
		// The exclusion constraint is the last line of defence against two
		// bookers passing the availability check for the same slot.
		if storage.IsConflict(err) {
			return failure("This time slot was just booked, please choose another"), nil
		}
		return Result{}, err
	}

	o.emitter.Emit(ctx, tx, outbox.EventConfirmed, id, input.BusinessID, input.NotificationTypes)

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, AppointmentID: id, Message: "appointment booked"}, nil
}

// precheckHours is a coarse business-hours gate before the authoritative
// check; it catches "provider not working" without loading conflicts.
func (o *Orchestrator) precheckHours(ctx context.Context, providerID int64, date string) (Result, bool, error) {
	hours, err := o.hours.ProviderHoursForDate(ctx, providerID, date)
	if err != nil {
		return Result{}, false, err
	}
	if hours == nil {
		return failure("Provider not working on this date"), false, nil
	}
	return Result{}, true, nil
}

// resolveCustomer implements the resolution order: explicit id, then email,
// then phone (only when no email was given), then create. A blank name
// defaults to "Guest".
func (o *Orchestrator) resolveCustomer(ctx context.Context, tx pgx.Tx, input CreateInput) (int64, *Result, error) {
	if input.CustomerID != nil {
		c, err := o.customers.GetByID(ctx, *input.CustomerID)
		if err != nil {
			return 0, nil, err
		}
		if c == nil {
			res := failure(fmt.Sprintf("customer %d not found", *input.CustomerID))
			return 0, &res, nil
		}
		return c.ID, nil, nil
	}

	if input.CustomerEmail != "" {
		c, err := o.customers.FindByEmail(ctx, input.CustomerEmail)
		if err != nil {
			return 0, nil, err
		}
		if c != nil {
			return c.ID, nil, nil
		}
	} else if input.CustomerPhone != "" {
		c, err := o.customers.FindByPhone(ctx, input.CustomerPhone)
		if err != nil {
			return 0, nil, err
		}
		if c != nil {
			return c.ID, nil, nil
		}
	}

	firstName := strings.TrimSpace(input.CustomerFirstName)
	if firstName == "" {
		firstName = "Guest"
	}
	id, err := o.customers.Create(ctx, tx, &model.Customer{
		FirstName: firstName,
		LastName:  strings.TrimSpace(input.CustomerLastName),
		Email:     input.CustomerEmail,
		Phone:     input.CustomerPhone,
	})
	if err != nil {
		return 0, nil, err
	}
	return id, nil, nil
}

type RescheduleInput struct {
	BusinessID    int64
	AppointmentID int64
	Date          string
	Time          string
	Timezone      string

	// SelfService applies the customer-facing minimum-notice window; staff
	// reschedules skip it.
	SelfService bool

	NotificationTypes []string
}

// Reschedule moves an appointment to a new time. The authoritative check runs
// against the new time with the appointment's own id excluded. The reminder
// flag resets only when the start time actually changed, and the public token
// is regenerated so previously shared links stop working.
func (o *Orchestrator) Reschedule(ctx context.Context, input RescheduleInput) (Result, error) {
	current, err := o.appointments.GetByID(ctx, input.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return failure("appointment not found"), nil
		}
		return Result{}, err
	}
	if current.Status.Terminal() {
		return failure(fmt.Sprintf("cannot reschedule a %s appointment", current.Status)), nil
	}

	if input.SelfService {
		window, err := o.policy.RescheduleWindowHours(ctx)
		if err != nil {
			return Result{}, err
		}
		if window > 0 && time.Until(current.StartAt) < time.Duration(window)*time.Hour {
			return failure(fmt.Sprintf("reschedule requires at least %d hours notice", window)), nil
		}
	}

	svc, err := o.catalog.ServiceByID(ctx, current.ServiceID)
	if err != nil {
		return Result{}, err
	}
	if svc == nil {
		return failure("invalid service"), nil
	}

	loc, _ := timezone.Load(input.Timezone)
	startLocal := input.Date + " " + input.Time + ":00"
	start, err := timezone.ToAbsolute(startLocal, loc)
	if err != nil {
		return failure("invalid date or time"), nil
	}
	end := start.Add(time.Duration(svc.DurationMin) * time.Minute)
	endLocal := timezone.ToZoned(end, loc)

	check, err := o.checker.IsSlotAvailable(ctx, current.ProviderID, startLocal, endLocal, input.Timezone, &current.ID, current.LocationID)
	if err != nil {
		return Result{}, err
	}
	if !check.Available {
		res := failure(check.Reason)
		res.Conflicts = check.Conflicts
		return res, nil
	}

	tx, err := o.appointments.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := o.appointments.GetForUpdate(ctx, tx, input.AppointmentID)
	if err != nil {
		return Result{}, err
	}

	if StartChanged(appt.StartAt, start) {
		appt.ReminderSent = false
	}
	appt.StartAt = start
	appt.EndAt = end
	appt.PublicToken = NewPublicToken()
	appt.TokenExpiresAt = tokenExpiry(end)

	if err := o.appointments.Update(ctx, tx, &appt); err != nil {
		if storage.IsConflict(err) {
			return failure("This time slot was just booked, please choose another"), nil
		}
		return Result{}, err
	}

	o.emitter.Emit(ctx, tx, outbox.EventRescheduled, appt.ID, input.BusinessID, input.NotificationTypes)

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, AppointmentID: appt.ID, Message: "appointment rescheduled"}, nil
}

type UpdateInput struct {
	BusinessID    int64
	AppointmentID int64

	// Optional changes; nil/empty means keep the current value.
	ServiceID  *int64
	ProviderID *int64
	Date       string
	Time       string
	Timezone   string
	Notes      *string

	NotificationTypes []string
}

// UpdateAppointment applies a staff edit. Any change that moves the
// appointment on the calendar (time, provider, or service duration) re-runs
// the authoritative slot check with the appointment's own id excluded; a
// notes-only edit persists without touching availability.
func (o *Orchestrator) UpdateAppointment(ctx context.Context, input UpdateInput) (Result, error) {
	current, err := o.appointments.GetByID(ctx, input.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return failure("appointment not found"), nil
		}
		return Result{}, err
	}
	if current.Status.Terminal() {
		return failure(fmt.Sprintf("cannot update a %s appointment", current.Status)), nil
	}

	serviceID := current.ServiceID
	if input.ServiceID != nil {
		serviceID = *input.ServiceID
	}
	svc, err := o.catalog.ServiceByID(ctx, serviceID)
	if err != nil {
		return Result{}, err
	}
	if svc == nil || !svc.Active {
		return failure("invalid service"), nil
	}

	providerID := current.ProviderID
	if input.ProviderID != nil {
		providerID = *input.ProviderID
	}

	loc, _ := timezone.Load(input.Timezone)
	start := current.StartAt
	if input.Date != "" && input.Time != "" {
		start, err = timezone.ToAbsolute(input.Date+" "+input.Time+":00", loc)
		if err != nil {
			return failure("invalid date or time"), nil
		}
	}
	end := start.Add(time.Duration(svc.DurationMin) * time.Minute)

	moved := StartChanged(current.StartAt, start) ||
		!end.Equal(current.EndAt) ||
		providerID != current.ProviderID ||
		serviceID != current.ServiceID
	if moved {
		startLocal := timezone.ToZoned(start, loc)
		endLocal := timezone.ToZoned(end, loc)
		check, err := o.checker.IsSlotAvailable(ctx, providerID, startLocal, endLocal, input.Timezone, &current.ID, current.LocationID)
		if err != nil {
			return Result{}, err
		}
		if !check.Available {
			res := failure(check.Reason)
			res.Conflicts = check.Conflicts
			return res, nil
		}
	}

	tx, err := o.appointments.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := o.appointments.GetForUpdate(ctx, tx, input.AppointmentID)
	if err != nil {
		return Result{}, err
	}

	startChanged := StartChanged(appt.StartAt, start)
	if startChanged {
		appt.ReminderSent = false
	}
	appt.ServiceID = serviceID
	appt.ProviderID = providerID
	appt.StartAt = start
	appt.EndAt = end
	if input.Notes != nil {
		appt.Notes = *input.Notes
	}

	if err := o.appointments.Update(ctx, tx, &appt); err != nil {
		return Result{}, err
	}

	if startChanged {
		o.emitter.Emit(ctx, tx, outbox.EventRescheduled, appt.ID, input.BusinessID, input.NotificationTypes)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, AppointmentID: appt.ID, Message: "appointment updated"}, nil
}

// StartChanged compares old and new start instants as trimmed formatted
// strings, so re-submitting the same time is a no-op that keeps the reminder
// flag intact.
func StartChanged(oldStart, newStart time.Time) bool {
	oldS := strings.TrimSpace(oldStart.UTC().Format(timezone.Layout))
	newS := strings.TrimSpace(newStart.UTC().Format(timezone.Layout))
	return oldS != newS
}

// Cancel moves an appointment to cancelled. Cancelling an already-cancelled
// appointment is a no-op success, not an error.
func (o *Orchestrator) Cancel(ctx context.Context, businessID, appointmentID int64, notificationTypes []string) (Result, error) {
	tx, err := o.appointments.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := o.appointments.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return failure("appointment not found"), nil
		}
		return Result{}, err
	}

	if appt.Status == model.StatusCancelled {
		return Result{Success: true, AppointmentID: appt.ID, Message: "appointment already cancelled"}, nil
	}
	if !appt.Status.CanTransitionTo(model.StatusCancelled) {
		return failure(fmt.Sprintf("cannot cancel a %s appointment", appt.Status)), nil
	}

	if err := o.appointments.UpdateStatus(ctx, tx, appt.ID, model.StatusCancelled); err != nil {
		return Result{}, err
	}

	o.emitter.Emit(ctx, tx, outbox.EventCancelled, appt.ID, businessID, notificationTypes)

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, AppointmentID: appt.ID, Message: "appointment cancelled"}, nil
}

// ChangeStatus applies a lifecycle transition and emits the matching event.
func (o *Orchestrator) ChangeStatus(ctx context.Context, businessID, appointmentID int64, next model.Status) (Result, error) {
	if !model.ValidStatus(string(next)) {
		return failure(fmt.Sprintf("unknown status %q", next)), nil
	}
	if next == model.StatusCancelled {
		return o.Cancel(ctx, businessID, appointmentID, nil)
	}

	tx, err := o.appointments.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := o.appointments.GetForUpdate(ctx, tx, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return failure("appointment not found"), nil
		}
		return Result{}, err
	}

	if !appt.Status.CanTransitionTo(next) {
		return failure(fmt.Sprintf("cannot move a %s appointment to %s", appt.Status, next)), nil
	}

	if err := o.appointments.UpdateStatus(ctx, tx, appt.ID, next); err != nil {
		return Result{}, err
	}

	switch next {
	case model.StatusConfirmed:
		o.emitter.Emit(ctx, tx, outbox.EventConfirmed, appt.ID, businessID, nil)
	case model.StatusCompleted:
		o.emitter.Emit(ctx, tx, outbox.EventCompleted, appt.ID, businessID, nil)
	case model.StatusNoShow:
		o.emitter.Emit(ctx, tx, outbox.EventNoShow, appt.ID, businessID, nil)
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return Result{Success: true, AppointmentID: appt.ID, Message: fmt.Sprintf("appointment %s", next)}, nil
}

// GetByPublicToken serves the customer self-service surface.
func (o *Orchestrator) GetByPublicToken(ctx context.Context, token string) (*model.Appointment, error) {
	appt, err := o.appointments.GetByPublicToken(ctx, token)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &appt, nil
}
