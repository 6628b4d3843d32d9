// Package dispatch is the notification worker: it claims due queue rows
// under an optimistic lock, re-validates business rules, renders content,
// sends through the channel senders, and records every outcome.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/channel"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/deliverylog"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
	"github.com/webschedulr/webschedulr/services/notification-service/internal/template"
)

const (
	minBatchLimit = 1
	maxBatchLimit = 500

	// backoffCapMinutes bounds the exponential retry delay.
	backoffCapMinutes = 60
)

// defaultBudgets are the per-run, per-channel send caps. A row over budget
// is released back to the queue, not failed.
var defaultBudgets = map[string]int{
	channel.Email:    100,
	channel.SMS:      60,
	channel.WhatsApp: 60,
}

type QueueStore interface {
	FetchDueIDs(ctx context.Context, limit int) ([]int64, error)
	Claim(ctx context.Context, id int64, lockToken string) (bool, error)
	FetchClaimed(ctx context.Context, lockToken string) ([]queue.Entry, error)
	MarkSent(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64, reason string) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error
	Requeue(ctx context.Context, id int64, attempts int, runAfter time.Time, lastError string) error
	Release(ctx context.Context, id int64) error
	SetCorrelationID(ctx context.Context, id int64, correlationID string) error
	AppointmentContext(ctx context.Context, appointmentID int64) (*queue.AppointmentContext, error)
	MarkReminderSent(ctx context.Context, appointmentID int64) error
}

type RuleSource interface {
	IsRuleEnabled(ctx context.Context, businessID int64, eventType, channel string) (bool, error)
	IsIntegrationActive(ctx context.Context, businessID int64, channel string) (bool, error)
	IsOptedOut(ctx context.Context, businessID int64, channel, recipient string) (bool, error)
}

type LogSink interface {
	Append(ctx context.Context, e deliverylog.Entry) error
}

type Dispatcher struct {
	store   QueueStore
	rules   RuleSource
	log     LogSink
	senders map[string]channel.Sender
	budgets map[string]int
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(store QueueStore, rules RuleSource, log LogSink, senders map[string]channel.Sender, logger *slog.Logger) *Dispatcher {
	budgets := make(map[string]int, len(defaultBudgets))
	for k, v := range defaultBudgets {
		budgets[k] = v
	}
	return &Dispatcher{
		store:   store,
		rules:   rules,
		log:     log,
		senders: senders,
		budgets: budgets,
		logger:  logger,
		now:     time.Now,
	}
}

// Stats summarizes one dispatch run. Skipped counts rows released for a
// rate budget or requeued for retry; only exhausted-attempt rows count as
// Failed.
type Stats struct {
	Claimed   int
	Sent      int
	Failed    int
	Cancelled int
	Skipped   int
}

// BackoffMinutes is the capped exponential retry delay after the given
// attempt count: 1, 2, 4, 8, 16, 32, then 60.
func BackoffMinutes(attempts int) int {
	if attempts < 1 {
		attempts = 1
	}
	minutes := 1
	for i := 1; i < attempts && minutes < backoffCapMinutes; i++ {
		minutes *= 2
	}
	if minutes > backoffCapMinutes {
		minutes = backoffCapMinutes
	}
	return minutes
}

// Dispatch runs one worker pass. Safe to run from multiple processes at
// once: the per-row conditional claim is the only coordination, and any row
// lost to a competitor is silently dropped from this run.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (Stats, error) {
	if limit < minBatchLimit {
		limit = minBatchLimit
	}
	if limit > maxBatchLimit {
		limit = maxBatchLimit
	}

	var stats Stats
	lockToken := uuid.NewString()

	candidates, err := d.store.FetchDueIDs(ctx, limit)
	if err != nil {
		return stats, err
	}
	for _, id := range candidates {
		// A lost claim is not an error: another worker owns the row now.
		if _, err := d.store.Claim(ctx, id, lockToken); err != nil {
			return stats, err
		}
	}

	// Re-fetch by token: rows another worker claimed between selection and
	// claim never show up here.
	rows, err := d.store.FetchClaimed(ctx, lockToken)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(rows)

	remaining := make(map[string]int, len(d.budgets))
	for ch, n := range d.budgets {
		remaining[ch] = n
	}

	for _, row := range rows {
		d.dispatchRow(ctx, row, remaining, &stats)
	}
	return stats, nil
}

func (d *Dispatcher) dispatchRow(ctx context.Context, row queue.Entry, remaining map[string]int, stats *Stats) {
	if row.CorrelationID == "" {
		row.CorrelationID = uuid.NewString()
		if err := d.store.SetCorrelationID(ctx, row.ID, row.CorrelationID); err != nil {
			d.logger.Error("correlation id update failed", "queue_id", row.ID, "err", err)
		}
	}

	attempt := row.Attempts + 1

	if row.Channel == "" || row.EventType == "" || row.AppointmentID == 0 {
		d.failTerminally(ctx, row, attempt, "malformed queue entry", stats)
		return
	}
	if !channel.Supported(row.Channel) {
		d.failTerminally(ctx, row, attempt, fmt.Sprintf("unsupported channel %q", row.Channel), stats)
		return
	}

	if remaining[row.Channel] <= 0 {
		// Budget exhausted for this run: release without touching attempts.
		if err := d.store.Release(ctx, row.ID); err != nil {
			d.logger.Error("release failed", "queue_id", row.ID, "err", err)
		}
		stats.Skipped++
		return
	}

	enabled, err := d.rules.IsRuleEnabled(ctx, row.BusinessID, row.EventType, row.Channel)
	if err != nil {
		d.retryLater(ctx, row, attempt, fmt.Sprintf("rule check failed: %v", err), stats)
		return
	}
	if !enabled {
		d.cancel(ctx, row, attempt, "rule disabled", "", stats)
		return
	}

	active, err := d.rules.IsIntegrationActive(ctx, row.BusinessID, row.Channel)
	if err != nil {
		d.retryLater(ctx, row, attempt, fmt.Sprintf("integration check failed: %v", err), stats)
		return
	}
	if !active {
		d.cancel(ctx, row, attempt, "integration inactive", "", stats)
		return
	}

	appt, err := d.store.AppointmentContext(ctx, row.AppointmentID)
	if err != nil {
		d.retryLater(ctx, row, attempt, fmt.Sprintf("appointment load failed: %v", err), stats)
		return
	}
	if appt == nil {
		d.failTerminally(ctx, row, attempt, "appointment not found", stats)
		return
	}

	recipient := recipientFor(row.Channel, appt)
	if recipient == "" {
		d.failTerminally(ctx, row, attempt, "no recipient on file", stats)
		return
	}

	optedOut, err := d.rules.IsOptedOut(ctx, row.BusinessID, row.Channel, recipient)
	if err != nil {
		d.retryLater(ctx, row, attempt, fmt.Sprintf("opt-out check failed: %v", err), stats)
		return
	}
	if optedOut {
		d.cancel(ctx, row, attempt, "opted out", recipient, stats)
		return
	}

	rendered, err := template.RenderTemplate(row.EventType, row.Channel, templateData(appt))
	if err != nil {
		d.failTerminally(ctx, row, attempt, err.Error(), stats)
		return
	}

	sender := d.senders[row.Channel]
	if sender == nil {
		d.failTerminally(ctx, row, attempt, fmt.Sprintf("no sender configured for %q", row.Channel), stats)
		return
	}

	remaining[row.Channel]--

	sendErr := sender.Send(ctx, channel.Message{
		BusinessID: row.BusinessID,
		Recipient:  recipient,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
		EventType:  row.EventType,
	})
	if sendErr == nil {
		if err := d.store.MarkSent(ctx, row.ID); err != nil {
			d.logger.Error("mark sent failed", "queue_id", row.ID, "err", err)
		}
		d.appendLog(ctx, row, attempt, deliverylog.StatusSuccess, recipient, sender.Provider(), "")
		if row.EventType == queue.EventReminder {
			if err := d.store.MarkReminderSent(ctx, row.AppointmentID); err != nil {
				d.logger.Error("reminder flag update failed", "appointment_id", row.AppointmentID, "err", err)
			}
		}
		stats.Sent++
		return
	}

	if attempt >= row.MaxAttempts {
		if err := d.store.MarkFailed(ctx, row.ID, attempt, sendErr.Error()); err != nil {
			d.logger.Error("mark failed failed", "queue_id", row.ID, "err", err)
		}
		d.appendLog(ctx, row, attempt, deliverylog.StatusFailed, recipient, sender.Provider(), sendErr.Error())
		stats.Failed++
		return
	}

	backoff := time.Duration(BackoffMinutes(attempt)) * time.Minute
	if err := d.store.Requeue(ctx, row.ID, attempt, d.now().Add(backoff), sendErr.Error()); err != nil {
		d.logger.Error("requeue failed", "queue_id", row.ID, "err", err)
	}
	d.appendLog(ctx, row, attempt, deliverylog.StatusFailed, recipient, sender.Provider(), sendErr.Error())
	stats.Skipped++
}

// failTerminally marks the row failed with no retry.
func (d *Dispatcher) failTerminally(ctx context.Context, row queue.Entry, attempt int, reason string, stats *Stats) {
	if err := d.store.MarkFailed(ctx, row.ID, attempt, reason); err != nil {
		d.logger.Error("mark failed failed", "queue_id", row.ID, "err", err)
	}
	d.appendLog(ctx, row, attempt, deliverylog.StatusFailed, "", "", reason)
	stats.Failed++
}

// cancel suppresses the row intentionally: the configuration says not to
// send, which is not an error.
func (d *Dispatcher) cancel(ctx context.Context, row queue.Entry, attempt int, reason, recipient string, stats *Stats) {
	if err := d.store.Cancel(ctx, row.ID, reason); err != nil {
		d.logger.Error("cancel failed", "queue_id", row.ID, "err", err)
	}
	d.appendLog(ctx, row, attempt, deliverylog.StatusCancelled, recipient, "", reason)
	stats.Cancelled++
}

// retryLater requeues after a transient infrastructure error, on the same
// backoff curve as send failures.
func (d *Dispatcher) retryLater(ctx context.Context, row queue.Entry, attempt int, reason string, stats *Stats) {
	if attempt >= row.MaxAttempts {
		d.failTerminally(ctx, row, attempt, reason, stats)
		return
	}
	backoff := time.Duration(BackoffMinutes(attempt)) * time.Minute
	if err := d.store.Requeue(ctx, row.ID, attempt, d.now().Add(backoff), reason); err != nil {
		d.logger.Error("requeue failed", "queue_id", row.ID, "err", err)
	}
	d.appendLog(ctx, row, attempt, deliverylog.StatusFailed, "", "", reason)
	stats.Skipped++
}

// appendLog writes an audit entry, best effort. A log failure never aborts
// the dispatch that produced it.
func (d *Dispatcher) appendLog(ctx context.Context, row queue.Entry, attempt int, status, recipient, provider, errMsg string) {
	queueID := row.ID
	err := d.log.Append(ctx, deliverylog.Entry{
		BusinessID:    row.BusinessID,
		QueueEntryID:  &queueID,
		CorrelationID: row.CorrelationID,
		Channel:       row.Channel,
		EventType:     row.EventType,
		AppointmentID: row.AppointmentID,
		Recipient:     recipient,
		Provider:      provider,
		Status:        status,
		Attempt:       attempt,
		ErrorMessage:  errMsg,
	})
	if err != nil {
		d.logger.Error("delivery log write failed", "queue_id", row.ID, "err", err)
	}
}

func recipientFor(ch string, appt *queue.AppointmentContext) string {
	switch ch {
	case channel.Email:
		return appt.CustomerEmail
	case channel.SMS, channel.WhatsApp:
		return appt.CustomerPhone
	}
	return ""
}

func templateData(appt *queue.AppointmentContext) template.Data {
	return template.Data{
		"customer_name":    appt.CustomerName,
		"customer_email":   appt.CustomerEmail,
		"customer_phone":   appt.CustomerPhone,
		"service_name":     appt.ServiceName,
		"provider_name":    appt.ProviderName,
		"location":         appt.LocationName,
		"business_name":    appt.BusinessName,
		"appointment_date": appt.StartAt.Format("Monday, January 2, 2006"),
		"appointment_time": appt.StartAt.Format("3:04 PM"),
	}
}
