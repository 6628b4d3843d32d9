package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/webschedulr/webschedulr/services/notification-service/internal/queue"
)

// Reminders are enqueued per business; BusinessLister supplies the set to
// scan.
type BusinessLister interface {
	ActiveBusinessIDs(ctx context.Context) ([]int64, error)
}

type Worker struct {
	dispatcher *Dispatcher
	enqueuer   *queue.Enqueuer
	businesses BusinessLister
	logger     *slog.Logger

	dispatchInterval time.Duration
	reminderInterval time.Duration
	batchSize        int
}

type WorkerConfig struct {
	DispatchInterval time.Duration
	ReminderInterval time.Duration
	BatchSize        int
}

func NewWorker(dispatcher *Dispatcher, enqueuer *queue.Enqueuer, businesses BusinessLister, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Second
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = 1 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		dispatcher:       dispatcher,
		enqueuer:         enqueuer,
		businesses:       businesses,
		logger:           logger,
		dispatchInterval: cfg.DispatchInterval,
		reminderInterval: cfg.ReminderInterval,
		batchSize:        cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	dispatchTicker := time.NewTicker(w.dispatchInterval)
	defer dispatchTicker.Stop()
	reminderTicker := time.NewTicker(w.reminderInterval)
	defer reminderTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dispatchTicker.C:
			stats, err := w.dispatcher.Dispatch(ctx, w.batchSize)
			if err != nil {
				w.logger.Error("dispatch batch failed", "err", err)
				continue
			}
			if stats.Claimed > 0 {
				w.logger.Info("dispatch batch done",
					"claimed", stats.Claimed, "sent", stats.Sent,
					"failed", stats.Failed, "cancelled", stats.Cancelled,
					"skipped", stats.Skipped)
			}
		case <-reminderTicker.C:
			w.scanReminders(ctx)
		}
	}
}

func (w *Worker) scanReminders(ctx context.Context) {
	ids, err := w.businesses.ActiveBusinessIDs(ctx)
	if err != nil {
		w.logger.Error("business list failed", "err", err)
		return
	}
	for _, businessID := range ids {
		stats, err := w.enqueuer.EnqueueDueReminders(ctx, businessID, time.Now())
		if err != nil {
			w.logger.Error("reminder scan failed", "business_id", businessID, "err", err)
			continue
		}
		if stats.Enqueued > 0 {
			w.logger.Info("reminders enqueued",
				"business_id", businessID, "scanned", stats.Scanned,
				"enqueued", stats.Enqueued, "skipped", stats.Skipped)
		}
	}
}
