// Package push delivers due reminders. The scanner polls the store and
// hands each fired reminder to a Sender.
package push

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/metrics"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/store"
)

// Sender delivers a fired reminder to the user. Delivery failures are
// retried on the next scan because the reminder stays active.
type Sender interface {
	Send(ctx context.Context, task *models.Task, reminder *models.Reminder) error
}

// LogSender writes fired reminders to the log. It stands in for a real
// push transport in development and tests.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) Send(_ context.Context, task *models.Task, reminder *models.Reminder) error {
	s.Logger.Info("reminder fired",
		zap.String("task_id", task.ID),
		zap.String("installation_id", task.InstallationID),
		zap.String("title", task.Title),
		zap.Time("notify_at", reminder.NotifyAt),
	)
	return nil
}

// Scanner periodically fires reminders whose notify time has passed.
type Scanner struct {
	store    store.Store
	sender   Sender
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewScanner builds a scanner. interval defaults to 30 seconds.
func NewScanner(st store.Store, sender Sender, interval time.Duration, logger *zap.Logger) *Scanner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scanner{
		store:    st,
		sender:   sender,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is canceled, scanning on each tick.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reminder scanner started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scanner stopped")
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("reminder scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce fires every active reminder due at this instant. A reminder is
// marked done only after its send succeeds, so a failed delivery retries.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	due, err := s.store.ListDueReminders(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list due reminders: %w", err)
	}

	for i := range due {
		reminder := &due[i]
		task, err := s.store.GetTask(ctx, reminder.TaskID)
		if err != nil {
			// Orphaned reminder; cancel it so it stops coming back.
			s.logger.Warn("canceling reminder with missing task",
				zap.String("reminder_id", reminder.ID),
				zap.String("task_id", reminder.TaskID),
				zap.Error(err),
			)
			reminder.Status = models.ReminderCanceled
			reminder.UpdatedAt = s.now()
			if err := s.store.UpdateReminder(ctx, reminder); err != nil {
				s.logger.Error("cancel orphaned reminder failed", zap.Error(err))
			}
			continue
		}

		if err := s.sender.Send(ctx, task, reminder); err != nil {
			s.logger.Error("reminder delivery failed",
				zap.String("reminder_id", reminder.ID),
				zap.Error(err),
			)
			continue
		}

		reminder.Status = models.ReminderDone
		reminder.UpdatedAt = s.now()
		if err := s.store.UpdateReminder(ctx, reminder); err != nil {
			s.logger.Error("mark reminder done failed",
				zap.String("reminder_id", reminder.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.RemindersFired.Inc()
	}
	return nil
}
