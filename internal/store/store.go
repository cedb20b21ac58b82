// Package store defines the persistence contracts consumed by the
// conversation engine, plus an injectable in-memory implementation used for
// defaults and tests. Durable implementations live in the postgres and
// redisctx subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
)

// TaskStore persists task and memo records.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ListTasks returns all records for an installation, newest-updated first.
	ListTasks(ctx context.Context, installationID string) ([]models.Task, error)
	// ListActiveScheduledTasks returns active tasks with a scheduled due,
	// soonest due first.
	ListActiveScheduledTasks(ctx context.Context, installationID string) ([]models.Task, error)
}

// ReminderStore persists reminder records.
type ReminderStore interface {
	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	UpdateReminder(ctx context.Context, reminder *models.Reminder) error
	GetReminder(ctx context.Context, id string) (*models.Reminder, error)
	ListRemindersByTask(ctx context.Context, taskID string) ([]models.Reminder, error)
	// ListUpcomingReminders returns active reminders for an installation
	// ordered by notify time.
	ListUpcomingReminders(ctx context.Context, installationID string) ([]models.Reminder, error)
	// ListDueReminders returns active reminders whose notify time is at or
	// before now, across all installations.
	ListDueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error)
}

// ContextStore holds at most one conversation context per installation.
// GetContext returns (nil, nil) when no context exists.
type ContextStore interface {
	GetContext(ctx context.Context, installationID string) (*models.ConversationContext, error)
	UpsertContext(ctx context.Context, c *models.ConversationContext) error
	ClearContext(ctx context.Context, installationID string) error
}

// AuditStore appends per-turn chat records.
type AuditStore interface {
	AppendChatLog(ctx context.Context, log *models.ChatAuditLog) error
}

// InstallationStore registers client devices and resolves access tokens.
type InstallationStore interface {
	CreateInstallation(ctx context.Context, inst *models.Installation) error
	FindInstallationByToken(ctx context.Context, token string) (*models.Installation, error)
}

// Store is the full persistence surface.
type Store interface {
	TaskStore
	ReminderStore
	ContextStore
	AuditStore
	InstallationStore
}

// ContextOverride routes conversation-context operations to a dedicated
// backend while delegating everything else to the base store. It lets
// short-lived contexts live in Redis while durable records stay in Postgres.
type ContextOverride struct {
	Store
	Contexts ContextStore
}

func (o *ContextOverride) GetContext(ctx context.Context, installationID string) (*models.ConversationContext, error) {
	return o.Contexts.GetContext(ctx, installationID)
}

func (o *ContextOverride) UpsertContext(ctx context.Context, c *models.ConversationContext) error {
	return o.Contexts.UpsertContext(ctx, c)
}

func (o *ContextOverride) ClearContext(ctx context.Context, installationID string) error {
	return o.Contexts.ClearContext(ctx, installationID)
}
