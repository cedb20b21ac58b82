package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

// Memory is a mutex-guarded in-memory Store. It is constructed and injected
// explicitly; there is no package-level instance.
type Memory struct {
	mu            sync.RWMutex
	tasks         map[string]models.Task
	reminders     map[string]models.Reminder
	contexts      map[string]models.ConversationContext
	installations map[string]models.Installation
	byToken       map[string]string
	audits        []models.ChatAuditLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:         make(map[string]models.Task),
		reminders:     make(map[string]models.Reminder),
		contexts:      make(map[string]models.ConversationContext),
		installations: make(map[string]models.Installation),
		byToken:       make(map[string]string),
	}
}

func (m *Memory) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *Memory) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	m.tasks[task.ID] = *task
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (m *Memory) ListTasks(_ context.Context, installationID string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, task := range m.tasks {
		if task.InstallationID == installationID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		// Stable order for records updated in the same instant.
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (m *Memory) ListActiveScheduledTasks(_ context.Context, installationID string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Task
	for _, task := range m.tasks {
		if task.InstallationID == installationID &&
			task.Kind == models.KindTask &&
			task.Status == models.StatusActive &&
			task.DueState == models.DueScheduled {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].DueAt, out[j].DueAt
		if ti == nil || tj == nil {
			return tj == nil && ti != nil
		}
		if !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return strings.Compare(out[i].ID, out[j].ID) < 0
	})
	return out, nil
}

func (m *Memory) CreateReminder(_ context.Context, reminder *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[reminder.ID] = *reminder
	return nil
}

func (m *Memory) UpdateReminder(_ context.Context, reminder *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[reminder.ID]; !ok {
		return ErrNotFound
	}
	m.reminders[reminder.ID] = *reminder
	return nil
}

func (m *Memory) GetReminder(_ context.Context, id string) (*models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reminder, ok := m.reminders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &reminder, nil
}

func (m *Memory) ListRemindersByTask(_ context.Context, taskID string) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reminder
	for _, reminder := range m.reminders {
		if reminder.TaskID == taskID {
			out = append(out, reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotifyAt.Before(out[j].NotifyAt) })
	return out, nil
}

func (m *Memory) ListUpcomingReminders(_ context.Context, installationID string) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	taskIDs := make(map[string]bool)
	for _, task := range m.tasks {
		if task.InstallationID == installationID {
			taskIDs[task.ID] = true
		}
	}
	var out []models.Reminder
	for _, reminder := range m.reminders {
		if taskIDs[reminder.TaskID] && reminder.Status == models.ReminderActive {
			out = append(out, reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotifyAt.Before(out[j].NotifyAt) })
	return out, nil
}

func (m *Memory) ListDueReminders(_ context.Context, now time.Time) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reminder
	for _, reminder := range m.reminders {
		if reminder.Status == models.ReminderActive && !reminder.NotifyAt.After(now) {
			out = append(out, reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotifyAt.Before(out[j].NotifyAt) })
	return out, nil
}

func (m *Memory) GetContext(_ context.Context, installationID string) (*models.ConversationContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[installationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) UpsertContext(_ context.Context, c *models.ConversationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.InstallationID] = *c
	return nil
}

func (m *Memory) ClearContext(_ context.Context, installationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, installationID)
	return nil
}

func (m *Memory) AppendChatLog(_ context.Context, log *models.ChatAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *log)
	return nil
}

// ChatLogs returns a copy of appended audit records, oldest first.
func (m *Memory) ChatLogs() []models.ChatAuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ChatAuditLog, len(m.audits))
	copy(out, m.audits)
	return out
}

func (m *Memory) CreateInstallation(_ context.Context, inst *models.Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installations[inst.ID] = *inst
	m.byToken[inst.AccessToken] = inst.ID
	return nil
}

func (m *Memory) FindInstallationByToken(_ context.Context, token string) (*models.Installation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	inst := m.installations[id]
	return &inst, nil
}
