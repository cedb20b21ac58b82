// Package postgres implements the store contracts on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/store"
)

// Config holds database connection settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Store is a PostgreSQL-backed implementation of store.Store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New opens a connection pool and verifies connectivity.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("connected to postgres",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection, used by tests with sqlmock.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type taskRow struct {
	ID                    string         `db:"id"`
	InstallationID        string         `db:"installation_id"`
	Title                 string         `db:"title"`
	Kind                  string         `db:"kind"`
	MemoCategory          sql.NullString `db:"memo_category"`
	DueState              string         `db:"due_state"`
	DueAt                 sql.NullTime   `db:"due_at"`
	DefaultDueTimeApplied bool           `db:"default_due_time_applied"`
	Status                string         `db:"status"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r taskRow) toModel() models.Task {
	task := models.Task{
		ID:                    r.ID,
		InstallationID:        r.InstallationID,
		Title:                 r.Title,
		Kind:                  models.TaskKind(r.Kind),
		DueState:              models.DueState(r.DueState),
		DefaultDueTimeApplied: r.DefaultDueTimeApplied,
		Status:                models.TaskStatus(r.Status),
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if r.MemoCategory.Valid {
		task.MemoCategory = models.MemoCategory(r.MemoCategory.String)
	}
	if r.DueAt.Valid {
		t := r.DueAt.Time
		task.DueAt = &t
	}
	return task
}

func nullCategory(c models.MemoCategory) sql.NullString {
	if c == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(c), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, installation_id, title, kind, memo_category, due_state, due_at,
		                    default_due_time_applied, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.InstallationID, task.Title, task.Kind, nullCategory(task.MemoCategory),
		task.DueState, nullTime(task.DueAt), task.DefaultDueTimeApplied, task.Status,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = $2, kind = $3, memo_category = $4, due_state = $5, due_at = $6,
		        default_due_time_applied = $7, status = $8, updated_at = $9
		 WHERE id = $1`,
		task.ID, task.Title, task.Kind, nullCategory(task.MemoCategory), task.DueState,
		nullTime(task.DueAt), task.DefaultDueTimeApplied, task.Status, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, installation_id, title, kind, memo_category, due_state, due_at,
		        default_due_time_applied, status, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	task := row.toModel()
	return &task, nil
}

func (s *Store) ListTasks(ctx context.Context, installationID string) ([]models.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, installation_id, title, kind, memo_category, due_state, due_at,
		        default_due_time_applied, status, created_at, updated_at
		 FROM tasks WHERE installation_id = $1
		 ORDER BY updated_at DESC, id`, installationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) ListActiveScheduledTasks(ctx context.Context, installationID string) ([]models.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, installation_id, title, kind, memo_category, due_state, due_at,
		        default_due_time_applied, status, created_at, updated_at
		 FROM tasks
		 WHERE installation_id = $1 AND kind = 'task' AND status = 'active' AND due_state = 'scheduled'
		 ORDER BY due_at, id`, installationID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	out := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) CreateReminder(ctx context.Context, reminder *models.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, task_id, base_time, offset_minutes, notify_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reminder.ID, reminder.TaskID, reminder.BaseTime, reminder.OffsetMinutes,
		reminder.NotifyAt, reminder.Status, reminder.CreatedAt, reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *Store) UpdateReminder(ctx context.Context, reminder *models.Reminder) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET base_time = $2, offset_minutes = $3, notify_at = $4, status = $5, updated_at = $6
		 WHERE id = $1`,
		reminder.ID, reminder.BaseTime, reminder.OffsetMinutes, reminder.NotifyAt,
		reminder.Status, reminder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetReminder(ctx context.Context, id string) (*models.Reminder, error) {
	var reminder models.Reminder
	err := s.db.GetContext(ctx, &reminder,
		`SELECT id, task_id, base_time, offset_minutes, notify_at, status, created_at, updated_at
		 FROM reminders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return &reminder, nil
}

func (s *Store) ListRemindersByTask(ctx context.Context, taskID string) ([]models.Reminder, error) {
	var out []models.Reminder
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, task_id, base_time, offset_minutes, notify_at, status, created_at, updated_at
		 FROM reminders WHERE task_id = $1 ORDER BY notify_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return out, nil
}

func (s *Store) ListUpcomingReminders(ctx context.Context, installationID string) ([]models.Reminder, error) {
	var out []models.Reminder
	err := s.db.SelectContext(ctx, &out,
		`SELECT r.id, r.task_id, r.base_time, r.offset_minutes, r.notify_at, r.status, r.created_at, r.updated_at
		 FROM reminders r JOIN tasks t ON t.id = r.task_id
		 WHERE t.installation_id = $1 AND r.status = 'active'
		 ORDER BY r.notify_at, r.id`, installationID)
	if err != nil {
		return nil, fmt.Errorf("list upcoming reminders: %w", err)
	}
	return out, nil
}

func (s *Store) ListDueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	var out []models.Reminder
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, task_id, base_time, offset_minutes, notify_at, status, created_at, updated_at
		 FROM reminders WHERE status = 'active' AND notify_at <= $1
		 ORDER BY notify_at, id`, now)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return out, nil
}

type contextRow struct {
	InstallationID        string         `db:"installation_id"`
	PendingType           string         `db:"pending_type"`
	CandidateTaskIDs      pq.StringArray `db:"candidate_task_ids"`
	ProposedDueAt         sql.NullTime   `db:"proposed_due_at"`
	ProposedOffsetMinutes sql.NullInt64  `db:"proposed_offset_minutes"`
	ExpiresAt             time.Time      `db:"expires_at"`
	Payload               []byte         `db:"payload"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (s *Store) GetContext(ctx context.Context, installationID string) (*models.ConversationContext, error) {
	var row contextRow
	err := s.db.GetContext(ctx, &row,
		`SELECT installation_id, pending_type, candidate_task_ids, proposed_due_at,
		        proposed_offset_minutes, expires_at, payload, updated_at
		 FROM conversation_contexts WHERE installation_id = $1`, installationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}

	c := &models.ConversationContext{
		InstallationID:   row.InstallationID,
		PendingType:      models.PendingType(row.PendingType),
		CandidateTaskIDs: row.CandidateTaskIDs,
		ExpiresAt:        row.ExpiresAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if row.ProposedDueAt.Valid {
		t := row.ProposedDueAt.Time
		c.ProposedDueAt = &t
	}
	if row.ProposedOffsetMinutes.Valid {
		n := int(row.ProposedOffsetMinutes.Int64)
		c.ProposedOffsetMinutes = &n
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &c.Payload); err != nil {
			return nil, fmt.Errorf("decode context payload: %w", err)
		}
	}
	return c, nil
}

func (s *Store) UpsertContext(ctx context.Context, c *models.ConversationContext) error {
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return fmt.Errorf("encode context payload: %w", err)
	}
	var offset sql.NullInt64
	if c.ProposedOffsetMinutes != nil {
		offset = sql.NullInt64{Int64: int64(*c.ProposedOffsetMinutes), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_contexts
		   (installation_id, pending_type, candidate_task_ids, proposed_due_at,
		    proposed_offset_minutes, expires_at, payload, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (installation_id) DO UPDATE SET
		   pending_type = EXCLUDED.pending_type,
		   candidate_task_ids = EXCLUDED.candidate_task_ids,
		   proposed_due_at = EXCLUDED.proposed_due_at,
		   proposed_offset_minutes = EXCLUDED.proposed_offset_minutes,
		   expires_at = EXCLUDED.expires_at,
		   payload = EXCLUDED.payload,
		   updated_at = EXCLUDED.updated_at`,
		c.InstallationID, c.PendingType, pq.StringArray(c.CandidateTaskIDs),
		nullTime(c.ProposedDueAt), offset, c.ExpiresAt, payload, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

func (s *Store) ClearContext(ctx context.Context, installationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_contexts WHERE installation_id = $1`, installationID); err != nil {
		return fmt.Errorf("clear context: %w", err)
	}
	return nil
}

func (s *Store) AppendChatLog(ctx context.Context, log *models.ChatAuditLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_audit_logs (id, installation_id, user_text, assistant_text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		log.ID, log.InstallationID, log.UserText, log.AssistantText, log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append chat log: %w", err)
	}
	return nil
}

func (s *Store) CreateInstallation(ctx context.Context, inst *models.Installation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO installations (id, access_token, timezone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		inst.ID, inst.AccessToken, inst.Timezone, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert installation: %w", err)
	}
	return nil
}

func (s *Store) FindInstallationByToken(ctx context.Context, token string) (*models.Installation, error) {
	var inst models.Installation
	err := s.db.GetContext(ctx, &inst,
		`SELECT id, access_token, timezone, created_at, updated_at
		 FROM installations WHERE access_token = $1`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find installation: %w", err)
	}
	return &inst, nil
}
