// Package httpapi exposes the chat engine and stores over HTTP.
// Endpoints:
//
//	POST /v1/installations/register
//	POST /v1/chat/messages
//	GET  /v1/tasks
//	POST /v1/tasks/{id}/reclassify
//	POST /v1/tasks/{id}/done
//	POST /v1/tasks/{id}/reopen
//	GET  /v1/reminders/upcoming
//	POST /v1/reminders/{id}/adjust-offset
//	GET  /healthz
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/duetime"
	"github.com/kotonoha-app/kaiwa/internal/engine"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/store"
)

const maxOffsetMinutes = 30 * 24 * 60

// Handler serves the v1 API.
type Handler struct {
	store  store.Store
	engine *engine.Engine
	logger *zap.Logger
}

// New constructs a handler.
func New(st store.Store, eng *engine.Engine, logger *zap.Logger) *Handler {
	return &Handler{store: st, engine: eng, logger: logger}
}

// RegisterRoutes registers all endpoints on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/installations/register", h.handleRegister)
	mux.HandleFunc("POST /v1/chat/messages", h.authed(h.handleChatMessage))
	mux.HandleFunc("GET /v1/tasks", h.authed(h.handleListTasks))
	mux.HandleFunc("POST /v1/tasks/{id}/reclassify", h.authed(h.handleReclassifyTask))
	mux.HandleFunc("POST /v1/tasks/{id}/done", h.authed(h.handleTaskDone))
	mux.HandleFunc("POST /v1/tasks/{id}/reopen", h.authed(h.handleTaskReopen))
	mux.HandleFunc("GET /v1/reminders/upcoming", h.authed(h.handleUpcomingReminders))
	mux.HandleFunc("POST /v1/reminders/{id}/adjust-offset", h.authed(h.handleAdjustOffset))
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

type installationKey struct{}

func installationFrom(ctx context.Context) *models.Installation {
	inst, _ := ctx.Value(installationKey{}).(*models.Installation)
	return inst
}

// authed resolves the bearer token to an installation and stashes it in the
// request context.
func (h *Handler) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		inst, err := h.store.FindInstallationByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			h.logger.Error("installation lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}

		ctx := context.WithValue(r.Context(), installationKey{}, inst)
		next(w, r.WithContext(ctx))
	}
}

type registerRequest struct {
	Timezone string `json:"timezone"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	// An empty body is fine; anything else malformed is not.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "Asia/Tokyo"
	}

	now := h.engine.Now()
	inst := &models.Installation{
		ID:          uuid.NewString(),
		AccessToken: uuid.NewString(),
		Timezone:    req.Timezone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateInstallation(r.Context(), inst); err != nil {
		h.logger.Error("create installation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"installationId": inst.ID,
		"accessToken":    inst.AccessToken,
		"timezone":       inst.Timezone,
	})
}

type chatMessageRequest struct {
	Text           string `json:"text"`
	SelectedChoice string `json:"selectedChoice"`
	DefaultDueTime string `json:"defaultDueTime"`
	ResponseTone   string `json:"responseTone"`
}

func (h *Handler) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	inst := installationFrom(r.Context())

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	switch req.ResponseTone {
	case "", "polite", "friendly", "concise":
	default:
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	resp, err := h.engine.HandleMessage(r.Context(), engine.Input{
		InstallationID: inst.ID,
		Text:           req.Text,
		SelectedChoice: req.SelectedChoice,
		DefaultDueTime: req.DefaultDueTime,
		Tone:           models.ResponseTone(req.ResponseTone),
	})
	if err != nil {
		h.logger.Error("chat turn failed",
			zap.String("installation_id", inst.ID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	inst := installationFrom(r.Context())

	tasks, err := h.store.ListTasks(r.Context(), inst.ID)
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks})
}

type reclassifyRequest struct {
	Kind         string  `json:"kind"`
	MemoCategory *string `json:"memoCategory"`
}

func (h *Handler) handleReclassifyTask(w http.ResponseWriter, r *http.Request) {
	inst := installationFrom(r.Context())

	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Kind != "task" && req.Kind != "memo" {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.MemoCategory != nil {
		switch *req.MemoCategory {
		case "want", "idea", "misc":
		default:
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
	}

	task, ok := h.ownedTask(w, r, inst)
	if !ok {
		return
	}

	now := h.engine.Now()
	task.Kind = models.TaskKind(req.Kind)
	if req.Kind == "memo" {
		task.MemoCategory = models.CategoryMisc
		if req.MemoCategory != nil {
			task.MemoCategory = models.MemoCategory(*req.MemoCategory)
		}
		task.DueState = models.DueNone
		task.DueAt = nil
	} else {
		task.MemoCategory = ""
	}
	task.UpdatedAt = now

	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		h.logger.Error("reclassify task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	// A task that regains a due time needs its reminders rebased.
	if task.Kind == models.KindTask && task.DueAt != nil {
		if err := h.rebaseReminders(r.Context(), task); err != nil {
			h.logger.Error("rebase reminders failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) rebaseReminders(ctx context.Context, task *models.Task) error {
	reminders, err := h.store.ListRemindersByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	now := h.engine.Now()

	if len(reminders) == 0 {
		return h.store.CreateReminder(ctx, &models.Reminder{
			ID:            uuid.NewString(),
			TaskID:        task.ID,
			BaseTime:      *task.DueAt,
			OffsetMinutes: 0,
			NotifyAt:      *task.DueAt,
			Status:        models.ReminderActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	for i := range reminders {
		reminder := reminders[i]
		reminder.BaseTime = *task.DueAt
		reminder.NotifyAt = duetime.ApplyOffset(*task.DueAt, reminder.OffsetMinutes)
		reminder.UpdatedAt = now
		if err := h.store.UpdateReminder(ctx, &reminder); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleTaskDone(w http.ResponseWriter, r *http.Request) {
	h.setTaskStatus(w, r, models.StatusDone)
}

func (h *Handler) handleTaskReopen(w http.ResponseWriter, r *http.Request) {
	h.setTaskStatus(w, r, models.StatusActive)
}

func (h *Handler) setTaskStatus(w http.ResponseWriter, r *http.Request, status models.TaskStatus) {
	inst := installationFrom(r.Context())

	task, ok := h.ownedTask(w, r, inst)
	if !ok {
		return
	}

	task.Status = status
	task.UpdatedAt = h.engine.Now()
	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		h.logger.Error("update task status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ownedTask loads the path task and enforces installation ownership,
// writing the error response itself when the task is unavailable.
func (h *Handler) ownedTask(w http.ResponseWriter, r *http.Request, inst *models.Installation) (*models.Task, bool) {
	taskID := r.PathValue("id")
	task, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return nil, false
		}
		h.logger.Error("get task failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return nil, false
	}
	if task.InstallationID != inst.ID {
		writeError(w, http.StatusNotFound, "Task not found")
		return nil, false
	}
	return task, true
}

func (h *Handler) handleUpcomingReminders(w http.ResponseWriter, r *http.Request) {
	inst := installationFrom(r.Context())

	reminders, err := h.store.ListUpcomingReminders(r.Context(), inst.ID)
	if err != nil {
		h.logger.Error("list upcoming reminders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reminders})
}

type adjustOffsetRequest struct {
	OffsetMinutes *int `json:"offsetMinutes"`
}

func (h *Handler) handleAdjustOffset(w http.ResponseWriter, r *http.Request) {
	inst := installationFrom(r.Context())

	var req adjustOffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.OffsetMinutes == nil || *req.OffsetMinutes < 0 || *req.OffsetMinutes > maxOffsetMinutes {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	reminderID := r.PathValue("id")
	reminder, err := h.store.GetReminder(r.Context(), reminderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Reminder not found")
			return
		}
		h.logger.Error("get reminder failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	task, err := h.store.GetTask(r.Context(), reminder.TaskID)
	if err != nil || task.InstallationID != inst.ID || task.DueAt == nil {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Error("get reminder task failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal error")
			return
		}
		writeError(w, http.StatusNotFound, "Reminder not found")
		return
	}

	reminder.OffsetMinutes = *req.OffsetMinutes
	reminder.NotifyAt = duetime.ApplyOffset(*task.DueAt, *req.OffsetMinutes)
	reminder.UpdatedAt = h.engine.Now()
	if err := h.store.UpdateReminder(r.Context(), reminder); err != nil {
		h.logger.Error("update reminder failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
