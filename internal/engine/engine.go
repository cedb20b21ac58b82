// Package engine implements the conversational decision engine: it
// classifies each utterance, resolves due expressions, drives the
// multi-turn confirmation state machine, and persists the outcome.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/ai"
	"github.com/kotonoha-app/kaiwa/internal/classify"
	"github.com/kotonoha-app/kaiwa/internal/duetime"
	"github.com/kotonoha-app/kaiwa/internal/metrics"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/store"
	"github.com/kotonoha-app/kaiwa/internal/summary"
	"github.com/kotonoha-app/kaiwa/internal/templates"
)

// contextTTL is how long a pending confirmation stays answerable.
const contextTTL = 30 * time.Minute

var memoCategoryChoices = []string{"やりたいこと", "アイデア", "メモ（雑多）"}
var dueChoiceChoices = []string{"設定する", "設定しない", "後で設定する"}
var circleCrossChoices = []string{"○", "✕"}
var taskOrMemoChoices = []string{"タスク", "メモ"}

// DueParseMode controls how rule and AI due parsing are combined.
type DueParseMode string

const (
	ModeAIFirst   DueParseMode = "ai-first"
	ModeRuleFirst DueParseMode = "rule-first"
	ModeRuleOnly  DueParseMode = "rule-only"
)

// Options configures an Engine. Store and Logger are required; the AI
// providers may be nil, in which case the deterministic paths carry alone.
type Options struct {
	Store          store.Store
	Classifier     ai.Classifier
	DueParser      ai.DueParser
	Summarizer     ai.Summarizer
	DueParseMode   DueParseMode
	DefaultDueTime string
	Tone           models.ResponseTone
	Location       *time.Location
	Logger         *zap.Logger

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Engine handles one chat turn at a time per installation.
type Engine struct {
	store          store.Store
	classifier     ai.Classifier
	dueParser      ai.DueParser
	summarizer     ai.Summarizer
	dueParseMode   DueParseMode
	defaultDueTime string
	tone           models.ResponseTone
	loc            *time.Location
	logger         *zap.Logger
	now            func() time.Time
	newID          func() string
}

// New builds an Engine, applying defaults for unset options.
func New(opts Options) *Engine {
	if opts.DueParseMode == "" {
		opts.DueParseMode = ModeRuleFirst
	}
	if opts.DefaultDueTime == "" {
		opts.DefaultDueTime = "09:00"
	}
	if opts.Tone == "" {
		opts.Tone = models.TonePolite
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	loc := opts.Location
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().In(loc) }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		store:          opts.Store,
		classifier:     opts.Classifier,
		dueParser:      opts.DueParser,
		summarizer:     opts.Summarizer,
		dueParseMode:   opts.DueParseMode,
		defaultDueTime: opts.DefaultDueTime,
		tone:           opts.Tone,
		loc:            opts.Location,
		logger:         opts.Logger,
		now:            opts.Now,
		newID:          opts.NewID,
	}
}

// Now returns the engine's current time in its configured location.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Input is one user turn. SelectedChoice takes priority over Text.
type Input struct {
	InstallationID string
	Text           string
	SelectedChoice string
	DefaultDueTime string
	Tone           models.ResponseTone
}

func (in Input) userInput() string {
	if s := strings.TrimSpace(in.SelectedChoice); s != "" {
		return s
	}
	return strings.TrimSpace(in.Text)
}

func (e *Engine) resolveTone(in Input) models.ResponseTone {
	if in.Tone != "" {
		return in.Tone
	}
	return e.tone
}

func (e *Engine) resolveDefaultDueTime(in Input) string {
	if in.DefaultDueTime != "" {
		return in.DefaultDueTime
	}
	return e.defaultDueTime
}

func (e *Engine) messageSeed(installationID, messageKey, summarySlot string, choices []string) string {
	return strings.Join([]string{installationID, messageKey, summarySlot, strings.Join(choices, "|")}, "::")
}

func (e *Engine) opts(tone models.ResponseTone, seed string) templates.Opts {
	return templates.Opts{Tone: tone, Seed: seed}
}

// HandleMessage processes one turn and returns the response to render.
// Store failures surface as errors; AI provider failures never do.
func (e *Engine) HandleMessage(ctx context.Context, in Input) (*models.ChatMessageResponse, error) {
	started := e.now()
	tone := e.resolveTone(in)
	userInput := in.userInput()

	if userInput == "" {
		resp := e.withUiMeta(&models.ChatMessageResponse{
			AssistantText:   templates.EmptyInput(e.opts(tone, e.messageSeed(in.InstallationID, "empty_input", "", nil))),
			SummarySlot:     "",
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		})
		metrics.TurnsProcessed.WithLabelValues(string(resp.ActionType)).Inc()
		return resp, nil
	}

	convCtx, err := e.store.GetContext(ctx, in.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	if convCtx.Expired(e.now()) {
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear expired context: %w", err)
		}
		metrics.ContextsExpired.Inc()
		convCtx = nil
	}

	var resp *models.ChatMessageResponse
	if convCtx != nil && convCtx.PendingType != "" {
		resp, err = e.handlePending(ctx, convCtx, userInput, in, tone)
	} else {
		resp, err = e.handleFresh(ctx, userInput, in, tone)
	}
	if err != nil {
		return nil, err
	}
	resp = e.withUiMeta(resp)

	e.appendAudit(ctx, in.InstallationID, userInput, resp.AssistantText)
	metrics.TurnsProcessed.WithLabelValues(string(resp.ActionType)).Inc()
	metrics.TurnDuration.Observe(e.now().Sub(started).Seconds())
	return resp, nil
}

// appendAudit is best effort: losing a log line must not fail a turn whose
// state changes are already committed.
func (e *Engine) appendAudit(ctx context.Context, installationID, userText, assistantText string) {
	log := &models.ChatAuditLog{
		ID:             e.newID(),
		InstallationID: installationID,
		UserText:       userText,
		AssistantText:  assistantText,
		CreatedAt:      e.now(),
	}
	if err := e.store.AppendChatLog(ctx, log); err != nil {
		e.logger.Warn("append chat audit log failed",
			zap.String("installation_id", installationID),
			zap.Error(err),
		)
	}
}

func (e *Engine) handleFresh(ctx context.Context, userText string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	if isReclassifyCommand(userText) {
		return e.handleReclassify(ctx, userText, in.InstallationID, tone)
	}

	if parsedOffset := duetime.ParseOffsetText(userText); parsedOffset != nil && strings.Contains(userText, "リマインド") {
		return e.handleOffsetRequest(ctx, userText, in.InstallationID, parsedOffset.OffsetMinutes, tone)
	}

	classification := e.resolveClassification(ctx, userText)

	if classification.Kind == models.ClassAmbiguous {
		sum := e.safeSummary(ctx, userText, "confirm", nil)
		if err := e.setContext(ctx, &models.ConversationContext{
			InstallationID:   in.InstallationID,
			PendingType:      models.PendingTaskOrMemoConfirm,
			CandidateTaskIDs: []string{},
			Payload:          models.ContextPayload{OriginalText: userText},
		}); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ConfirmTaskOrMemo(sum,
				e.opts(tone, e.messageSeed(in.InstallationID, "confirm_task_or_memo", sum, taskOrMemoChoices))),
			SummarySlot:     sum,
			ActionType:      models.ActionConfirm,
			QuickChoices:    taskOrMemoChoices,
			AffectedTaskIDs: []string{},
		}, nil
	}

	if classification.Kind == models.ClassMemo {
		category := classification.MemoCategory
		if category == "" {
			category = classify.DetectMemoCategory(userText)
		}
		sum := e.safeSummary(ctx, userText, "memo", nil)
		task, err := e.createTask(ctx, taskSpec{
			installationID: in.InstallationID,
			title:          sum,
			kind:           models.KindMemo,
			memoCategory:   category,
			dueState:       models.DueNone,
		})
		if err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.MemoCategorySaved(sum, templates.MemoCategoryLabel(category),
				e.opts(tone, e.messageSeed(in.InstallationID, "memo_category_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil
	}

	return e.handleTaskCreation(ctx, userText, in, tone)
}

func (e *Engine) handleTaskCreation(ctx context.Context, originalText string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	resolution := e.resolveDue(ctx, originalText, e.resolveDefaultDueTime(in))
	parsedDue := resolution.parsedDue

	var dueAt *time.Time
	if parsedDue != nil {
		dueAt = &parsedDue.DueAt
	}
	sum := e.safeTaskSummary(ctx, originalText, dueAt)

	if parsedDue == nil {
		if err := e.setContext(ctx, &models.ConversationContext{
			InstallationID:   in.InstallationID,
			PendingType:      models.PendingDueChoice,
			CandidateTaskIDs: []string{},
			Payload:          models.ContextPayload{OriginalText: originalText, Summary: sum, Step: "choice"},
		}); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ConfirmDueChoice(sum,
				e.opts(tone, e.messageSeed(in.InstallationID, "confirm_due_choice", sum, dueChoiceChoices))),
			SummarySlot:     sum,
			ActionType:      models.ActionConfirm,
			QuickChoices:    dueChoiceChoices,
			AffectedTaskIDs: []string{},
		}, nil
	}

	if duetime.IsPast(parsedDue.DueAt, e.now()) {
		return &models.ChatMessageResponse{
			AssistantText: templates.PastDueNotAllowed(
				e.opts(tone, e.messageSeed(in.InstallationID, "past_due_not_allowed", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}

	if parsedDue.DateOnly {
		due := parsedDue.DueAt
		if err := e.setContext(ctx, &models.ConversationContext{
			InstallationID:   in.InstallationID,
			PendingType:      models.PendingDueTimeConfirm,
			CandidateTaskIDs: []string{},
			ProposedDueAt:    &due,
			Payload: models.ContextPayload{
				OriginalText: originalText,
				Summary:      sum,
				Step:         "confirm_default_time",
				DateLabel:    parsedDue.DateLabel,
			},
		}); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ConfirmDateOnlyTime(parsedDue.DateLabel,
				e.opts(tone, e.messageSeed(in.InstallationID, "confirm_date_only_time", sum, circleCrossChoices))),
			SummarySlot:     sum,
			ActionType:      models.ActionConfirm,
			QuickChoices:    circleCrossChoices,
			AffectedTaskIDs: []string{},
		}, nil
	}

	due := parsedDue.DueAt
	task, err := e.createTask(ctx, taskSpec{
		installationID: in.InstallationID,
		title:          sum,
		kind:           models.KindTask,
		dueState:       models.DueScheduled,
		dueAt:          &due,
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.createReminder(ctx, task, due, 0); err != nil {
		return nil, err
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.TaskSaved(sum,
			templates.DetailRemindAt(parsedDue.DateLabel,
				e.opts(tone, e.messageSeed(in.InstallationID, "detail_remind_at", sum, nil))),
			e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
		SummarySlot:     sum,
		ActionType:      models.ActionSaved,
		QuickChoices:    []string{},
		AffectedTaskIDs: []string{task.ID},
	}, nil
}

func (e *Engine) handlePending(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	switch convCtx.PendingType {
	case models.PendingTaskOrMemoConfirm:
		return e.handlePendingTaskOrMemo(ctx, convCtx, userInput, in, tone)
	case models.PendingDueChoice:
		return e.handlePendingDueChoice(ctx, convCtx, userInput, in, tone)
	case models.PendingDueTimeConfirm:
		return e.handlePendingDueTime(ctx, convCtx, userInput, in, tone)
	case models.PendingTaskTargetConfirm:
		return e.handlePendingTaskTarget(ctx, convCtx, userInput, in, tone)
	case models.PendingMemoCategory:
		return e.handlePendingMemoCategory(ctx, convCtx, userInput, in, tone)
	default:
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear invalid context: %w", err)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.InvalidContext(
				e.opts(tone, e.messageSeed(in.InstallationID, "invalid_context", "", nil))),
			SummarySlot:     summary.FallbackSummarySlot(userInput),
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}
}

func (e *Engine) handlePendingTaskOrMemo(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	originalText := convCtx.Payload.OriginalText
	if originalText == "" {
		originalText = userInput
	}
	sum := convCtx.Payload.Summary
	if sum == "" {
		sum = e.safeSummary(ctx, originalText, "memo", nil)
	}

	if strings.Contains(userInput, "タスク") {
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		return e.handleTaskCreation(ctx, originalText, in, tone)
	}

	if strings.Contains(userInput, "メモ") {
		suggested := e.suggestMemoCategoryForExplicitMemo(ctx, originalText)
		if err := e.setContext(ctx, &models.ConversationContext{
			InstallationID:   in.InstallationID,
			PendingType:      models.PendingMemoCategory,
			CandidateTaskIDs: []string{},
			Payload: models.ContextPayload{
				OriginalText:      originalText,
				Summary:           sum,
				SuggestedCategory: suggested,
			},
		}); err != nil {
			return nil, err
		}
		suggestedLabel := ""
		if suggested != "" {
			suggestedLabel = templates.MemoCategoryLabel(suggested)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ChooseMemoCategory(suggestedLabel,
				e.opts(tone, e.messageSeed(in.InstallationID, "choose_memo_category", sum, memoCategoryChoices))),
			SummarySlot:     sum,
			ActionType:      models.ActionConfirm,
			QuickChoices:    memoCategoryChoices,
			AffectedTaskIDs: []string{},
		}, nil
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ChooseTaskOrMemo(
			e.opts(tone, e.messageSeed(in.InstallationID, "choose_task_or_memo", sum, taskOrMemoChoices))),
		SummarySlot:     sum,
		ActionType:      models.ActionConfirm,
		QuickChoices:    taskOrMemoChoices,
		AffectedTaskIDs: []string{},
	}, nil
}

func parseMemoCategoryChoice(choice string) models.MemoCategory {
	normalized := strings.TrimSpace(choice)
	lower := strings.ToLower(normalized)
	switch {
	case normalized == "やりたいこと" || lower == "want":
		return models.CategoryWant
	case normalized == "アイデア" || lower == "idea":
		return models.CategoryIdea
	case normalized == "メモ（雑多）" || normalized == "メモ" || lower == "misc":
		return models.CategoryMisc
	}
	return ""
}

func (e *Engine) handlePendingMemoCategory(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	originalText := convCtx.Payload.OriginalText
	sum := convCtx.Payload.Summary
	if sum == "" {
		sum = e.safeSummary(ctx, originalText, "memo", nil)
	}

	category := parseMemoCategoryChoice(userInput)
	if category == "" {
		suggestedLabel := ""
		if convCtx.Payload.SuggestedCategory != "" {
			suggestedLabel = templates.MemoCategoryLabel(convCtx.Payload.SuggestedCategory)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ChooseMemoCategory(suggestedLabel,
				e.opts(tone, e.messageSeed(in.InstallationID, "choose_memo_category", sum, memoCategoryChoices))),
			SummarySlot:     sum,
			ActionType:      models.ActionConfirm,
			QuickChoices:    memoCategoryChoices,
			AffectedTaskIDs: []string{},
		}, nil
	}

	if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
		return nil, fmt.Errorf("clear context: %w", err)
	}
	task, err := e.createTask(ctx, taskSpec{
		installationID: in.InstallationID,
		title:          sum,
		kind:           models.KindMemo,
		memoCategory:   category,
		dueState:       models.DueNone,
	})
	if err != nil {
		return nil, err
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.MemoSaved(sum,
			templates.MemoCategoryLabel(category)+"として保存しました。",
			e.opts(tone, e.messageSeed(in.InstallationID, "memo_saved", sum, nil))),
		SummarySlot:     sum,
		ActionType:      models.ActionSaved,
		QuickChoices:    []string{},
		AffectedTaskIDs: []string{task.ID},
	}, nil
}

// suggestMemoCategoryForExplicitMemo favors the deterministic detector and
// only consults the classifier when the detector has no opinion.
func (e *Engine) suggestMemoCategoryForExplicitMemo(ctx context.Context, text string) models.MemoCategory {
	deterministic := classify.DetectMemoCategory(text)
	if deterministic != models.CategoryMisc {
		return deterministic
	}
	if e.classifier == nil {
		return ""
	}

	aiResult, err := e.classifier.Classify(ctx, text, ai.ClassificationFacts{
		RuleKind:       models.ClassMemo,
		RuleReason:     "explicit_memo_choice",
		RuleConfidence: 0.6,
	})
	if err != nil || aiResult == nil {
		if err != nil {
			metrics.AIFallbacks.WithLabelValues("classify").Inc()
		}
		return ""
	}
	if aiResult.Kind == models.ClassMemo && aiResult.MemoCategory != "" &&
		aiResult.MemoCategory != models.CategoryMisc && aiResult.Confidence >= 0.65 {
		return aiResult.MemoCategory
	}
	return ""
}

func (e *Engine) handlePendingDueChoice(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	originalText := convCtx.Payload.OriginalText
	if originalText == "" {
		originalText = userInput
	}
	sum := convCtx.Payload.Summary
	if sum == "" {
		sum = summary.FallbackSummarySlot(originalText)
	}
	step := convCtx.Payload.Step
	if step == "" {
		step = "choice"
	}

	if step == "await_due_text" {
		resolution := e.resolveDue(ctx, userInput, e.resolveDefaultDueTime(in))
		parsedDue := resolution.parsedDue
		if resolution.forceConfirmation || parsedDue == nil || duetime.IsPast(parsedDue.DueAt, e.now()) {
			return &models.ChatMessageResponse{
				AssistantText: templates.DueParseFailed(
					e.opts(tone, e.messageSeed(in.InstallationID, "due_parse_failed", sum, nil))),
				SummarySlot:     sum,
				ActionType:      models.ActionConfirm,
				QuickChoices:    []string{},
				AffectedTaskIDs: []string{},
			}, nil
		}

		if parsedDue.DateOnly {
			due := parsedDue.DueAt
			next := *convCtx
			next.PendingType = models.PendingDueTimeConfirm
			next.ProposedDueAt = &due
			next.Payload = models.ContextPayload{
				OriginalText: originalText,
				Summary:      sum,
				Step:         "confirm_default_time",
				DateLabel:    parsedDue.DateLabel,
			}
			if err := e.setContext(ctx, &next); err != nil {
				return nil, err
			}
			return &models.ChatMessageResponse{
				AssistantText: templates.ConfirmDateOnlyTime(parsedDue.DateLabel,
					e.opts(tone, e.messageSeed(in.InstallationID, "confirm_date_only_time", sum, circleCrossChoices))),
				SummarySlot:      sum,
				ActionType:       models.ActionConfirm,
				ConfirmationType: models.PendingDueTimeConfirm,
				QuickChoices:     circleCrossChoices,
				AffectedTaskIDs:  []string{},
			}, nil
		}

		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		due := parsedDue.DueAt
		task, err := e.createTask(ctx, taskSpec{
			installationID: in.InstallationID,
			title:          sum,
			kind:           models.KindTask,
			dueState:       models.DueScheduled,
			dueAt:          &due,
		})
		if err != nil {
			return nil, err
		}
		if _, err := e.createReminder(ctx, task, due, 0); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.TaskSaved(sum,
				templates.DetailRemindAt(parsedDue.DateLabel,
					e.opts(tone, e.messageSeed(in.InstallationID, "detail_remind_at", sum, nil))),
				e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil
	}

	switch userInput {
	case "設定する":
		next := *convCtx
		next.Payload.Step = "await_due_text"
		if err := e.setContext(ctx, &next); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.AskDueInput(sum,
				e.opts(tone, e.messageSeed(in.InstallationID, "ask_due_input", sum, nil))),
			SummarySlot:      sum,
			ActionType:       models.ActionConfirm,
			ConfirmationType: models.PendingDueChoice,
			QuickChoices:     []string{},
			AffectedTaskIDs:  []string{},
		}, nil

	case "設定しない":
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		task, err := e.createTask(ctx, taskSpec{
			installationID: in.InstallationID,
			title:          sum,
			kind:           models.KindTask,
			dueState:       models.DueNone,
		})
		if err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.TaskSaved(sum,
				templates.DetailNoDue(
					e.opts(tone, e.messageSeed(in.InstallationID, "detail_no_due", sum, nil))),
				e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil

	case "後で設定する":
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		task, err := e.createTask(ctx, taskSpec{
			installationID: in.InstallationID,
			title:          sum,
			kind:           models.KindTask,
			dueState:       models.DuePending,
		})
		if err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.TaskSaved(sum,
				templates.DetailPendingDue(
					e.opts(tone, e.messageSeed(in.InstallationID, "detail_pending_due", sum, nil))),
				e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ChooseDueChoice(
			e.opts(tone, e.messageSeed(in.InstallationID, "choose_due_choice", sum, dueChoiceChoices))),
		SummarySlot:     sum,
		ActionType:      models.ActionConfirm,
		QuickChoices:    dueChoiceChoices,
		AffectedTaskIDs: []string{},
	}, nil
}

func (e *Engine) handlePendingDueTime(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	originalText := convCtx.Payload.OriginalText
	if originalText == "" {
		originalText = userInput
	}
	sum := convCtx.Payload.Summary
	if sum == "" {
		sum = summary.FallbackSummarySlot(originalText)
	}
	step := convCtx.Payload.Step
	if step == "" {
		step = "confirm_default_time"
	}

	if step == "await_custom_time" {
		resolution := e.resolveDue(ctx, originalText+" "+userInput, e.resolveDefaultDueTime(in))
		parsedDue := resolution.parsedDue
		if resolution.forceConfirmation || parsedDue == nil || !parsedDue.TimeProvided || duetime.IsPast(parsedDue.DueAt, e.now()) {
			return &models.ChatMessageResponse{
				AssistantText: templates.TimeParseFailed(
					e.opts(tone, e.messageSeed(in.InstallationID, "time_parse_failed", sum, nil))),
				SummarySlot:     sum,
				ActionType:      models.ActionConfirm,
				QuickChoices:    []string{},
				AffectedTaskIDs: []string{},
			}, nil
		}

		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		due := parsedDue.DueAt
		task, err := e.createTask(ctx, taskSpec{
			installationID: in.InstallationID,
			title:          sum,
			kind:           models.KindTask,
			dueState:       models.DueScheduled,
			dueAt:          &due,
		})
		if err != nil {
			return nil, err
		}
		if _, err := e.createReminder(ctx, task, due, 0); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.TaskSaved(sum,
				templates.DetailSetAt(parsedDue.DateLabel,
					e.opts(tone, e.messageSeed(in.InstallationID, "detail_set_at", sum, nil))),
				e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil
	}

	switch userInput {
	case "○":
		if convCtx.ProposedDueAt == nil || duetime.IsPast(*convCtx.ProposedDueAt, e.now()) {
			return &models.ChatMessageResponse{
				AssistantText: templates.InvalidProposedDue(
					e.opts(tone, e.messageSeed(in.InstallationID, "invalid_proposed_due", sum, nil))),
				SummarySlot:     sum,
				ActionType:      models.ActionError,
				QuickChoices:    []string{},
				AffectedTaskIDs: []string{},
			}, nil
		}

		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		due := *convCtx.ProposedDueAt
		task, err := e.createTask(ctx, taskSpec{
			installationID:        in.InstallationID,
			title:                 sum,
			kind:                  models.KindTask,
			dueState:              models.DueScheduled,
			dueAt:                 &due,
			defaultDueTimeApplied: true,
		})
		if err != nil {
			return nil, err
		}
		if _, err := e.createReminder(ctx, task, due, 0); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.TaskSaved(sum,
				templates.DetailAppliedSuggestedTime(
					e.opts(tone, e.messageSeed(in.InstallationID, "detail_applied_suggested_time", sum, nil))),
				e.opts(tone, e.messageSeed(in.InstallationID, "task_saved", sum, nil))),
			SummarySlot:     sum,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{task.ID},
		}, nil

	case "✕":
		next := *convCtx
		next.Payload.Step = "await_custom_time"
		if err := e.setContext(ctx, &next); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.AskCustomTime(
				e.opts(tone, e.messageSeed(in.InstallationID, "ask_custom_time", sum, nil))),
			SummarySlot:      sum,
			ActionType:       models.ActionConfirm,
			ConfirmationType: models.PendingDueTimeConfirm,
			QuickChoices:     []string{},
			AffectedTaskIDs:  []string{},
		}, nil
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ChooseCircleCross(
			e.opts(tone, e.messageSeed(in.InstallationID, "choose_circle_cross", sum, circleCrossChoices))),
		SummarySlot:      sum,
		ActionType:       models.ActionConfirm,
		ConfirmationType: models.PendingDueTimeConfirm,
		QuickChoices:     circleCrossChoices,
		AffectedTaskIDs:  []string{},
	}, nil
}

func (e *Engine) handlePendingTaskTarget(ctx context.Context, convCtx *models.ConversationContext, userInput string, in Input, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	offsetMinutes := 0
	if convCtx.ProposedOffsetMinutes != nil {
		offsetMinutes = *convCtx.ProposedOffsetMinutes
	}
	step := convCtx.Payload.Step
	if step == "" {
		step = "confirm"
	}
	index := convCtx.Payload.CandidateIndex

	if step == "await_target_text" {
		tasks, err := e.store.ListActiveScheduledTasks(ctx, in.InstallationID)
		if err != nil {
			return nil, fmt.Errorf("list scheduled tasks: %w", err)
		}
		var candidates []models.Task
		for _, task := range tasks {
			if strings.Contains(task.Title, userInput) {
				candidates = append(candidates, task)
			}
		}

		if len(candidates) == 1 {
			if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
				return nil, fmt.Errorf("clear context: %w", err)
			}
			return e.applyOffsetToTask(ctx, &candidates[0], offsetMinutes, tone)
		}
		if len(candidates) > 1 {
			first := candidates[0]
			next := *convCtx
			next.CandidateTaskIDs = make([]string, 0, len(candidates))
			for _, c := range candidates {
				next.CandidateTaskIDs = append(next.CandidateTaskIDs, c.ID)
			}
			next.Payload.Step = "confirm"
			next.Payload.CandidateIndex = 0
			if err := e.setContext(ctx, &next); err != nil {
				return nil, err
			}
			return &models.ChatMessageResponse{
				AssistantText: templates.AskTargetConfirm(first.Title,
					e.opts(tone, e.messageSeed(in.InstallationID, "ask_target_confirm", first.Title, circleCrossChoices))),
				SummarySlot:      first.Title,
				ActionType:       models.ActionConfirm,
				ConfirmationType: models.PendingTaskTargetConfirm,
				QuickChoices:     circleCrossChoices,
				AffectedTaskIDs:  []string{},
			}, nil
		}

		return &models.ChatMessageResponse{
			AssistantText: templates.TargetResolveFailed(
				e.opts(tone, e.messageSeed(in.InstallationID, "target_resolve_failed", "", nil))),
			SummarySlot:      "",
			ActionType:       models.ActionConfirm,
			ConfirmationType: models.PendingTaskTargetConfirm,
			QuickChoices:     []string{},
			AffectedTaskIDs:  []string{},
		}, nil
	}

	var selectedID string
	if index >= 0 && index < len(convCtx.CandidateTaskIDs) {
		selectedID = convCtx.CandidateTaskIDs[index]
	} else if len(convCtx.CandidateTaskIDs) > 0 {
		selectedID = convCtx.CandidateTaskIDs[0]
	}

	var selectedTask *models.Task
	if selectedID != "" {
		task, err := e.store.GetTask(ctx, selectedID)
		if err != nil && err != store.ErrNotFound {
			return nil, fmt.Errorf("get task: %w", err)
		}
		selectedTask = task
	}
	if selectedTask == nil {
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ErrorMessage("対象タスクが見つかりません。",
				e.opts(tone, e.messageSeed(in.InstallationID, "target_missing", "", nil))),
			SummarySlot:     "",
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}

	switch userInput {
	case "○":
		if err := e.store.ClearContext(ctx, in.InstallationID); err != nil {
			return nil, fmt.Errorf("clear context: %w", err)
		}
		return e.applyOffsetToTask(ctx, selectedTask, offsetMinutes, tone)

	case "✕":
		next := *convCtx
		next.Payload.Step = "await_target_text"
		if err := e.setContext(ctx, &next); err != nil {
			return nil, err
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.AskTargetName(
				e.opts(tone, e.messageSeed(in.InstallationID, "ask_target_name", selectedTask.Title, nil))),
			SummarySlot:      selectedTask.Title,
			ActionType:       models.ActionConfirm,
			ConfirmationType: models.PendingTaskTargetConfirm,
			QuickChoices:     []string{},
			AffectedTaskIDs:  []string{},
		}, nil
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ChooseCircleCross(
			e.opts(tone, e.messageSeed(in.InstallationID, "choose_circle_cross", selectedTask.Title, circleCrossChoices))),
		SummarySlot:      selectedTask.Title,
		ActionType:       models.ActionConfirm,
		ConfirmationType: models.PendingTaskTargetConfirm,
		QuickChoices:     circleCrossChoices,
		AffectedTaskIDs:  []string{},
	}, nil
}

func (e *Engine) handleOffsetRequest(ctx context.Context, userText, installationID string, offsetMinutes int, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	tasks, err := e.store.ListActiveScheduledTasks(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	if len(tasks) == 0 {
		return &models.ChatMessageResponse{
			AssistantText: templates.NoScheduledTask(
				e.opts(tone, e.messageSeed(installationID, "no_scheduled_task", "", nil))),
			SummarySlot:     "",
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}

	if len(tasks) == 1 {
		return e.applyOffsetToTask(ctx, &tasks[0], offsetMinutes, tone)
	}

	for i := range tasks {
		if strings.Contains(userText, tasks[i].Title) {
			return e.applyOffsetToTask(ctx, &tasks[i], offsetMinutes, tone)
		}
	}

	limit := len(tasks)
	if limit > 5 {
		limit = 5
	}
	candidateIDs := make([]string, 0, limit)
	for _, task := range tasks[:limit] {
		candidateIDs = append(candidateIDs, task.ID)
	}
	if err := e.setContext(ctx, &models.ConversationContext{
		InstallationID:        installationID,
		PendingType:           models.PendingTaskTargetConfirm,
		CandidateTaskIDs:      candidateIDs,
		ProposedOffsetMinutes: &offsetMinutes,
		Payload:               models.ContextPayload{Step: "confirm", CandidateIndex: 0},
	}); err != nil {
		return nil, err
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.AskTargetConfirm(tasks[0].Title,
			e.opts(tone, e.messageSeed(installationID, "ask_target_confirm", tasks[0].Title, circleCrossChoices))),
		SummarySlot:      tasks[0].Title,
		ActionType:       models.ActionConfirm,
		ConfirmationType: models.PendingTaskTargetConfirm,
		QuickChoices:     circleCrossChoices,
		AffectedTaskIDs:  []string{},
	}, nil
}

func (e *Engine) applyOffsetToTask(ctx context.Context, task *models.Task, offsetMinutes int, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	if task.DueAt == nil {
		return &models.ChatMessageResponse{
			AssistantText: templates.MissingDueForTask(
				e.opts(tone, e.messageSeed(task.InstallationID, "missing_due_for_task", task.Title, nil))),
			SummarySlot:     task.Title,
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}

	reminders, err := e.store.ListRemindersByTask(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	var active *models.Reminder
	for i := range reminders {
		if reminders[i].Status == models.ReminderActive {
			active = &reminders[i]
			break
		}
	}

	notifyAt := duetime.ApplyOffset(*task.DueAt, offsetMinutes)
	now := e.now()
	if active == nil {
		reminder := &models.Reminder{
			ID:            e.newID(),
			TaskID:        task.ID,
			BaseTime:      *task.DueAt,
			OffsetMinutes: offsetMinutes,
			NotifyAt:      notifyAt,
			Status:        models.ReminderActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.store.CreateReminder(ctx, reminder); err != nil {
			return nil, fmt.Errorf("create reminder: %w", err)
		}
		metrics.RemindersCreated.Inc()
	} else {
		active.OffsetMinutes = offsetMinutes
		active.NotifyAt = notifyAt
		active.UpdatedAt = now
		if err := e.store.UpdateReminder(ctx, active); err != nil {
			return nil, fmt.Errorf("update reminder: %w", err)
		}
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ReminderAdjusted(task.Title, offsetMinutes,
			e.opts(tone, e.messageSeed(task.InstallationID, "reminder_adjusted", task.Title, nil))),
		SummarySlot:     task.Title,
		ActionType:      models.ActionSaved,
		QuickChoices:    []string{},
		AffectedTaskIDs: []string{task.ID},
	}, nil
}

func isReclassifyCommand(text string) bool {
	return strings.Contains(text, "さっき") &&
		strings.Contains(text, "メモ") && strings.Contains(text, "タスク")
}

func (e *Engine) handleReclassify(ctx context.Context, text, installationID string, tone models.ResponseTone) (*models.ChatMessageResponse, error) {
	tasks, err := e.store.ListTasks(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return &models.ChatMessageResponse{
			AssistantText: templates.ReclassifyTargetMissing(
				e.opts(tone, e.messageSeed(installationID, "reclassify_target_missing", "", nil))),
			SummarySlot:     "",
			ActionType:      models.ActionError,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{},
		}, nil
	}

	latest := tasks[0]
	now := e.now()

	if strings.Contains(text, "メモじゃなくてタスク") {
		latest.Kind = models.KindTask
		latest.MemoCategory = ""
		latest.UpdatedAt = now
		if err := e.store.UpdateTask(ctx, &latest); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ReclassifiedToTask(latest.Title,
				e.opts(tone, e.messageSeed(installationID, "reclassified_to_task", latest.Title, nil))),
			SummarySlot:     latest.Title,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{latest.ID},
		}, nil
	}

	if strings.Contains(text, "タスクじゃなくてメモ") {
		latest.Kind = models.KindMemo
		if latest.MemoCategory == "" {
			latest.MemoCategory = models.CategoryMisc
		}
		latest.DueState = models.DueNone
		latest.DueAt = nil
		latest.UpdatedAt = now
		if err := e.store.UpdateTask(ctx, &latest); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		return &models.ChatMessageResponse{
			AssistantText: templates.ReclassifiedToMemo(latest.Title,
				e.opts(tone, e.messageSeed(installationID, "reclassified_to_memo", latest.Title, nil))),
			SummarySlot:     latest.Title,
			ActionType:      models.ActionSaved,
			QuickChoices:    []string{},
			AffectedTaskIDs: []string{latest.ID},
		}, nil
	}

	return &models.ChatMessageResponse{
		AssistantText: templates.ReclassifyIntentUnknown(
			e.opts(tone, e.messageSeed(installationID, "reclassify_intent_unknown", "", nil))),
		SummarySlot:     latest.Title,
		ActionType:      models.ActionError,
		QuickChoices:    []string{},
		AffectedTaskIDs: []string{},
	}, nil
}

type taskSpec struct {
	installationID        string
	title                 string
	kind                  models.TaskKind
	memoCategory          models.MemoCategory
	dueState              models.DueState
	dueAt                 *time.Time
	defaultDueTimeApplied bool
}

func (e *Engine) createTask(ctx context.Context, spec taskSpec) (*models.Task, error) {
	now := e.now()
	task := &models.Task{
		ID:                    e.newID(),
		InstallationID:        spec.installationID,
		Title:                 spec.title,
		Kind:                  spec.kind,
		MemoCategory:          spec.memoCategory,
		DueState:              spec.dueState,
		DueAt:                 spec.dueAt,
		DefaultDueTimeApplied: spec.defaultDueTimeApplied,
		Status:                models.StatusActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	metrics.TasksCreated.WithLabelValues(string(spec.kind)).Inc()
	return task, nil
}

func (e *Engine) createReminder(ctx context.Context, task *models.Task, baseTime time.Time, offsetMinutes int) (*models.Reminder, error) {
	now := e.now()
	reminder := &models.Reminder{
		ID:            e.newID(),
		TaskID:        task.ID,
		BaseTime:      baseTime,
		OffsetMinutes: offsetMinutes,
		NotifyAt:      duetime.ApplyOffset(baseTime, offsetMinutes),
		Status:        models.ReminderActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateReminder(ctx, reminder); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	metrics.RemindersCreated.Inc()
	return reminder, nil
}

// setContext stamps the TTL and update time before persisting.
func (e *Engine) setContext(ctx context.Context, convCtx *models.ConversationContext) error {
	now := e.now()
	convCtx.ExpiresAt = now.Add(contextTTL)
	convCtx.UpdatedAt = now
	if err := e.store.UpsertContext(ctx, convCtx); err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	metrics.PendingTransitions.WithLabelValues(string(convCtx.PendingType)).Inc()
	return nil
}

// resolveClassification arbitrates between the deterministic classifier and
// the AI second opinion. Explicit prefixes are never overridden.
func (e *Engine) resolveClassification(ctx context.Context, text string) models.ClassificationResult {
	deterministic := classify.Classify(text)

	if deterministic.Reason == "explicit_task_prefix" || deterministic.Reason == "explicit_memo_prefix" {
		return deterministic
	}
	if e.classifier == nil {
		return deterministic
	}

	aiResult, err := e.classifier.Classify(ctx, text, ai.ClassificationFacts{
		RuleKind:       deterministic.Kind,
		RuleReason:     deterministic.Reason,
		RuleConfidence: deterministic.Confidence,
	})
	if err != nil {
		metrics.AIFallbacks.WithLabelValues("classify").Inc()
		return deterministic
	}
	if aiResult == nil {
		return deterministic
	}
	return pickClassification(deterministic, *aiResult)
}

func pickClassification(deterministic, aiResult models.ClassificationResult) models.ClassificationResult {
	if aiResult.Confidence < 0.6 {
		return deterministic
	}

	if deterministic.Kind == models.ClassAmbiguous {
		if aiResult.Kind != models.ClassAmbiguous && aiResult.Confidence >= 0.7 {
			return aiResult
		}
		return deterministic
	}

	if aiResult.Kind == models.ClassAmbiguous {
		return deterministic
	}

	if aiResult.Kind != deterministic.Kind {
		if aiResult.Confidence >= 0.9 && aiResult.Confidence >= deterministic.Confidence+0.15 {
			return aiResult
		}
		return deterministic
	}

	if aiResult.Kind == models.ClassMemo {
		if aiResult.MemoCategory != "" && aiResult.MemoCategory != models.CategoryMisc && aiResult.Confidence >= 0.7 {
			out := deterministic
			out.MemoCategory = aiResult.MemoCategory
			out.Confidence = aiResult.Confidence
			out.Reason = aiResult.Reason
			return out
		}
		return deterministic
	}

	if aiResult.Confidence >= deterministic.Confidence+0.1 {
		return aiResult
	}
	return deterministic
}

type dueResolution struct {
	parsedDue         *models.ParsedDue
	forceConfirmation bool
}

// resolveDue combines the deterministic parser and the AI due parser
// according to the configured mode. An AI answer that is not a confident
// resolution forces confirmation instead of guessing.
func (e *Engine) resolveDue(ctx context.Context, text, defaultDueTime string) dueResolution {
	resolveRule := func() *models.ParsedDue {
		return duetime.ParseDueFromText(text, duetime.Options{Now: e.now(), DefaultDueTime: defaultDueTime})
	}

	switch e.dueParseMode {
	case ModeRuleOnly:
		return dueResolution{parsedDue: resolveRule()}

	case ModeRuleFirst:
		if ruleParsed := resolveRule(); ruleParsed != nil {
			return dueResolution{parsedDue: ruleParsed}
		}
		if aiParsed, usedAI := e.tryResolveDueWithAI(ctx, text, defaultDueTime); usedAI {
			return aiParsed
		}
		return dueResolution{}

	default: // ai-first
		if aiParsed, usedAI := e.tryResolveDueWithAI(ctx, text, defaultDueTime); usedAI {
			return aiParsed
		}
		return dueResolution{parsedDue: resolveRule()}
	}
}

func (e *Engine) tryResolveDueWithAI(ctx context.Context, text, defaultDueTime string) (dueResolution, bool) {
	if e.dueParser == nil {
		return dueResolution{}, false
	}

	opts := ai.DueParseOptions{DefaultDueTime: defaultDueTime, Now: e.now()}
	candidate, err := e.dueParser.ParseDue(ctx, text, opts)
	if err != nil {
		metrics.AIFallbacks.WithLabelValues("due_parse").Inc()
		return dueResolution{}, false
	}
	if candidate == nil {
		return dueResolution{}, false
	}

	validated := ai.ValidateDueParseCandidate(candidate)
	if validated == nil || validated.State != ai.StateResolved {
		return dueResolution{forceConfirmation: true}, true
	}

	parsedDue := ai.CandidateToParsedDue(validated, opts)
	if parsedDue == nil {
		return dueResolution{forceConfirmation: true}, true
	}
	return dueResolution{parsedDue: parsedDue}, true
}

func (e *Engine) safeTaskSummary(ctx context.Context, text string, dueAt *time.Time) string {
	slot := e.safeSummary(ctx, text, "task", dueAt)
	return summary.NormalizeTaskTitle(slot, text)
}

func (e *Engine) safeSummary(ctx context.Context, text, kind string, dueAt *time.Time) string {
	if e.summarizer == nil {
		return summary.FallbackSummarySlot(text)
	}
	slot, err := e.summarizer.Summarize(ctx, text, ai.SummaryFacts{Kind: kind, DueAt: dueAt})
	if err != nil || strings.TrimSpace(slot) == "" {
		if err != nil {
			metrics.AIFallbacks.WithLabelValues("summary").Inc()
		}
		return summary.FallbackSummarySlot(text)
	}
	return slot
}

// withUiMeta fills in the rendering hints a client needs: which
// confirmation a response belongs to and what kind of input comes next.
func (e *Engine) withUiMeta(resp *models.ChatMessageResponse) *models.ChatMessageResponse {
	if resp.ConfirmationType == "" {
		resp.ConfirmationType = inferConfirmationType(resp)
	}
	if resp.InputMode == "" {
		resp.InputMode = inferInputMode(resp)
	}
	if resp.NegativeChoice == "" && resp.InputMode == models.InputChoiceThenTextOnNeg {
		resp.NegativeChoice = "✕"
	}
	return resp
}

func hasChoice(choices []string, want string) bool {
	for _, c := range choices {
		if c == want {
			return true
		}
	}
	return false
}

func inferConfirmationType(resp *models.ChatMessageResponse) models.PendingType {
	choices := resp.QuickChoices
	text := resp.AssistantText

	if hasChoice(choices, "タスク") && hasChoice(choices, "メモ") {
		return models.PendingTaskOrMemoConfirm
	}
	if hasChoice(choices, "やりたいこと") || hasChoice(choices, "アイデア") || hasChoice(choices, "メモ（雑多）") {
		return models.PendingMemoCategory
	}
	if hasChoice(choices, "設定する") && hasChoice(choices, "設定しない") && hasChoice(choices, "後で設定する") {
		return models.PendingDueChoice
	}
	if hasChoice(choices, "○") && hasChoice(choices, "✕") {
		if strings.Contains(text, "対象タスク") {
			return models.PendingTaskTargetConfirm
		}
		return models.PendingDueTimeConfirm
	}

	if resp.ActionType != models.ActionConfirm {
		return ""
	}

	switch {
	case strings.Contains(text, "タスクにしますか？メモにしますか"):
		return models.PendingTaskOrMemoConfirm
	case strings.Contains(text, "メモの分類"):
		return models.PendingMemoCategory
	case strings.Contains(text, "期日はどうしますか") || strings.Contains(text, "いつを期限"):
		return models.PendingDueChoice
	case strings.Contains(text, "時刻") || strings.Contains(text, "○/✕"):
		return models.PendingDueTimeConfirm
	case strings.Contains(text, "対象タスク"):
		return models.PendingTaskTargetConfirm
	}
	return ""
}

func inferInputMode(resp *models.ChatMessageResponse) models.InputMode {
	if resp.ConfirmationType == "" || len(resp.QuickChoices) == 0 {
		return models.InputFreeText
	}
	if hasChoice(resp.QuickChoices, "○") && hasChoice(resp.QuickChoices, "✕") {
		return models.InputChoiceThenTextOnNeg
	}
	return models.InputChoiceOnly
}
