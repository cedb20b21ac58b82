package models

import "time"

// TaskKind distinguishes actionable tasks from free-form memos.
type TaskKind string

const (
	KindTask TaskKind = "task"
	KindMemo TaskKind = "memo"
)

// MemoCategory is the sub-category assigned to memo records.
type MemoCategory string

const (
	CategoryWant MemoCategory = "want"
	CategoryIdea MemoCategory = "idea"
	CategoryMisc MemoCategory = "misc"
)

// DueState tracks whether a task has a due time, will get one later, or none.
type DueState string

const (
	DueScheduled DueState = "scheduled"
	DueNone      DueState = "no_due"
	DuePending   DueState = "pending_due"
)

// TaskStatus is the lifecycle state of a task or memo record.
type TaskStatus string

const (
	StatusActive TaskStatus = "active"
	StatusDone   TaskStatus = "done"
)

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderActive   ReminderStatus = "active"
	ReminderDone     ReminderStatus = "done"
	ReminderCanceled ReminderStatus = "canceled"
)

// PendingType names the multi-turn confirmation state awaiting a user reply.
type PendingType string

const (
	PendingDueChoice         PendingType = "due_choice"
	PendingDueTimeConfirm    PendingType = "due_time_confirm"
	PendingTaskTargetConfirm PendingType = "task_target_confirm"
	PendingTaskOrMemoConfirm PendingType = "task_or_memo_confirm"
	PendingMemoCategory      PendingType = "memo_category_confirm"
)

// ActionType classifies a per-turn response for the transport layer.
type ActionType string

const (
	ActionSaved   ActionType = "saved"
	ActionConfirm ActionType = "confirm"
	ActionError   ActionType = "error"
)

// InputMode tells the client what kind of input is valid next.
type InputMode string

const (
	InputFreeText            InputMode = "free_text"
	InputChoiceOnly          InputMode = "choice_only"
	InputChoiceThenTextOnNeg InputMode = "choice_then_text_on_negative"
)

// ResponseTone selects the phrasing register for assistant replies.
type ResponseTone string

const (
	TonePolite   ResponseTone = "polite"
	ToneFriendly ResponseTone = "friendly"
	ToneConcise  ResponseTone = "concise"
)

// Task is the persisted record for both tasks and memos.
// Invariants: kind=memo implies dueState=no_due and DueAt nil;
// kind=task with dueState=scheduled implies DueAt non-nil.
type Task struct {
	ID                    string       `json:"id" db:"id"`
	InstallationID        string       `json:"installation_id" db:"installation_id"`
	Title                 string       `json:"title" db:"title"`
	Kind                  TaskKind     `json:"kind" db:"kind"`
	MemoCategory          MemoCategory `json:"memo_category,omitempty" db:"memo_category"`
	DueState              DueState     `json:"due_state" db:"due_state"`
	DueAt                 *time.Time   `json:"due_at,omitempty" db:"due_at"`
	DefaultDueTimeApplied bool         `json:"default_due_time_applied" db:"default_due_time_applied"`
	Status                TaskStatus   `json:"status" db:"status"`
	CreatedAt             time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at" db:"updated_at"`
}

// Reminder is a notification lead-time record attached to a task.
// NotifyAt is always BaseTime minus OffsetMinutes.
type Reminder struct {
	ID            string         `json:"id" db:"id"`
	TaskID        string         `json:"task_id" db:"task_id"`
	BaseTime      time.Time      `json:"base_time" db:"base_time"`
	OffsetMinutes int            `json:"offset_minutes" db:"offset_minutes"`
	NotifyAt      time.Time      `json:"notify_at" db:"notify_at"`
	Status        ReminderStatus `json:"status" db:"status"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// ContextPayload carries the per-pendingType sub-step fields of a conversation
// context. Only the fields relevant to the active PendingType are set.
type ContextPayload struct {
	OriginalText      string       `json:"original_text,omitempty"`
	Summary           string       `json:"summary,omitempty"`
	Step              string       `json:"step,omitempty"`
	DateLabel         string       `json:"date_label,omitempty"`
	SuggestedCategory MemoCategory `json:"suggested_category,omitempty"`
	CandidateIndex    int          `json:"candidate_index,omitempty"`
}

// ConversationContext is the resumable multi-turn state for one installation.
// At most one context exists per installation.
type ConversationContext struct {
	InstallationID        string         `json:"installation_id"`
	PendingType           PendingType    `json:"pending_type"`
	CandidateTaskIDs      []string       `json:"candidate_task_ids"`
	ProposedDueAt         *time.Time     `json:"proposed_due_at,omitempty"`
	ProposedOffsetMinutes *int           `json:"proposed_offset_minutes,omitempty"`
	ExpiresAt             time.Time      `json:"expires_at"`
	Payload               ContextPayload `json:"payload"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// Expired reports whether the context TTL has elapsed at the given instant.
func (c *ConversationContext) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.Before(now)
}

// ChatMessageResponse is the per-turn output contract to the transport layer.
type ChatMessageResponse struct {
	AssistantText    string      `json:"assistant_text"`
	SummarySlot      string      `json:"summary_slot"`
	ActionType       ActionType  `json:"action_type"`
	QuickChoices     []string    `json:"quick_choices"`
	AffectedTaskIDs  []string    `json:"affected_task_ids"`
	InputMode        InputMode   `json:"input_mode,omitempty"`
	ConfirmationType PendingType `json:"confirmation_type,omitempty"`
	NegativeChoice   string      `json:"negative_choice,omitempty"`
}

// ChatAuditLog is one appended turn record for debugging and traceability.
type ChatAuditLog struct {
	ID             string    `json:"id" db:"id"`
	InstallationID string    `json:"installation_id" db:"installation_id"`
	UserText       string    `json:"user_text" db:"user_text"`
	AssistantText  string    `json:"assistant_text" db:"assistant_text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Installation is one registered client device, the unit of conversation.
type Installation struct {
	ID          string    `json:"installation_id" db:"id"`
	AccessToken string    `json:"access_token" db:"access_token"`
	Timezone    string    `json:"timezone" db:"timezone"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ClassifiedKind is the classifier outcome space; unlike TaskKind it admits
// an explicit ambiguous value that must be resolved through confirmation.
type ClassifiedKind string

const (
	ClassTask      ClassifiedKind = "task"
	ClassMemo      ClassifiedKind = "memo"
	ClassAmbiguous ClassifiedKind = "ambiguous"
)

// ClassificationResult is the outcome of classifying one utterance.
// It is never persisted; only its effect is.
type ClassificationResult struct {
	Kind         ClassifiedKind `json:"kind"`
	MemoCategory MemoCategory   `json:"memo_category,omitempty"`
	Confidence   float64        `json:"confidence"`
	Reason       string         `json:"reason"`
}

// ParsedDue is a resolved due expression.
type ParsedDue struct {
	DateOnly     bool      `json:"date_only"` // time came from the configured default
	DueAt        time.Time `json:"due_at"`
	DateLabel    string    `json:"date_label"`
	TimeProvided bool      `json:"time_provided"`
}

// ParsedOffset is a recognized reminder lead-time expression.
type ParsedOffset struct {
	OffsetMinutes int    `json:"offset_minutes"`
	Source        string `json:"source"`
}
