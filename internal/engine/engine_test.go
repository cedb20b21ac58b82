package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotonoha-app/kaiwa/internal/ai"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/store"
)

var jst = time.FixedZone("JST", 9*60*60)

// Friday morning, so weekday expressions have a known anchor.
var testNow = time.Date(2026, 2, 6, 10, 0, 0, 0, jst)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fakeClassifier struct {
	result *models.ClassificationResult
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ ai.ClassificationFacts) (*models.ClassificationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeDueParser struct {
	candidate *ai.DueParseCandidate
	err       error
	calls     int
}

func (f *fakeDueParser) ParseDue(_ context.Context, _ string, _ ai.DueParseOptions) (*ai.DueParseCandidate, error) {
	f.calls++
	return f.candidate, f.err
}

type fakeSummarizer struct {
	slot string
	err  error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ string, _ ai.SummaryFacts) (string, error) {
	return f.slot, f.err
}

func newTestEngine(s store.Store, clock *testClock, mutate func(*Options)) *Engine {
	opts := Options{
		Store:    s,
		Location: jst,
		Now:      clock.Now,
		NewID:    sequentialIDs(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func send(t *testing.T, e *Engine, installationID, text, choice string) *models.ChatMessageResponse {
	t.Helper()
	resp, err := e.HandleMessage(context.Background(), Input{
		InstallationID: installationID,
		Text:           text,
		SelectedChoice: choice,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func onlyTask(t *testing.T, s *store.Memory, installationID string) models.Task {
	t.Helper()
	tasks, err := s.ListTasks(context.Background(), installationID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestEmptyInputIsAnError(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "   ", "")
	assert.Equal(t, models.ActionError, resp.ActionType)
	assert.Empty(t, resp.AffectedTaskIDs)

	tasks, err := s.ListTasks(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestExplicitDatetimeSavesScheduledTask(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	require.Len(t, resp.AffectedTaskIDs, 1)
	assert.Equal(t, "資料を提出", resp.SummarySlot)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.KindTask, task.Kind)
	assert.Equal(t, models.DueScheduled, task.DueState)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(time.Date(2026, 2, 7, 9, 0, 0, 0, jst)))

	reminders, err := s.ListRemindersByTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, 0, reminders[0].OffsetMinutes)
	assert.True(t, reminders[0].NotifyAt.Equal(*task.DueAt))
}

func TestDateOnlyDueAsksForTimeConfirmation(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "明日までに資料を提出", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, []string{"○", "✕"}, resp.QuickChoices)
	assert.Equal(t, models.PendingDueTimeConfirm, resp.ConfirmationType)
	assert.Equal(t, models.InputChoiceThenTextOnNeg, resp.InputMode)
	assert.Equal(t, "✕", resp.NegativeChoice)

	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, convCtx)
	assert.Equal(t, models.PendingDueTimeConfirm, convCtx.PendingType)
	require.NotNil(t, convCtx.ProposedDueAt)
	assert.True(t, convCtx.ProposedDueAt.Equal(time.Date(2026, 2, 7, 9, 0, 0, 0, jst)))
}

func TestDateOnlyAcceptedWithCircle(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "明日までに資料を提出", "")
	resp := send(t, e, "inst-1", "", "○")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.True(t, task.DefaultDueTimeApplied)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(time.Date(2026, 2, 7, 9, 0, 0, 0, jst)))

	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Nil(t, convCtx)
}

func TestDateOnlyRejectedThenCustomTime(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "明日までに資料を提出", "")
	resp := send(t, e, "inst-1", "", "✕")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingDueTimeConfirm, resp.ConfirmationType)

	resp = send(t, e, "inst-1", "18時", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.False(t, task.DefaultDueTimeApplied)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(time.Date(2026, 2, 7, 18, 0, 0, 0, jst)))
}

func TestCustomTimeRejectsInputWithoutTime(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "明日までに資料を提出", "")
	send(t, e, "inst-1", "", "✕")
	resp := send(t, e, "inst-1", "そのうち", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)

	// The state stays answerable after a failed time parse.
	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, convCtx)
	assert.Equal(t, models.PendingDueTimeConfirm, convCtx.PendingType)
	assert.Equal(t, "await_custom_time", convCtx.Payload.Step)
}

func TestAmbiguousTextAsksTaskOrMemo(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "洗濯", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, []string{"タスク", "メモ"}, resp.QuickChoices)
	assert.Equal(t, models.PendingTaskOrMemoConfirm, resp.ConfirmationType)
	assert.Equal(t, models.InputChoiceOnly, resp.InputMode)
}

func TestTaskChoiceLeadsToDueChoice(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	resp := send(t, e, "inst-1", "", "タスク")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, []string{"設定する", "設定しない", "後で設定する"}, resp.QuickChoices)
	assert.Equal(t, models.PendingDueChoice, resp.ConfirmationType)
}

func TestDueChoiceNoDue(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "タスク")
	resp := send(t, e, "inst-1", "", "設定しない")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.KindTask, task.Kind)
	assert.Equal(t, models.DueNone, task.DueState)
	assert.Nil(t, task.DueAt)
}

func TestDueChoiceLater(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "タスク")
	resp := send(t, e, "inst-1", "", "後で設定する")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.DuePending, task.DueState)
	assert.Nil(t, task.DueAt)
}

func TestDueChoiceSetThenFreeTextDue(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "タスク")
	resp := send(t, e, "inst-1", "", "設定する")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingDueChoice, resp.ConfirmationType)

	resp = send(t, e, "inst-1", "明日18時", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.DueScheduled, task.DueState)
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(time.Date(2026, 2, 7, 18, 0, 0, 0, jst)))

	reminders, err := s.ListRemindersByTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 1)
}

func TestDueTextPastIsRejectedAndStateKept(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "タスク")
	send(t, e, "inst-1", "", "設定する")

	// A bare 3時 resolves to 03:00 today, already past at 10:00.
	resp := send(t, e, "inst-1", "3時", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)

	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, convCtx)
	assert.Equal(t, models.PendingDueChoice, convCtx.PendingType)
	assert.Equal(t, "await_due_text", convCtx.Payload.Step)
}

func TestMemoChoiceAsksCategory(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	resp := send(t, e, "inst-1", "", "メモ")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, []string{"やりたいこと", "アイデア", "メモ（雑多）"}, resp.QuickChoices)
	assert.Equal(t, models.PendingMemoCategory, resp.ConfirmationType)
}

func TestMemoCategoryChoiceSaves(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "メモ")
	resp := send(t, e, "inst-1", "", "やりたいこと")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.KindMemo, task.Kind)
	assert.Equal(t, models.CategoryWant, task.MemoCategory)
	assert.Equal(t, models.DueNone, task.DueState)
	assert.Nil(t, task.DueAt)
}

func TestUnknownMemoCategoryReprompts(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "メモ")
	resp := send(t, e, "inst-1", "うーん", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, []string{"やりたいこと", "アイデア", "メモ（雑多）"}, resp.QuickChoices)

	tasks, err := s.ListTasks(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDesireSavesWantMemoDirectly(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "京都に行きたい", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.KindMemo, task.Kind)
	assert.Equal(t, models.CategoryWant, task.MemoCategory)
}

func TestExpiredContextIsDiscarded(t *testing.T) {
	s := store.NewMemory()
	clock := &testClock{t: testNow}
	e := newTestEngine(s, clock, nil)

	send(t, e, "inst-1", "洗濯", "")
	clock.Advance(31 * time.Minute)

	// The stale confirmation must not swallow this as a task/memo answer.
	resp := send(t, e, "inst-1", "買い物", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingTaskOrMemoConfirm, resp.ConfirmationType)

	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, convCtx)
	assert.Equal(t, "買い物", convCtx.Payload.OriginalText)
}

func TestContextAnswerableJustBeforeTTL(t *testing.T) {
	s := store.NewMemory()
	clock := &testClock{t: testNow}
	e := newTestEngine(s, clock, nil)

	send(t, e, "inst-1", "洗濯", "")
	clock.Advance(29 * time.Minute)

	resp := send(t, e, "inst-1", "", "タスク")
	assert.Equal(t, models.PendingDueChoice, resp.ConfirmationType)
}

func seedScheduledTask(t *testing.T, s *store.Memory, id, installationID, title string, due time.Time) models.Task {
	t.Helper()
	task := models.Task{
		ID:             id,
		InstallationID: installationID,
		Title:          title,
		Kind:           models.KindTask,
		DueState:       models.DueScheduled,
		DueAt:          &due,
		Status:         models.StatusActive,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	require.NoError(t, s.CreateTask(context.Background(), &task))
	return task
}

func TestOffsetRequestWithNoScheduledTask(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "30分前にリマインドして", "")
	assert.Equal(t, models.ActionError, resp.ActionType)
}

func TestOffsetRequestWithSingleTask(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	due := time.Date(2026, 2, 7, 9, 0, 0, 0, jst)
	task := seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", due)

	resp := send(t, e, "inst-1", "30分前にリマインドして", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, []string{task.ID}, resp.AffectedTaskIDs)

	reminders, err := s.ListRemindersByTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, 30, reminders[0].OffsetMinutes)
	assert.True(t, reminders[0].NotifyAt.Equal(due.Add(-30*time.Minute)))
}

func TestOffsetRequestAdjustsExistingReminder(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	due := time.Date(2026, 2, 7, 9, 0, 0, 0, jst)
	task := seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", due)
	require.NoError(t, s.CreateReminder(context.Background(), &models.Reminder{
		ID:       "rem-1",
		TaskID:   task.ID,
		BaseTime: due,
		NotifyAt: due,
		Status:   models.ReminderActive,
	}))

	send(t, e, "inst-1", "1時間前にリマインドして", "")

	reminders, err := s.ListRemindersByTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, "rem-1", reminders[0].ID)
	assert.Equal(t, 60, reminders[0].OffsetMinutes)
	assert.True(t, reminders[0].NotifyAt.Equal(due.Add(-time.Hour)))
}

func TestOffsetRequestMatchesTitleInText(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", time.Date(2026, 2, 7, 9, 0, 0, 0, jst))
	billing := seedScheduledTask(t, s, "task-2", "inst-1", "請求書送付", time.Date(2026, 2, 8, 9, 0, 0, 0, jst))

	resp := send(t, e, "inst-1", "請求書送付を1時間前にリマインドして", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, []string{billing.ID}, resp.AffectedTaskIDs)
}

func TestOffsetRequestWithMultipleCandidates(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	meeting := seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", time.Date(2026, 2, 7, 9, 0, 0, 0, jst))
	seedScheduledTask(t, s, "task-2", "inst-1", "請求書送付", time.Date(2026, 2, 8, 9, 0, 0, 0, jst))

	resp := send(t, e, "inst-1", "1時間前にリマインドして", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingTaskTargetConfirm, resp.ConfirmationType)
	assert.Equal(t, meeting.Title, resp.SummarySlot)

	convCtx, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	require.NotNil(t, convCtx)
	assert.Equal(t, []string{"task-1", "task-2"}, convCtx.CandidateTaskIDs)
	require.NotNil(t, convCtx.ProposedOffsetMinutes)
	assert.Equal(t, 60, *convCtx.ProposedOffsetMinutes)

	resp = send(t, e, "inst-1", "", "○")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, []string{meeting.ID}, resp.AffectedTaskIDs)
}

func TestTargetRejectionFallsBackToNameSearch(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", time.Date(2026, 2, 7, 9, 0, 0, 0, jst))
	due := time.Date(2026, 2, 8, 9, 0, 0, 0, jst)
	billing := seedScheduledTask(t, s, "task-2", "inst-1", "請求書送付", due)

	send(t, e, "inst-1", "1時間前にリマインドして", "")
	resp := send(t, e, "inst-1", "", "✕")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingTaskTargetConfirm, resp.ConfirmationType)

	resp = send(t, e, "inst-1", "請求書", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, []string{billing.ID}, resp.AffectedTaskIDs)

	reminders, err := s.ListRemindersByTask(context.Background(), billing.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.True(t, reminders[0].NotifyAt.Equal(due.Add(-time.Hour)))
}

func TestTargetNameSearchWithoutMatchReprompts(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", time.Date(2026, 2, 7, 9, 0, 0, 0, jst))
	seedScheduledTask(t, s, "task-2", "inst-1", "請求書送付", time.Date(2026, 2, 8, 9, 0, 0, 0, jst))

	send(t, e, "inst-1", "1時間前にリマインドして", "")
	send(t, e, "inst-1", "", "✕")
	resp := send(t, e, "inst-1", "買い物", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Empty(t, resp.AffectedTaskIDs)
}

func TestReclassifyLatestMemoToTask(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	require.NoError(t, s.CreateTask(context.Background(), &models.Task{
		ID:             "memo-1",
		InstallationID: "inst-1",
		Title:          "企画の下書き",
		Kind:           models.KindMemo,
		MemoCategory:   models.CategoryIdea,
		DueState:       models.DueNone,
		Status:         models.StatusActive,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}))

	resp := send(t, e, "inst-1", "さっきのメモじゃなくてタスクにして", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task, err := s.GetTask(context.Background(), "memo-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindTask, task.Kind)
	assert.Empty(t, task.MemoCategory)
}

func TestReclassifyLatestTaskToMemo(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)
	seedScheduledTask(t, s, "task-1", "inst-1", "会議準備", time.Date(2026, 2, 7, 9, 0, 0, 0, jst))

	resp := send(t, e, "inst-1", "さっきのタスクじゃなくてメモにして", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task, err := s.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindMemo, task.Kind)
	assert.Equal(t, models.CategoryMisc, task.MemoCategory)
	assert.Equal(t, models.DueNone, task.DueState)
	assert.Nil(t, task.DueAt)
}

func TestReclassifyWithNothingToReclassify(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	resp := send(t, e, "inst-1", "さっきのメモじゃなくてタスクにして", "")
	assert.Equal(t, models.ActionError, resp.ActionType)
}

func TestAuditLogAppendedPerTurn(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, nil)

	send(t, e, "inst-1", "京都に行きたい", "")

	logs := s.ChatLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "inst-1", logs[0].InstallationID)
	assert.Equal(t, "京都に行きたい", logs[0].UserText)
	assert.NotEmpty(t, logs[0].AssistantText)
}

func TestSummarizerErrorFallsBackToDeterministicSlot(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Summarizer = &fakeSummarizer{err: assert.AnError}
	})

	resp := send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, "資料を提出", resp.SummarySlot)
}

func TestSummarizerSlotIsUsedForMemos(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Summarizer = &fakeSummarizer{slot: "京都旅行"}
	})

	resp := send(t, e, "inst-1", "京都に行きたい", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, "京都旅行", resp.SummarySlot)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, "京都旅行", task.Title)
}

func TestAIClassifierResolvesAmbiguityWhenConfident(t *testing.T) {
	s := store.NewMemory()
	fc := &fakeClassifier{result: &models.ClassificationResult{
		Kind:       models.ClassTask,
		Confidence: 0.85,
		Reason:     "model",
	}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Classifier = fc
	})

	resp := send(t, e, "inst-1", "洗濯", "")
	// Ambiguity resolved to task; no due expression, so the due choice comes next.
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingDueChoice, resp.ConfirmationType)
	assert.Equal(t, 1, fc.calls)
}

func TestAIClassifierBelowThresholdIsIgnored(t *testing.T) {
	s := store.NewMemory()
	fc := &fakeClassifier{result: &models.ClassificationResult{
		Kind:       models.ClassTask,
		Confidence: 0.55,
		Reason:     "model",
	}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Classifier = fc
	})

	resp := send(t, e, "inst-1", "洗濯", "")
	assert.Equal(t, models.PendingTaskOrMemoConfirm, resp.ConfirmationType)
}

func TestAIClassifierErrorFallsBackToRule(t *testing.T) {
	s := store.NewMemory()
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Classifier = &fakeClassifier{err: assert.AnError}
	})

	resp := send(t, e, "inst-1", "洗濯", "")
	assert.Equal(t, models.PendingTaskOrMemoConfirm, resp.ConfirmationType)
}

func TestExplicitPrefixSkipsClassifier(t *testing.T) {
	s := store.NewMemory()
	fc := &fakeClassifier{result: &models.ClassificationResult{
		Kind:       models.ClassTask,
		Confidence: 0.99,
	}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.Classifier = fc
	})

	resp := send(t, e, "inst-1", "メモ: 旅行のアイデア", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, 0, fc.calls)

	task := onlyTask(t, s, "inst-1")
	assert.Equal(t, models.KindMemo, task.Kind)
}

func TestAIFirstDueParserResolvedIsUsed(t *testing.T) {
	s := store.NewMemory()
	due := time.Date(2026, 2, 8, 15, 0, 0, 0, jst)
	provided := true
	fp := &fakeDueParser{candidate: &ai.DueParseCandidate{
		State:        ai.StateResolved,
		DueAt:        &due,
		TimeProvided: &provided,
	}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.DueParseMode = ModeAIFirst
		o.DueParser = fp
	})

	resp := send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)
	assert.Equal(t, 1, fp.calls)

	task := onlyTask(t, s, "inst-1")
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(due))
}

func TestAIFirstNeedsConfirmationNeverGuesses(t *testing.T) {
	s := store.NewMemory()
	fp := &fakeDueParser{candidate: &ai.DueParseCandidate{State: ai.StateNeedsConfirmation}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.DueParseMode = ModeAIFirst
		o.DueParser = fp
	})

	// The rule parser could resolve this, but the model asked for
	// confirmation, so confirmation it is.
	resp := send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, models.ActionConfirm, resp.ActionType)
	assert.Equal(t, models.PendingDueChoice, resp.ConfirmationType)
}

func TestAIFirstParserErrorFallsBackToRule(t *testing.T) {
	s := store.NewMemory()
	fp := &fakeDueParser{err: assert.AnError}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.DueParseMode = ModeAIFirst
		o.DueParser = fp
	})

	resp := send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, models.ActionSaved, resp.ActionType)

	task := onlyTask(t, s, "inst-1")
	require.NotNil(t, task.DueAt)
	assert.True(t, task.DueAt.Equal(time.Date(2026, 2, 7, 9, 0, 0, 0, jst)))
}

func TestRuleFirstSkipsParserWhenRuleResolves(t *testing.T) {
	s := store.NewMemory()
	fp := &fakeDueParser{candidate: &ai.DueParseCandidate{State: ai.StateUnparsable}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.DueParseMode = ModeRuleFirst
		o.DueParser = fp
	})

	send(t, e, "inst-1", "明日9時に資料を提出", "")
	assert.Equal(t, 0, fp.calls)
}

func TestRuleOnlyNeverConsultsParser(t *testing.T) {
	s := store.NewMemory()
	fp := &fakeDueParser{candidate: &ai.DueParseCandidate{State: ai.StateUnparsable}}
	e := newTestEngine(s, &testClock{t: testNow}, func(o *Options) {
		o.DueParseMode = ModeRuleOnly
		o.DueParser = fp
	})

	send(t, e, "inst-1", "洗濯", "")
	send(t, e, "inst-1", "", "タスク")
	assert.Equal(t, 0, fp.calls)
}

func TestPickClassification(t *testing.T) {
	rule := func(kind models.ClassifiedKind, conf float64) models.ClassificationResult {
		return models.ClassificationResult{Kind: kind, Confidence: conf, Reason: "rule"}
	}
	model := func(kind models.ClassifiedKind, conf float64) models.ClassificationResult {
		return models.ClassificationResult{Kind: kind, Confidence: conf, Reason: "model"}
	}

	tests := []struct {
		name       string
		rule       models.ClassificationResult
		model      models.ClassificationResult
		wantReason string
		wantKind   models.ClassifiedKind
	}{
		{
			name:       "low model confidence keeps rule",
			rule:       rule(models.ClassTask, 0.7),
			model:      model(models.ClassMemo, 0.59),
			wantReason: "rule",
			wantKind:   models.ClassTask,
		},
		{
			name:       "ambiguous rule yields to definite model",
			rule:       rule(models.ClassAmbiguous, 0.4),
			model:      model(models.ClassTask, 0.75),
			wantReason: "model",
			wantKind:   models.ClassTask,
		},
		{
			name:       "ambiguous rule kept against weak model",
			rule:       rule(models.ClassAmbiguous, 0.4),
			model:      model(models.ClassTask, 0.65),
			wantReason: "rule",
			wantKind:   models.ClassAmbiguous,
		},
		{
			name:       "ambiguous model never overrides",
			rule:       rule(models.ClassTask, 0.7),
			model:      model(models.ClassAmbiguous, 0.95),
			wantReason: "rule",
			wantKind:   models.ClassTask,
		},
		{
			name:       "disagreement needs high absolute and relative margin",
			rule:       rule(models.ClassTask, 0.7),
			model:      model(models.ClassMemo, 0.9),
			wantReason: "model",
			wantKind:   models.ClassMemo,
		},
		{
			name:       "disagreement with thin margin keeps rule",
			rule:       rule(models.ClassTask, 0.8),
			model:      model(models.ClassMemo, 0.9),
			wantReason: "rule",
			wantKind:   models.ClassTask,
		},
		{
			name:       "same kind with clear margin adopts model",
			rule:       rule(models.ClassTask, 0.6),
			model:      model(models.ClassTask, 0.75),
			wantReason: "model",
			wantKind:   models.ClassTask,
		},
		{
			name:       "same kind with thin margin keeps rule",
			rule:       rule(models.ClassTask, 0.7),
			model:      model(models.ClassTask, 0.75),
			wantReason: "rule",
			wantKind:   models.ClassTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickClassification(tt.rule, tt.model)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestPickClassificationMemoCategoryAdoption(t *testing.T) {
	rule := models.ClassificationResult{
		Kind: models.ClassMemo, MemoCategory: models.CategoryMisc, Confidence: 0.7, Reason: "rule",
	}
	model := models.ClassificationResult{
		Kind: models.ClassMemo, MemoCategory: models.CategoryIdea, Confidence: 0.75, Reason: "model",
	}

	got := pickClassification(rule, model)
	assert.Equal(t, models.ClassMemo, got.Kind)
	assert.Equal(t, models.CategoryIdea, got.MemoCategory)

	// A misc suggestion from the model is not worth adopting.
	model.MemoCategory = models.CategoryMisc
	got = pickClassification(rule, model)
	assert.Equal(t, models.CategoryMisc, got.MemoCategory)
	assert.Equal(t, "rule", got.Reason)
}
