// Package templates renders tone-varied assistant phrasings. Variant
// selection is deterministic in (messageKey, seed).
package templates

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

// ToneVariant holds one phrasing per response tone.
type ToneVariant struct {
	Polite   string
	Friendly string
	Concise  string
}

// Opts carries the tone and determinism seed for one message.
type Opts struct {
	Tone models.ResponseTone
	Seed string
}

func (v ToneVariant) forTone(tone models.ResponseTone) string {
	switch tone {
	case models.ToneFriendly:
		return v.Friendly
	case models.ToneConcise:
		return v.Concise
	default:
		return v.Polite
	}
}

func normalizeSeed(seed string) string {
	if seed == "" {
		return "default"
	}
	return seed
}

// PickVariant deterministically selects one variant by hashing
// messageKey + "|" + seed, then renders it in the requested tone.
func PickVariant(messageKey string, variants []ToneVariant, tone models.ResponseTone, seed string) string {
	if len(variants) == 1 {
		return variants[0].forTone(tone)
	}
	h := fnv.New32a()
	h.Write([]byte(messageKey + "|" + normalizeSeed(seed)))
	idx := h.Sum32() % uint32(len(variants))
	return variants[idx].forTone(tone)
}

func withDetail(base, detail string) string {
	d := strings.TrimSpace(detail)
	if d == "" {
		return base
	}
	return base + " " + d
}

// TaskSaved confirms a persisted task, with an optional detail suffix.
func TaskSaved(summary, detail string, o Opts) string {
	return withDetail(PickVariant("task_saved", []ToneVariant{
		{
			Polite:   summary + "ですね。タスクに登録しました。",
			Friendly: summary + "だね！ タスクに入れておいたよ。",
			Concise:  summary + "をタスク登録しました。",
		},
		{
			Polite:   summary + "ですね。タスクとして保存しました。",
			Friendly: summary + "だね。タスクとして保存しておいたよ。",
			Concise:  summary + "をタスク保存しました。",
		},
		{
			Polite:   summary + "ですね。タスク化しておきました。",
			Friendly: summary + "だね。タスクにしておいたよ。",
			Concise:  summary + "をタスク化しました。",
		},
	}, o.Tone, o.Seed), detail)
}

// MemoSaved confirms a persisted memo, with an optional detail suffix.
func MemoSaved(summary, detail string, o Opts) string {
	return withDetail(PickVariant("memo_saved", []ToneVariant{
		{
			Polite:   summary + "ですね。メモに登録しました。",
			Friendly: summary + "だね！ メモに残しておいたよ。",
			Concise:  summary + "をメモ登録しました。",
		},
		{
			Polite:   summary + "ですね。メモとして保存しました。",
			Friendly: summary + "だね。メモとして保存しておいたよ。",
			Concise:  summary + "をメモ保存しました。",
		},
		{
			Polite:   summary + "ですね。メモにしておきました。",
			Friendly: summary + "だね。メモにしておいたよ。",
			Concise:  summary + "をメモ化しました。",
		},
	}, o.Tone, o.Seed), detail)
}

// MemoCategorySaved confirms a memo saved under a chosen category.
func MemoCategorySaved(summary, categoryLabel string, o Opts) string {
	return PickVariant("memo_category_saved", []ToneVariant{
		{
			Polite:   summary + "ですね。" + categoryLabel + "に追加しておきます。",
			Friendly: summary + "だね！ " + categoryLabel + "に追加しておくよ。",
			Concise:  summary + "を" + categoryLabel + "に追加しました。",
		},
		{
			Polite:   summary + "ですね。" + categoryLabel + "として保存しました。",
			Friendly: summary + "だね。" + categoryLabel + "として保存したよ。",
			Concise:  summary + "を" + categoryLabel + "で保存しました。",
		},
	}, o.Tone, o.Seed)
}

// ConfirmTaskOrMemo asks whether an ambiguous utterance is a task or memo.
func ConfirmTaskOrMemo(summary string, o Opts) string {
	return PickVariant("confirm_task_or_memo", []ToneVariant{
		{
			Polite:   summary + "ですね。これはタスクにしますか？メモにしますか？",
			Friendly: summary + "だね。タスクにする？ それともメモにする？",
			Concise:  summary + "はタスクですか？ メモですか？",
		},
		{
			Polite:   summary + "ですね。区分を選んでください。タスク / メモ",
			Friendly: summary + "だね。どっちで残す？ タスク / メモ",
			Concise:  summary + "の区分を選択してください。タスク / メモ",
		},
	}, o.Tone, o.Seed)
}

// ConfirmDueChoice asks how to handle the due date of a new task.
func ConfirmDueChoice(summary string, o Opts) string {
	return PickVariant("confirm_due_choice", []ToneVariant{
		{
			Polite:   summary + "ですね。期日はどうしますか？ 設定する / 設定しない / 後で設定する",
			Friendly: summary + "だね。期日はどうする？ 設定する / 設定しない / 後で設定する",
			Concise:  summary + "の期日を選択してください。設定する / 設定しない / 後で設定する",
		},
		{
			Polite:   summary + "ですね。期日の扱いを選んでください。設定する / 設定しない / 後で設定する",
			Friendly: summary + "だね。期日を決める？ それとも保留にする？",
			Concise:  summary + "の期日設定: 設定する / 設定しない / 後で設定する",
		},
	}, o.Tone, o.Seed)
}

// ConfirmDateOnlyTime proposes the defaulted time for a date-only due.
func ConfirmDateOnlyTime(dateLabel string, o Opts) string {
	return PickVariant("confirm_date_only_time", []ToneVariant{
		{
			Polite:   "期限を" + dateLabel + "（既定時刻）で設定します。よければ○、変更する場合は✕を選んでください。",
			Friendly: dateLabel + "（既定時刻）で設定しようと思うけど、OKなら○、変更なら✕を選んでね。",
			Concise:  dateLabel + "（既定時刻）で設定します。○=確定 / ✕=変更",
		},
		{
			Polite:   "期限候補は" + dateLabel + "（既定時刻）です。○で確定、✕で時刻変更できます。",
			Friendly: "いまは" + dateLabel + "（既定時刻）で提案中。○でそのまま、✕で変更できるよ。",
			Concise:  "期限候補: " + dateLabel + "（既定時刻）。○で確定、✕で変更。",
		},
	}, o.Tone, o.Seed)
}

// AskDueInput prompts for a free-text due date.
func AskDueInput(summary string, o Opts) string {
	return PickVariant("ask_due_input", []ToneVariant{
		{
			Polite:   summary + "ですね。期限の日時を入力してください。例: 来週金曜15時",
			Friendly: summary + "だね。期限日時を教えて。例: 来週金曜15時",
			Concise:  summary + "の期限日時を入力してください。例: 来週金曜15時",
		},
		{
			Polite:   summary + "ですね。期限を自然言語で入力してください。例: 来週金曜15時",
			Friendly: summary + "だね。いつまでか自然文で入力してね。例: 来週金曜15時",
			Concise:  summary + "の期限入力を受け付けます。例: 来週金曜15時",
		},
	}, o.Tone, o.Seed)
}

// AskTargetConfirm asks whether the named task is the intended target.
func AskTargetConfirm(title string, o Opts) string {
	return PickVariant("ask_target_confirm", []ToneVariant{
		{
			Polite:   "対象タスクは「" + title + "」で良いですか？（○/✕）",
			Friendly: "対象は「" + title + "」で合ってる？（○/✕）",
			Concise:  "対象タスク: 「" + title + "」。○/✕で回答してください。",
		},
		{
			Polite:   "「" + title + "」を対象にしますか？ ○/✕ を選んでください。",
			Friendly: "「" + title + "」を対象にしていい？ ○か✕で教えて。",
			Concise:  "対象確認: 「" + title + "」でよければ○、違えば✕。",
		},
	}, o.Tone, o.Seed)
}

// ReminderAdjusted confirms a reminder lead-time change.
func ReminderAdjusted(title string, offsetMinutes int, o Opts) string {
	m := fmt.Sprintf("%d", offsetMinutes)
	return PickVariant("reminder_adjusted", []ToneVariant{
		{
			Polite:   title + "のリマインドを" + m + "分前に調整しました。",
			Friendly: title + "のリマインドを" + m + "分前に調整しておいたよ。",
			Concise:  title + "のリマインドを" + m + "分前へ更新しました。",
		},
		{
			Polite:   title + "は" + m + "分前通知に変更しました。",
			Friendly: title + "は" + m + "分前に通知するよう変更したよ。",
			Concise:  title + "を" + m + "分前通知に変更しました。",
		},
	}, o.Tone, o.Seed)
}

func EmptyInput(o Opts) string {
	return PickVariant("empty_input", []ToneVariant{
		{
			Polite:   "入力が空です。内容を入力してから送信してください。",
			Friendly: "入力が空みたい。ひとこと入れてから送ってね。",
			Concise:  "入力が空です。内容を入力してください。",
		},
	}, o.Tone, o.Seed)
}

func InvalidContext(o Opts) string {
	return PickVariant("invalid_context", []ToneVariant{
		{
			Polite:   "確認状態が不正です。もう一度入力してください。",
			Friendly: "確認フローが切れてしまいました。もう一度入力してね。",
			Concise:  "確認状態が無効です。再入力してください。",
		},
	}, o.Tone, o.Seed)
}

func ChooseTaskOrMemo(o Opts) string {
	return PickVariant("choose_task_or_memo", []ToneVariant{
		{
			Polite:   "タスクかメモかを選んでください。（タスク / メモ）",
			Friendly: "タスクかメモか、どちらかを選んでね。（タスク / メモ）",
			Concise:  "タスク / メモ を選択してください。",
		},
	}, o.Tone, o.Seed)
}

// ChooseMemoCategory prompts for a memo category; suggested may be empty.
func ChooseMemoCategory(suggested string, o Opts) string {
	suffix := ""
	if suggested != "" {
		suffix = "候補は" + suggested + "です。"
	}
	return withDetail(PickVariant("choose_memo_category", []ToneVariant{
		{
			Polite:   "メモの分類を選んでください。（やりたいこと / アイデア / メモ（雑多））",
			Friendly: "メモの種類を選んでね。（やりたいこと / アイデア / メモ（雑多））",
			Concise:  "メモ分類を選択してください。（やりたいこと / アイデア / メモ（雑多））",
		},
	}, o.Tone, o.Seed), suffix)
}

func DueParseFailed(o Opts) string {
	return PickVariant("due_parse_failed", []ToneVariant{
		{
			Polite:   "期限を日時で解釈できませんでした。例: 来週金曜15時",
			Friendly: "期限をうまく読み取れなかったよ。例: 来週金曜15時",
			Concise:  "期限日時を解釈できません。例: 来週金曜15時",
		},
	}, o.Tone, o.Seed)
}

func ChooseDueChoice(o Opts) string {
	return PickVariant("choose_due_choice", []ToneVariant{
		{
			Polite:   "期日の選択肢を選んでください。（設定する / 設定しない / 後で設定する）",
			Friendly: "期日の選択肢を選んでね。（設定する / 設定しない / 後で設定する）",
			Concise:  "期日選択: 設定する / 設定しない / 後で設定する",
		},
	}, o.Tone, o.Seed)
}

func TimeParseFailed(o Opts) string {
	return PickVariant("time_parse_failed", []ToneVariant{
		{
			Polite:   "時刻を解釈できませんでした。例: 18時 / 18:30",
			Friendly: "時刻を読み取れなかったよ。例: 18時 / 18:30",
			Concise:  "時刻解釈に失敗しました。例: 18時 / 18:30",
		},
	}, o.Tone, o.Seed)
}

func InvalidProposedDue(o Opts) string {
	return PickVariant("invalid_proposed_due", []ToneVariant{
		{
			Polite:   "提案された期限が無効です。もう一度入力してください。",
			Friendly: "提案した期限が使えない状態です。もう一度入力してね。",
			Concise:  "提案期限が無効です。再入力してください。",
		},
	}, o.Tone, o.Seed)
}

func AskCustomTime(o Opts) string {
	return PickVariant("ask_custom_time", []ToneVariant{
		{
			Polite:   "希望する時刻を入力してください。例: 18時 / 18:30",
			Friendly: "希望の時刻を教えてね。例: 18時 / 18:30",
			Concise:  "希望時刻を入力してください。例: 18時 / 18:30",
		},
	}, o.Tone, o.Seed)
}

func ChooseCircleCross(o Opts) string {
	return PickVariant("choose_circle_cross", []ToneVariant{
		{
			Polite:   "○ か ✕ を選択してください。",
			Friendly: "○ か ✕ のどちらかを選んでね。",
			Concise:  "○ または ✕ を選択してください。",
		},
	}, o.Tone, o.Seed)
}

func TargetResolveFailed(o Opts) string {
	return PickVariant("target_resolve_failed", []ToneVariant{
		{
			Polite:   "対象タスクを特定できませんでした。タスク名をもう少し詳しく入力してください。",
			Friendly: "対象タスクを特定できなかったよ。もう少し詳しくタスク名を教えて。",
			Concise:  "対象タスクを特定できません。タスク名を詳しく入力してください。",
		},
	}, o.Tone, o.Seed)
}

func AskTargetName(o Opts) string {
	return PickVariant("ask_target_name", []ToneVariant{
		{
			Polite:   "対象タスク名を入力してください。",
			Friendly: "対象タスク名を入力してね。",
			Concise:  "対象タスク名を入力してください。",
		},
	}, o.Tone, o.Seed)
}

func NoScheduledTask(o Opts) string {
	return PickVariant("no_scheduled_task", []ToneVariant{
		{
			Polite:   "対象になる期限付きタスクがありません。先にタスクを登録してください。",
			Friendly: "期限付きタスクが見つからなかったよ。先にタスクを登録してね。",
			Concise:  "期限付きタスクがありません。先に登録してください。",
		},
	}, o.Tone, o.Seed)
}

func MissingDueForTask(o Opts) string {
	return PickVariant("missing_due_for_task", []ToneVariant{
		{
			Polite:   "このタスクには期限がありません。",
			Friendly: "このタスクには期限がまだないよ。",
			Concise:  "このタスクは期限未設定です。",
		},
	}, o.Tone, o.Seed)
}

func ReclassifyTargetMissing(o Opts) string {
	return PickVariant("reclassify_target_missing", []ToneVariant{
		{
			Polite:   "再分類対象が見つかりませんでした。",
			Friendly: "再分類する対象が見つからなかったよ。",
			Concise:  "再分類対象が見つかりません。",
		},
	}, o.Tone, o.Seed)
}

func ReclassifiedToTask(title string, o Opts) string {
	return PickVariant("reclassified_to_task", []ToneVariant{
		{
			Polite:   title + "をタスクに変更しました。",
			Friendly: title + "をタスクに切り替えたよ。",
			Concise:  title + "をタスクへ変更しました。",
		},
	}, o.Tone, o.Seed)
}

func ReclassifiedToMemo(title string, o Opts) string {
	return PickVariant("reclassified_to_memo", []ToneVariant{
		{
			Polite:   title + "をメモに変更しました。",
			Friendly: title + "をメモに切り替えたよ。",
			Concise:  title + "をメモへ変更しました。",
		},
	}, o.Tone, o.Seed)
}

func ReclassifyIntentUnknown(o Opts) string {
	return PickVariant("reclassify_intent_unknown", []ToneVariant{
		{
			Polite:   "再分類の意図を解釈できませんでした。",
			Friendly: "再分類の意図を読み取れなかったよ。",
			Concise:  "再分類意図を解釈できません。",
		},
	}, o.Tone, o.Seed)
}

func PastDueNotAllowed(o Opts) string {
	return PickVariant("past_due_not_allowed", []ToneVariant{
		{
			Polite:   "過去日時は設定できません。期限をもう一度指定してください。",
			Friendly: "過去の日時は設定できないよ。期限をもう一度指定してね。",
			Concise:  "過去日時は設定不可です。期限を再指定してください。",
		},
	}, o.Tone, o.Seed)
}

func DetailRemindAt(dateLabel string, o Opts) string {
	return PickVariant("detail_remind_at", []ToneVariant{
		{
			Polite:   dateLabel + "にリマインドします。",
			Friendly: dateLabel + "にリマインドするね。",
			Concise:  "通知時刻は" + dateLabel + "です。",
		},
	}, o.Tone, o.Seed)
}

func DetailNoDue(o Opts) string {
	return PickVariant("detail_no_due", []ToneVariant{
		{
			Polite:   "期日なしで登録しました。",
			Friendly: "期日なしで登録しておいたよ。",
			Concise:  "期日なしで登録しました。",
		},
	}, o.Tone, o.Seed)
}

func DetailPendingDue(o Opts) string {
	return PickVariant("detail_pending_due", []ToneVariant{
		{
			Polite:   "後で期日設定するタスクとして保存しました。",
			Friendly: "あとで期日を決めるタスクとして保存しておいたよ。",
			Concise:  "後で期日設定するタスクとして保存しました。",
		},
	}, o.Tone, o.Seed)
}

func DetailAppliedSuggestedTime(o Opts) string {
	return PickVariant("detail_applied_suggested_time", []ToneVariant{
		{
			Polite:   "提案した時刻で設定しました。",
			Friendly: "提案した時刻で設定しておいたよ。",
			Concise:  "提案時刻で設定しました。",
		},
	}, o.Tone, o.Seed)
}

func DetailSetAt(dateLabel string, o Opts) string {
	return PickVariant("detail_set_at", []ToneVariant{
		{
			Polite:   dateLabel + "に設定しました。",
			Friendly: dateLabel + "に設定したよ。",
			Concise:  "設定時刻は" + dateLabel + "です。",
		},
	}, o.Tone, o.Seed)
}

// ErrorMessage wraps a reason in a generic failure phrasing.
func ErrorMessage(reason string, o Opts) string {
	return PickVariant("generic_error", []ToneVariant{
		{
			Polite:   "処理できませんでした。" + reason,
			Friendly: "うまく処理できなかったよ。" + reason,
			Concise:  "処理失敗: " + reason,
		},
	}, o.Tone, o.Seed)
}

// MemoCategoryLabel renders the display label for a memo category.
func MemoCategoryLabel(category models.MemoCategory) string {
	switch category {
	case models.CategoryWant:
		return "やりたいこと"
	case models.CategoryIdea:
		return "アイデア"
	default:
		return "メモ（雑多）"
	}
}
