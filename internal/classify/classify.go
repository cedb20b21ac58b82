// Package classify scores raw Japanese utterances into task/memo/ambiguous
// plus a memo sub-category. All functions are pure and deterministic.
package classify

import (
	"regexp"
	"strings"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

// Strong task verbs and constraint words. Each hit adds to the task score.
var strongTaskHints = []string{
	"リマインド",
	"通知",
	"までに",
	"期限",
	"締切",
	"〆切",
	"忘れない",
	"しなきゃ",
	"しないと",
	"連絡",
	"提出",
	"返信",
	"送付",
	"支払い",
	"予約",
}

// Closed set of short chore nouns that read as tasks even without a verb.
var taskNounHints = []string{
	"洗濯",
	"掃除",
	"買い物",
	"ゴミ出し",
	"皿洗い",
	"片付け",
	"請求書送付",
	"請求書提出",
}

var memoHints = []string{
	"感想",
	"記録",
	"メモ",
	"覚え",
	"アイデア",
	"観察",
	"振り返り",
	"残して",
	"ログ",
	"雑記",
}

var wantHints = []string{"したい", "しておきたい", "取りたい", "なりたい", "目標", "やりたい", "てみたい"}

var ideaHints = []string{"アイデア", "案", "改善", "工夫", "ひらめき", "思いつき"}

var (
	spaceRe      = regexp.MustCompile(`\s+`)
	punctRe      = regexp.MustCompile(`[\s。、！？!?.]`)
	taskPrefixRe = regexp.MustCompile(`(?i)^(タスク|todo)\s*[:：]?`)
	memoPrefixRe = regexp.MustCompile(`(?i)^(メモ|memo|アイデア|やりたいこと)\s*[:：]?`)

	// Desire forms. The lookalike epistemic 〜みたい ("looks like") is excluded
	// below; 〜てみたい ("want to try") still counts.
	wantFormRe = regexp.MustCompile(`(行きたい|いきたい|読みたい|よみたい|書きたい|かきたい|見たい|みたい|作りたい|つくりたい|食べたい|たべたい|試したい|ためしたい|学びたい|まなびたい)`)
	mitaiRe    = regexp.MustCompile(`[^て]みたい`)

	clockTimeRe = regexp.MustCompile(`\d{1,2}\s*[:：]\s*\d{1,2}|\d{1,2}\s*時`)
	numDateRe   = regexp.MustCompile(`\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}/\d{1,2}|\d{1,2}月\s*\d{1,2}日`)
	relDateRe   = regexp.MustCompile(`明日|明後日|今日|来週|再来週|次の\s*[月火水木金土日]曜`)
)

const (
	weightDateCue   = 4
	weightHint      = 2
	weightSubWant   = 3
	weightSubIdea   = 3
	minWinningScore = 3
	shortCompactLen = 16
)

func normalize(text string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
}

// normalizeDigits folds full-width digits to ASCII so numeric cues match.
func normalizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, text)
}

func countHits(text string, hints []string) int {
	n := 0
	for _, h := range hints {
		if strings.Contains(text, h) {
			n++
		}
	}
	return n
}

func hasDateTimeCue(text string) bool {
	t := normalizeDigits(text)
	return clockTimeRe.MatchString(t) || numDateRe.MatchString(t) || relDateRe.MatchString(t)
}

func hasWantExpression(text string) bool {
	for _, h := range wantHints {
		if strings.Contains(text, h) {
			return true
		}
	}
	if wantFormRe.MatchString(text) {
		// 〜みたい without a preceding て is the "looks like" form, not desire.
		stripped := mitaiRe.ReplaceAllString(text, "")
		return wantFormRe.MatchString(stripped)
	}
	return false
}

// DetectMemoCategory derives a memo sub-category from desire and idea cues.
func DetectMemoCategory(text string) models.MemoCategory {
	normalized := normalize(text)
	if hasWantExpression(normalized) {
		return models.CategoryWant
	}
	if countHits(normalized, ideaHints) > 0 {
		return models.CategoryIdea
	}
	return models.CategoryMisc
}

// Classify scores text into task/memo/ambiguous. Explicit prefixes bypass
// scoring entirely; ties and weak signals always resolve to ambiguous.
func Classify(text string) models.ClassificationResult {
	normalized := normalize(text)
	if normalized == "" {
		return models.ClassificationResult{
			Kind:       models.ClassAmbiguous,
			Confidence: 0,
			Reason:     "empty",
		}
	}

	if taskPrefixRe.MatchString(normalized) {
		return models.ClassificationResult{
			Kind:       models.ClassTask,
			Confidence: 0.98,
			Reason:     "explicit_task_prefix",
		}
	}
	if memoPrefixRe.MatchString(normalized) {
		return models.ClassificationResult{
			Kind:         models.ClassMemo,
			MemoCategory: DetectMemoCategory(normalized),
			Confidence:   0.95,
			Reason:       "explicit_memo_prefix",
		}
	}

	var taskScore, memoScore, wantScore, ideaScore int

	if hasDateTimeCue(normalized) {
		taskScore += weightDateCue
	}
	taskScore += weightHint * countHits(normalized, strongTaskHints)
	taskScore += weightHint * countHits(normalized, taskNounHints)

	memoScore += weightHint * countHits(normalized, memoHints)
	if hasWantExpression(normalized) {
		memoScore += weightSubWant
		wantScore += weightSubWant
	}
	if n := countHits(normalized, ideaHints); n > 0 {
		memoScore += weightHint * n
		ideaScore += weightSubIdea
	}

	maxScore := taskScore
	if memoScore > maxScore {
		maxScore = memoScore
	}
	diff := taskScore - memoScore
	if diff < 0 {
		diff = -diff
	}

	if maxScore < minWinningScore || diff <= 1 {
		compact := punctRe.ReplaceAllString(normalized, "")
		if taskScore == 0 && memoScore == 0 && len([]rune(compact)) <= shortCompactLen {
			return models.ClassificationResult{
				Kind:       models.ClassAmbiguous,
				Confidence: 0.45,
				Reason:     "short_unclear",
			}
		}
		return models.ClassificationResult{
			Kind:       models.ClassAmbiguous,
			Confidence: 0.4,
			Reason:     "fallback_ambiguous",
		}
	}

	confidence := 0.55 + float64(maxScore)*0.08
	if confidence > 0.95 {
		confidence = 0.95
	}

	if taskScore > memoScore {
		return models.ClassificationResult{
			Kind:       models.ClassTask,
			Confidence: confidence,
			Reason:     "task_cue",
		}
	}

	category := models.CategoryMisc
	if wantScore >= weightSubWant && wantScore >= ideaScore {
		category = models.CategoryWant
	} else if ideaScore >= weightSubIdea {
		category = models.CategoryIdea
	}

	return models.ClassificationResult{
		Kind:         models.ClassMemo,
		MemoCategory: category,
		Confidence:   confidence,
		Reason:       "memo_cue",
	}
}
