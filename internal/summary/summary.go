// Package summary derives and validates short display titles from raw
// utterances. Task titles additionally have scheduling language stripped.
package summary

import (
	"regexp"
	"strings"
)

const emptyPlaceholder = "内容の記録"

var stopWords = map[string]bool{
	"こと":   true,
	"です":   true,
	"ます":   true,
	"する":   true,
	"した":   true,
	"して":   true,
	"ください": true,
}

var (
	newlineRe = regexp.MustCompile(`[\n\r]+`)
	splitRe   = regexp.MustCompile(`[\s。、！？!?,:：]+`)

	// Leading due expressions removed from task titles, applied as a
	// fixed-point loop until none match at the front.
	leadingDueRes = []*regexp.Regexp{
		regexp.MustCompile(`^(明日|明後日|今日)`),
		regexp.MustCompile(`^(来週|再来週|次の)\s*[月火水木金土日]曜(日)?`),
		regexp.MustCompile(`^(来週|再来週)`),
		regexp.MustCompile(`^\d{4}[-/]\d{1,2}[-/]\d{1,2}`),
		regexp.MustCompile(`^\d{1,2}月\s*\d{1,2}日`),
		regexp.MustCompile(`^\d{1,2}/\d{1,2}`),
		regexp.MustCompile(`^(午前|午後)?\s*\d{1,2}\s*[:：]\s*\d{1,2}`),
		regexp.MustCompile(`^(午前|午後)?\s*\d{1,2}\s*時(\s*\d{1,2}\s*分)?(半)?`),
		regexp.MustCompile(`^正午`),
		regexp.MustCompile(`^(までに|まで|に|の)`),
		regexp.MustCompile(`^[\s、。]`),
	}

	trailingInstructionRe = regexp.MustCompile(
		`(を|と)?(リマインド|通知|登録|記録|保存|追加|タスクに|メモに)?(リマインドして|通知して|登録して|記録して|保存して|追加して|して)(ね|ください|下さい|おいて|くれ)?[。．\s]*$`)
	trailingPunctRe = regexp.MustCompile(`[。、．！？!?\s]+$`)
)

func tokenize(text string) []string {
	flattened := newlineRe.ReplaceAllString(text, " ")
	parts := splitRe.Split(flattened, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len([]rune(p)) >= 2 && !stopWords[p] {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// FallbackSummarySlot truncates raw input to a display-safe slot, or returns
// a fixed placeholder for empty input.
func FallbackSummarySlot(input string) string {
	normalized := strings.TrimSpace(newlineRe.ReplaceAllString(input, " "))
	if normalized == "" {
		return emptyPlaceholder
	}
	runes := []rune(normalized)
	if len(runes) <= 42 {
		return normalized
	}
	return string(runes[:40]) + "…"
}

// ValidateSummarySlot accepts a candidate slot when it is non-empty, short,
// single-line, and shares vocabulary with the source text.
func ValidateSummarySlot(candidate, source string) bool {
	value := strings.TrimSpace(candidate)
	if value == "" {
		return false
	}
	if len([]rune(value)) > 80 {
		return false
	}
	if strings.ContainsAny(value, "\n\r") {
		return false
	}

	sourceTokens := tokenize(source)
	if len(sourceTokens) == 0 {
		return true
	}
	for _, token := range sourceTokens {
		if strings.Contains(value, token) {
			return true
		}
	}
	return bigramOverlap(value, source)
}

// bigramOverlap checks whether any 2-rune window of the stripped source
// appears in the candidate. Catches valid slots the token check misses when
// the source runs together without delimiters.
func bigramOverlap(candidate, source string) bool {
	stripped := splitRe.ReplaceAllString(source, "")
	runes := []rune(stripped)
	if len(runes) < 2 {
		return false
	}
	for i := 0; i+2 <= len(runes); i++ {
		if strings.Contains(candidate, string(runes[i:i+2])) {
			return true
		}
	}
	return false
}

// NormalizeSummarySlot validates the candidate against the source, falling
// back to a truncation of the source when it fails.
func NormalizeSummarySlot(candidate, source string) string {
	cleaned := strings.TrimSpace(newlineRe.ReplaceAllString(candidate, " "))
	if !ValidateSummarySlot(cleaned, source) {
		return FallbackSummarySlot(source)
	}
	return cleaned
}

// normalizeDigits folds full-width digits so date patterns match.
func normalizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return r - '０' + '0'
		}
		return r
	}, text)
}

// stripDueExpressions removes leading date/time language and trailing
// instruction phrases from text.
func stripDueExpressions(text string) string {
	stripped := normalizeDigits(strings.TrimSpace(text))

	for {
		before := stripped
		for _, re := range leadingDueRes {
			stripped = re.ReplaceAllString(stripped, "")
		}
		stripped = strings.TrimSpace(stripped)
		if stripped == before {
			break
		}
	}

	stripped = trailingInstructionRe.ReplaceAllString(stripped, "")
	stripped = trailingPunctRe.ReplaceAllString(stripped, "")
	return strings.TrimSpace(stripped)
}

// NormalizeTaskTitle produces a task title free of scheduling language.
// It prefers the stripped source text when reasonably sized, then the
// stripped normalized slot, then the normalized slot as-is.
func NormalizeTaskTitle(slot, source string) string {
	strippedSource := stripDueExpressions(source)
	if n := len([]rune(strippedSource)); n >= 2 && n <= 80 {
		return strippedSource
	}

	normalized := NormalizeSummarySlot(slot, source)
	strippedSlot := stripDueExpressions(normalized)
	if n := len([]rune(strippedSlot)); n >= 2 && n <= 80 {
		return strippedSlot
	}
	return normalized
}
