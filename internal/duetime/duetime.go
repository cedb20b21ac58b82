// Package duetime resolves Japanese natural-language date/time expressions
// and reminder lead-time offsets. All functions are pure.
package duetime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

// Options controls due resolution. Now defaults to the wall clock and
// DefaultDueTime ("HH:MM") fills in when the text carries no clock time.
type Options struct {
	Now            time.Time
	DefaultDueTime string
}

var weekdayMap = map[string]time.Weekday{
	"日": time.Sunday,
	"月": time.Monday,
	"火": time.Tuesday,
	"水": time.Wednesday,
	"木": time.Thursday,
	"金": time.Friday,
	"土": time.Saturday,
}

var (
	weekdayRe     = regexp.MustCompile(`(来週|再来週|次の)\s*([月火水木金土日])曜`)
	ymdRe         = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	jpMDRe        = regexp.MustCompile(`(\d{1,2})月\s*(\d{1,2})日`)
	mdRe          = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	bareTimeRe    = regexp.MustCompile(`\d{1,2}\s*時|\d{1,2}\s*[:：]\s*\d{1,2}|正午`)
	colonTimeRe   = regexp.MustCompile(`(午前|午後)?\s*(\d{1,2})\s*[:：]\s*(\d{1,2})`)
	hourMinRe     = regexp.MustCompile(`(午前|午後)?\s*(\d{1,2})\s*時\s*(\d{1,2})\s*分`)
	hourOnlyRe    = regexp.MustCompile(`(午前|午後)?\s*(\d{1,2})\s*時`)
	defaultTimeRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	hoursBeforeRe = regexp.MustCompile(`(\d+)\s*時間前`)
	minsBeforeRe  = regexp.MustCompile(`(\d+)\s*分前`)
	dayBeforeRe   = regexp.MustCompile(`前日|1日前`)
	sameDayRe     = regexp.MustCompile(`時間ちょうど|ちょうど|当日`)
)

// normalizeDigits folds full-width digits to ASCII and full-width spaces to
// plain spaces before any numeric matching.
func normalizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '０' && r <= '９':
			return r - '０' + '0'
		case r == '　':
			return ' '
		}
		return r
	}, text)
}

func adjustByMeridiem(meridiem string, hour int) int {
	if meridiem == "午後" && hour < 12 {
		return hour + 12
	}
	if meridiem == "午前" && hour == 12 {
		return 0
	}
	return hour
}

func clampHour(h int) int {
	if h > 23 {
		return 23
	}
	return h
}

func clampMinute(m int) int {
	if m > 59 {
		return 59
	}
	return m
}

type parsedTime struct {
	hours    int
	minutes  int
	provided bool
}

func parseTime(text string) parsedTime {
	if m := colonTimeRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[2])
		min, _ := strconv.Atoi(m[3])
		return parsedTime{clampHour(adjustByMeridiem(m[1], h)), clampMinute(min), true}
	}
	if m := hourMinRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[2])
		min, _ := strconv.Atoi(m[3])
		return parsedTime{clampHour(adjustByMeridiem(m[1], h)), clampMinute(min), true}
	}
	if m := hourOnlyRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[2])
		return parsedTime{clampHour(adjustByMeridiem(m[1], h)), 0, true}
	}
	if strings.Contains(text, "正午") {
		return parsedTime{12, 0, true}
	}
	return parsedTime{9, 0, false}
}

// DefaultTimeOfDay parses a configured "HH:MM" default due time, falling
// back to 09:00 on empty or malformed input.
func DefaultTimeOfDay(defaultDueTime string) (hour, minute int) {
	return parseDefaultTime(defaultDueTime)
}

func parseDefaultTime(defaultDueTime string) (int, int) {
	if defaultDueTime == "" {
		return 9, 0
	}
	m := defaultTimeRe.FindStringSubmatch(defaultDueTime)
	if m == nil {
		return 9, 0
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	return clampHour(h), clampMinute(min)
}

func dateAt(base time.Time, daysToAdd int) time.Time {
	return base.AddDate(0, 0, daysToAdd)
}

// parseDate resolves the date component. Resolution order: relative-day
// keywords, weekday-relative phrases, explicit numeric dates, then a bare
// time expression implying today.
func parseDate(text string, now time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(text, "明後日"):
		return dateAt(now, 2), true
	case strings.Contains(text, "明日"):
		return dateAt(now, 1), true
	case strings.Contains(text, "今日"):
		return dateAt(now, 0), true
	}

	if m := weekdayRe.FindStringSubmatch(text); m != nil {
		target := weekdayMap[m[2]]
		delta := int(target) - int(now.Weekday())
		if delta <= 0 {
			delta += 7
		}
		switch m[1] {
		case "来週":
			delta += 7
		case "再来週":
			delta += 14
		}
		return dateAt(now, delta), true
	}

	if m := ymdRe.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location()), true
	}

	if m := jpMDRe.FindStringSubmatch(text); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		candidate := time.Date(now.Year(), time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if candidate.Before(now) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}

	if m := mdRe.FindStringSubmatch(text); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		candidate := time.Date(now.Year(), time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if candidate.Before(now) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		return candidate, true
	}

	if bareTimeRe.MatchString(text) {
		return dateAt(now, 0), true
	}

	return time.Time{}, false
}

// FormatDateLabel renders a resolved instant as a compact display label.
func FormatDateLabel(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d %02d:%02d", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute())
}

// ParseDueFromText resolves a due date/time from free text. It returns nil
// when no date expression is present. When the text carries no clock time,
// the configured default time is substituted and the result is date-only.
func ParseDueFromText(text string, opts Options) *models.ParsedDue {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	normalized := normalizeDigits(text)
	date, ok := parseDate(normalized, now)
	if !ok {
		return nil
	}

	detected := parseTime(normalized)
	hours, minutes := detected.hours, detected.minutes
	if !detected.provided {
		hours, minutes = parseDefaultTime(opts.DefaultDueTime)
	}

	due := time.Date(date.Year(), date.Month(), date.Day(), hours, minutes, 0, 0, now.Location())

	return &models.ParsedDue{
		DateOnly:     !detected.provided,
		DueAt:        due,
		DateLabel:    FormatDateLabel(due),
		TimeProvided: detected.provided,
	}
}

// IsPast reports whether t is strictly before now. An instant exactly at
// now is acceptable.
func IsPast(t, now time.Time) bool {
	return t.Before(now)
}

// ParseOffsetText recognizes reminder lead-time phrases. A nil result means
// the text is not an offset-adjustment utterance.
func ParseOffsetText(text string) *models.ParsedOffset {
	normalized := normalizeDigits(strings.TrimSpace(text))

	if m := hoursBeforeRe.FindStringSubmatch(normalized); m != nil {
		n, _ := strconv.Atoi(m[1])
		return &models.ParsedOffset{OffsetMinutes: n * 60, Source: m[0]}
	}
	if m := minsBeforeRe.FindStringSubmatch(normalized); m != nil {
		n, _ := strconv.Atoi(m[1])
		return &models.ParsedOffset{OffsetMinutes: n, Source: m[0]}
	}
	if dayBeforeRe.MatchString(normalized) {
		return &models.ParsedOffset{OffsetMinutes: 1440, Source: "前日"}
	}
	if sameDayRe.MatchString(normalized) {
		return &models.ParsedOffset{OffsetMinutes: 0, Source: "当日"}
	}
	return nil
}

// ApplyOffset subtracts offsetMinutes from the base instant.
func ApplyOffset(base time.Time, offsetMinutes int) time.Time {
	return base.Add(-time.Duration(offsetMinutes) * time.Minute)
}
