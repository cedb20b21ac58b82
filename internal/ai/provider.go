// Package ai defines the optional probabilistic providers consulted by the
// conversation engine. Providers are fallible oracles: a nil result or an
// error both mean "no opinion" and every caller must carry a deterministic
// fallback. No provider failure may surface to the end user.
package ai

import (
	"context"
	"time"

	"github.com/kotonoha-app/kaiwa/internal/duetime"
	"github.com/kotonoha-app/kaiwa/internal/models"
)

// ClassificationFacts gives the provider the deterministic rule's verdict
// as context for arbitration.
type ClassificationFacts struct {
	RuleKind       models.ClassifiedKind
	RuleReason     string
	RuleConfidence float64
}

// SummaryFacts describes what the summary slot will be used for.
type SummaryFacts struct {
	Kind  string // "task", "memo", or "confirm"
	DueAt *time.Time
}

// DueParseOptions parallels the deterministic parser's options.
type DueParseOptions struct {
	DefaultDueTime string
	Now            time.Time
}

// CandidateState is the due-parser provider's resolution outcome.
type CandidateState string

const (
	StateResolved          CandidateState = "resolved"
	StateNeedsConfirmation CandidateState = "needs_confirmation"
	StateUnparsable        CandidateState = "unparsable"
)

// DueParseCandidate is the raw provider payload before validation.
type DueParseCandidate struct {
	State        CandidateState
	DueAt        *time.Time
	TimeProvided *bool
	Reason       string
}

// Classifier is an optional second opinion on utterance classification.
type Classifier interface {
	Classify(ctx context.Context, text string, facts ClassificationFacts) (*models.ClassificationResult, error)
}

// DueParser is an optional natural-language due-date resolver.
type DueParser interface {
	ParseDue(ctx context.Context, text string, opts DueParseOptions) (*DueParseCandidate, error)
}

// Summarizer produces a short display slot for an utterance.
type Summarizer interface {
	Summarize(ctx context.Context, text string, facts SummaryFacts) (string, error)
}

// ValidateDueParseCandidate enforces the shape contract: resolved requires
// both a due instant and a time-provided flag; the other states forbid a
// due instant. A contradictory payload yields nil, which callers must treat
// as "force confirmation", never as a guess.
func ValidateDueParseCandidate(c *DueParseCandidate) *DueParseCandidate {
	if c == nil {
		return nil
	}
	switch c.State {
	case StateResolved:
		if c.DueAt == nil || c.TimeProvided == nil {
			return nil
		}
		out := *c
		if out.Reason == "" {
			out.Reason = "ai_resolved"
		}
		return &out
	case StateNeedsConfirmation, StateUnparsable:
		if c.DueAt != nil {
			return nil
		}
		out := *c
		if out.Reason == "" {
			out.Reason = "needs_confirmation"
		}
		return &out
	default:
		return nil
	}
}

// CandidateToParsedDue converts a validated resolved candidate into a
// ParsedDue, substituting the default time when the provider reports no
// explicit time, and rejecting instants already in the past.
func CandidateToParsedDue(c *DueParseCandidate, opts DueParseOptions) *models.ParsedDue {
	if c == nil || c.State != StateResolved || c.DueAt == nil {
		return nil
	}

	due := *c.DueAt
	timeProvided := c.TimeProvided != nil && *c.TimeProvided
	if !timeProvided {
		h, m := duetime.DefaultTimeOfDay(opts.DefaultDueTime)
		due = time.Date(due.Year(), due.Month(), due.Day(), h, m, 0, 0, due.Location())
	}

	if !opts.Now.IsZero() && due.Before(opts.Now) {
		return nil
	}

	return &models.ParsedDue{
		DateOnly:     !timeProvided,
		DueAt:        due,
		DateLabel:    duetime.FormatDateLabel(due),
		TimeProvided: timeProvided,
	}
}
