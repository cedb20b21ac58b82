package ai

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kotonoha-app/kaiwa/internal/metrics"
	"github.com/kotonoha-app/kaiwa/internal/models"
	"github.com/kotonoha-app/kaiwa/internal/summary"
)

// OpenAIConfig configures the OpenAI-backed providers.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	RateLimit rate.Limit // requests per second across all providers; 0 = unlimited
	Burst     int
}

// OpenAIProvider implements Classifier, DueParser, and Summarizer against
// the chat completions API. All failures are reported as errors and
// absorbed by the engine's fallback paths.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider builds the provider. It returns nil when no API key is
// configured, which callers treat as "provider absent".
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.APIKey == "" {
		return nil
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst == 0 {
		burst = 1
	}
	return &OpenAIProvider{
		client:  openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   model,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

var fencedJSONRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON pulls a JSON object out of a model reply, tolerating fenced
// code blocks and surrounding prose.
func extractJSON(raw string) gjson.Result {
	trimmed := strings.TrimSpace(raw)
	if m := fencedJSONRe.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}
	if !gjson.Valid(trimmed) {
		return gjson.Result{}
	}
	return gjson.Parse(trimmed)
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Classify asks the model for a second classification opinion.
func (p *OpenAIProvider) Classify(ctx context.Context, text string, facts ClassificationFacts) (*models.ClassificationResult, error) {
	metrics.AIProviderCalls.WithLabelValues("classify").Inc()
	prompt := strings.Join([]string{
		"次の発話を task / memo / ambiguous に分類してください。",
		"memo の場合は memoCategory を want / idea / misc から必ず1つ選んでください。",
		"task / ambiguous の場合 memoCategory は null。",
		"不明なら ambiguous を選ぶ。",
		"ただし願望・希望（〜たい、〜してみたい等）は memo(want) を優先。",
		"出力はJSONのみ。",
		fmt.Sprintf("ruleKind=%s", facts.RuleKind),
		fmt.Sprintf("ruleReason=%s", facts.RuleReason),
		fmt.Sprintf("ruleConfidence=%.2f", facts.RuleConfidence),
		"input=" + text,
		"JSON schema:",
		`{"kind":"task|memo|ambiguous","memoCategory":"want|idea|misc|null","confidence":0.0,"reason":"short"}`,
	}, "\n")

	raw, err := p.complete(ctx, "あなたは分類器です。JSON以外は返答しません。", prompt, 0)
	if err != nil {
		metrics.AIProviderFailures.WithLabelValues("classify").Inc()
		p.logger.Warn("ai classification failed", zap.Error(err))
		return nil, err
	}

	doc := extractJSON(raw)
	if !doc.Exists() {
		metrics.AIProviderFailures.WithLabelValues("classify").Inc()
		return nil, fmt.Errorf("classification payload not valid JSON")
	}

	kind := models.ClassifiedKind(doc.Get("kind").String())
	conf := doc.Get("confidence").Float()
	reason := doc.Get("reason").String()
	if (kind != models.ClassTask && kind != models.ClassMemo && kind != models.ClassAmbiguous) ||
		conf < 0 || conf > 1 || reason == "" {
		metrics.AIProviderFailures.WithLabelValues("classify").Inc()
		return nil, fmt.Errorf("classification payload malformed")
	}

	result := &models.ClassificationResult{
		Kind:       kind,
		Confidence: conf,
		Reason:     "ai_" + reason,
	}
	if kind == models.ClassMemo {
		switch models.MemoCategory(doc.Get("memoCategory").String()) {
		case models.CategoryWant:
			result.MemoCategory = models.CategoryWant
		case models.CategoryIdea:
			result.MemoCategory = models.CategoryIdea
		default:
			result.MemoCategory = models.CategoryMisc
		}
	}
	return result, nil
}

// ParseDue asks the model to extract a due-date candidate. An invalid
// payload comes back as needs_confirmation rather than an error so the
// engine routes the user to the due-choice flow instead of guessing.
func (p *OpenAIProvider) ParseDue(ctx context.Context, text string, opts DueParseOptions) (*DueParseCandidate, error) {
	metrics.AIProviderCalls.WithLabelValues("due_parse").Inc()
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	defaultDueTime := opts.DefaultDueTime
	if defaultDueTime == "" {
		defaultDueTime = "09:00"
	}
	prompt := strings.Join([]string{
		"入力文から期限候補を抽出してください。JSON以外を返さないこと。",
		"ルール:",
		"- state は resolved / needs_confirmation / unparsable のいずれか",
		"- resolved の場合のみ dueAt(ISO8601 UTC) と timeProvided(boolean) を必須で返す",
		"- needs_confirmation/unparsable の場合 dueAt は null",
		"- 未確定情報を推測で補わない",
		"- 曖昧なら needs_confirmation",
		"defaultDueTime=" + defaultDueTime,
		"now=" + now.UTC().Format(time.RFC3339),
		"input=" + text,
		"schema:",
		`{"state":"resolved|needs_confirmation|unparsable","dueAt":"ISO8601 or null","timeProvided":true,"reason":"short"}`,
	}, "\n")

	raw, err := p.complete(ctx, "あなたは日時抽出器です。必ずJSONのみで返答します。", prompt, 0)
	if err != nil {
		metrics.AIProviderFailures.WithLabelValues("due_parse").Inc()
		p.logger.Warn("ai due parse failed", zap.Error(err))
		return nil, err
	}

	candidate := decodeDueCandidate(extractJSON(raw))
	if validated := ValidateDueParseCandidate(candidate); validated != nil {
		return validated, nil
	}

	// Malformed shape: force confirmation downstream, never guess.
	metrics.AIProviderFailures.WithLabelValues("due_parse").Inc()
	return &DueParseCandidate{
		State:  StateNeedsConfirmation,
		Reason: "ai_invalid_payload",
	}, nil
}

func decodeDueCandidate(doc gjson.Result) *DueParseCandidate {
	if !doc.Exists() {
		return nil
	}
	c := &DueParseCandidate{
		State:  CandidateState(doc.Get("state").String()),
		Reason: doc.Get("reason").String(),
	}
	if v := doc.Get("dueAt"); v.Exists() && v.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			c.DueAt = &t
		}
	}
	if v := doc.Get("timeProvided"); v.Exists() && (v.Type == gjson.True || v.Type == gjson.False) {
		b := v.Bool()
		c.TimeProvided = &b
	}
	return c
}

// Summarize asks the model for a display slot, normalizing the reply
// against the source text.
func (p *OpenAIProvider) Summarize(ctx context.Context, text string, facts SummaryFacts) (string, error) {
	metrics.AIProviderCalls.WithLabelValues("summary").Inc()
	dueAt := "none"
	if facts.DueAt != nil {
		dueAt = facts.DueAt.UTC().Format(time.RFC3339)
	}
	prompt := strings.Join([]string{
		"あなたは入力文の要約スロット(〇〇部分)のみを作る補助です。",
		"制約:",
		"- 未確定の日時や対象を追加しない",
		"- 入力語句を可能な限り保持",
		"- 80文字以内",
		"- 要約スロットだけ返答",
		"kind=" + facts.Kind,
		"dueAt=" + dueAt,
		"input=" + text,
	}, "\n")

	raw, err := p.complete(ctx, "入力尊重で短すぎない要約スロットを生成してください。", prompt, 0.2)
	if err != nil {
		metrics.AIProviderFailures.WithLabelValues("summary").Inc()
		p.logger.Warn("ai summary failed", zap.Error(err))
		return "", err
	}
	return summary.NormalizeSummarySlot(raw, text), nil
}
