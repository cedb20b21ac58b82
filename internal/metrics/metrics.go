package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_turns_processed_total",
			Help: "Total conversation turns processed, by resulting action type",
		},
		[]string{"action_type"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kaiwa_turn_duration_seconds",
			Help:    "Conversation turn processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContextsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaiwa_contexts_expired_total",
			Help: "Conversation contexts discarded after TTL expiry",
		},
	)

	PendingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_pending_transitions_total",
			Help: "State machine transitions into a pending confirmation state",
		},
		[]string{"pending_type"},
	)

	// Record metrics
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_tasks_created_total",
			Help: "Tasks and memos persisted, by kind",
		},
		[]string{"kind"},
	)

	RemindersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaiwa_reminders_created_total",
			Help: "Reminders created",
		},
	)

	RemindersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaiwa_reminders_fired_total",
			Help: "Reminders fired by the scan loop",
		},
	)

	// AI provider metrics
	AIProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_ai_provider_calls_total",
			Help: "Calls issued to the AI provider, by operation",
		},
		[]string{"operation"},
	)

	AIProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_ai_provider_failures_total",
			Help: "AI provider calls that failed or returned malformed payloads",
		},
		[]string{"operation"},
	)

	AIFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaiwa_ai_fallbacks_total",
			Help: "Turns where the deterministic result was kept because the AI opinion was absent or rejected",
		},
		[]string{"operation"},
	)
)
