package generator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_generator_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "kind", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "content_generator_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"model", "kind"},
	)
	aiTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_generator_ai_tokens_total",
			Help: "Total number of AI tokens, partitioned by direction (prompt/completion) and whether the count was estimated locally.",
		},
		[]string{"model", "direction", "source"},
	)
	generationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_generator_retries_total",
			Help: "Total number of retried generation attempts.",
		},
		[]string{"kind"},
	)
)

func recordAIRequest(model, kind, status string, duration time.Duration) {
	aiRequestsTotal.WithLabelValues(model, kind, status).Inc()
	aiRequestDuration.WithLabelValues(model, kind).Observe(duration.Seconds())
}

func recordUsage(model string, usage UsageInfo) {
	source := "provider"
	if usage.Estimated {
		source = "estimated"
	}
	if usage.PromptTokens > 0 {
		aiTokens.WithLabelValues(model, "prompt", source).Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		aiTokens.WithLabelValues(model, "completion", source).Add(float64(usage.CompletionTokens))
	}
}
