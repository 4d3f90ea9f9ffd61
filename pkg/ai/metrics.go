package ai

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"provider", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyteller_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyteller_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20), // 250, 500, ..., 5000
		},
		[]string{"provider", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyteller_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(25, 25, 20), // 25, 50, ..., 500
		},
		[]string{"provider", "model"},
	)
)

func observeUsage(provider, model string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		aiPromptTokens.WithLabelValues(provider, model).Observe(float64(promptTokens))
	}
	if completionTokens > 0 {
		aiCompletionTokens.WithLabelValues(provider, model).Observe(float64(completionTokens))
	}
}
