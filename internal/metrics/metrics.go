package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_contributions_total",
			Help: "Total number of contribution attempts by outcome.",
		},
		[]string{"status"}, // accepted, rejected_busy, invalid, error
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_generations_total",
			Help: "Total number of finished generation turns by outcome.",
		},
		[]string{"status"}, // success, error, timeout, panic
	)

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyteller_generation_duration_seconds",
		Help:    "Duration of a generation turn from acceptance to lock release.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~2m
	})

	ImageGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_image_generations_total",
			Help: "Total number of image generation attempts by outcome.",
		},
		[]string{"status"},
	)

	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storyteller_active_subscribers",
		Help: "Number of live push subscribers across all sessions.",
	})

	PublishedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_published_events_total",
			Help: "Total number of events published to sessions by type.",
		},
		[]string{"type"},
	)

	DroppedSubscribers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_dropped_subscribers_total",
			Help: "Total number of subscribers dropped by the server by reason.",
		},
		[]string{"reason"},
	)

	MirrorDroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storyteller_mirror_dropped_events_total",
		Help: "Total number of story events dropped because the RabbitMQ mirror queue was full.",
	})
)

// RegisterStateGauges публикует текущее число выданных токенов и незавершенных
// задач генерации. Вызывается один раз при старте.
func RegisterStateGauges(users, activeTasks func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storyteller_users",
		Help: "Number of issued session tokens.",
	}, func() float64 { return float64(users()) })

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "storyteller_active_generation_tasks",
		Help: "Number of generation tasks that have not finished yet.",
	}, func() float64 { return float64(activeTasks()) })
}
