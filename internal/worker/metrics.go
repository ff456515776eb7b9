package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stageStory   = "story"
	stageEpisode = "episode"
	stageImage   = "image"
)

var (
	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_worker_items_processed_total",
			Help: "Total number of stories, episodes and images processed by the stage workers.",
		},
		[]string{"stage", "status"}, // "success", "skipped", "error_generation", "error_storage", "error_publish"
	)
	itemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_worker_item_duration_seconds",
			Help:    "Duration of a single item generation including storage.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 240, 480},
		},
		[]string{"stage"},
	)
	workflowsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workflow_worker_workflows_completed_total",
		Help: "Total number of batch workflows that finished their last batch.",
	})
)

func recordItem(stage, status string) {
	itemsProcessed.WithLabelValues(stage, status).Inc()
}

func observeItem(stage string, start time.Time) {
	itemDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
