// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"time"

	"github.com/fgeck/gorsync-homelab/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts tasks reaching a state, by kind.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gorsync_tasks_total",
			Help: "Total number of tasks that entered a state",
		},
		[]string{"kind", "state"},
	)

	// QueueDepth is the number of tasks waiting for the worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gorsync_queue_depth",
			Help: "Number of queued tasks",
		},
	)

	// TaskDuration measures how long a task ran.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gorsync_task_duration_seconds",
			Help:    "Duration of finished tasks in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
		[]string{"kind", "state"},
	)

	// Generations is the number of generations at the target, by status.
	Generations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gorsync_generations",
			Help: "Number of backup generations by status",
		},
		[]string{"status"},
	)

	// LastBackupTimestamp is the unix time of the newest complete generation.
	LastBackupTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gorsync_last_backup_timestamp_seconds",
			Help: "Unix time of the newest complete generation",
		},
	)
)

// RecordTransition counts a task entering state.
func RecordTransition(kind models.TaskKind, state models.TaskState) {
	TasksTotal.WithLabelValues(string(kind), string(state)).Inc()
}

// RecordFinished observes the run time of a finished task.
func RecordFinished(kind models.TaskKind, state models.TaskState, d time.Duration) {
	TaskDuration.WithLabelValues(string(kind), string(state)).Observe(d.Seconds())
}

// RecordGenerations refreshes the generation gauges from a catalog listing.
func RecordGenerations(gens []models.Generation) {
	counts := map[models.GenerationStatus]int{
		models.StatusInProgress: 0,
		models.StatusComplete:   0,
		models.StatusFailed:     0,
	}
	var newest time.Time
	for _, g := range gens {
		counts[g.Status]++
		if g.IsComplete() && g.CreatedAt.After(newest) {
			newest = g.CreatedAt
		}
	}
	for status, n := range counts {
		Generations.WithLabelValues(string(status)).Set(float64(n))
	}
	if !newest.IsZero() {
		LastBackupTimestamp.Set(float64(newest.Unix()))
	}
}
