// Package metrics registers the Prometheus metrics of the background
// pipeline: task outcomes, durations, retries, and the volume of chunks and
// vectors moved through it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every ragindex metric.
const Namespace = "ragindex"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Pipeline holds the pipeline metrics. A nil *Pipeline is valid and records
// nothing, so components can be built without metrics in tests.
type Pipeline struct {
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksInFlight   prometheus.Gauge
	taskRetries     *prometheus.CounterVec
	chunksProcessed prometheus.Counter
	vectorsIndexed  prometheus.Counter
	ledgerSwept     prometheus.Counter
}

// NewPipeline registers the pipeline metrics against reg. Use a fresh
// prometheus.NewRegistry() in tests.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	factory := promauto.With(reg)

	return &Pipeline{
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tasks_total",
			Help:      "Pipeline task attempts, partitioned by task name and outcome.",
		}, []string{"task", "outcome"}),

		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of pipeline task attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"task"}),

		tasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tasks_in_flight",
			Help:      "Number of pipeline tasks currently executing.",
		}),

		taskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "task_retries_total",
			Help:      "Retries scheduled by the queue, partitioned by task name.",
		}, []string{"task"}),

		chunksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_processed_total",
			Help:      "Chunks persisted by file processing.",
		}),

		vectorsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "vectors_indexed_total",
			Help:      "Vectors upserted by indexing runs.",
		}),

		ledgerSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ledger_swept_total",
			Help:      "Ledger records deleted by the maintenance sweep.",
		}),
	}
}

// TaskStarted marks a task attempt as running and returns a func that
// records its outcome and duration.
func (p *Pipeline) TaskStarted(task string) func(outcome string) {
	if p == nil {
		return func(string) {}
	}
	start := time.Now()
	p.tasksInFlight.Inc()
	return func(outcome string) {
		p.tasksInFlight.Dec()
		p.tasksTotal.WithLabelValues(task, outcome).Inc()
		p.taskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
	}
}

// TaskRetried counts a scheduled retry.
func (p *Pipeline) TaskRetried(task string) {
	if p == nil {
		return
	}
	p.taskRetries.WithLabelValues(task).Inc()
}

// ChunksProcessed adds n persisted chunks.
func (p *Pipeline) ChunksProcessed(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.chunksProcessed.Add(float64(n))
}

// VectorsIndexed adds n upserted vectors.
func (p *Pipeline) VectorsIndexed(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.vectorsIndexed.Add(float64(n))
}

// LedgerSwept adds n deleted ledger records.
func (p *Pipeline) LedgerSwept(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.ledgerSwept.Add(float64(n))
}
