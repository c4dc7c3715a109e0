package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments the three pipeline stages. Status is the
// queue decision: completed, abandoned or dead_letter.
type WorkerMetrics struct {
	registry *prometheus.Registry

	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	tasksInFlight   *prometheus.GaugeVec
	deadLetterTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	tasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Total handled tasks by stage and outcome.",
		},
		[]string{"service", "stage", "status"},
	)
	taskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task handling duration in seconds by stage.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage", "status"},
	)
	tasksInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "tasks_in_flight",
			Help:      "Number of in-flight tasks by stage.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
		[]string{"stage"},
	)
	deadLetterTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docpipe",
			Subsystem: "worker",
			Name:      "dead_letter_total",
			Help:      "Total messages terminated without processing.",
		},
		[]string{"service", "subject"},
	)

	registry.MustRegister(tasksTotal, taskDuration, tasksInFlight, deadLetterTotal)

	return &WorkerMetrics{
		registry:        registry,
		tasksTotal:      tasksTotal,
		taskDuration:    taskDuration,
		tasksInFlight:   tasksInFlight,
		deadLetterTotal: deadLetterTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTask(stage string) {
	m.tasksInFlight.WithLabelValues(stage).Inc()
}

func (m *WorkerMetrics) FinishTask(service, stage, status string, duration time.Duration) {
	m.tasksInFlight.WithLabelValues(stage).Dec()
	m.tasksTotal.WithLabelValues(service, stage, status).Inc()
	m.taskDuration.WithLabelValues(service, stage, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordDeadLetter(service, subject string) {
	m.deadLetterTotal.WithLabelValues(service, subject).Inc()
}
