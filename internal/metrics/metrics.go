// Package metrics holds the Prometheus collectors of the proctoring server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration records HTTP handling time per route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// AttemptsStarted counts first starts and re-entries.
	AttemptsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_attempts_started_total",
			Help: "Exam attempts started or re-entered",
		},
		[]string{"kind"},
	)

	// Submissions counts final submissions by trigger.
	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_submissions_total",
			Help: "Final exam submissions",
		},
		[]string{"trigger"},
	)

	// Violations counts reported violations by type and the action taken.
	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Integrity violations reported by clients",
		},
		[]string{"type", "action"},
	)

	// UnlockDecisions counts reviewer decisions.
	UnlockDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_unlock_decisions_total",
			Help: "Unlock requests resolved by reviewers",
		},
		[]string{"decision"},
	)

	// ExecutionDuration records round trips to the code executor.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proctor_execution_duration_seconds",
			Help:    "Code execution round trip in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"language", "status"},
	)

	// QueuePersisted counts items written by the background workers.
	QueuePersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_queue_persisted_total",
			Help: "Queue items persisted by background workers",
		},
		[]string{"queue", "result"},
	)

	// StreamClients tracks connected student status streams.
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_stream_clients",
			Help: "Connected student WebSocket streams",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestDuration,
			AttemptsStarted,
			Submissions,
			Violations,
			UnlockDecisions,
			ExecutionDuration,
			QueuePersisted,
			StreamClients,
		)
	})
}
