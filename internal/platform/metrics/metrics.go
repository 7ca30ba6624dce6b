// Package metrics provides Prometheus metrics for the worker.
// Counters, gauges and histograms cover task throughput, retries,
// the dispatch queue and event fan-out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TasksSubmitted tracks submitted tasks by type.
var TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "tasks_submitted_total",
	Help:      "Total tasks submitted.",
}, []string{"type"})

// TasksCompleted tracks completed tasks by type.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "tasks_completed_total",
	Help:      "Total completed tasks.",
}, []string{"type"})

// TasksFailed tracks failed tasks by type.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "tasks_failed_total",
	Help:      "Total failed tasks.",
}, []string{"type"})

// TasksCancelled tracks cancelled tasks.
var TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "tasks_cancelled_total",
	Help:      "Total cancelled tasks.",
})

// TasksActive tracks currently executing tasks.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentworker",
	Name:      "tasks_active",
	Help:      "Number of currently executing tasks.",
})

// TaskDuration tracks task execution duration in seconds by type.
var TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "agentworker",
	Name:      "task_duration_seconds",
	Help:      "Task execution duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"type"})

// QueueDepth tracks the current dispatch queue depth.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentworker",
	Name:      "queue_depth",
	Help:      "Items waiting in the dispatch queue.",
})

// RetryAttempts tracks retry attempts by operation.
var RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "retry_attempts_total",
	Help:      "Total retry attempts beyond the first.",
}, []string{"operation"})

// IdempotencyHits tracks duplicate submissions short-circuited by the ledger.
var IdempotencyHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "idempotency_hits_total",
	Help:      "Operations answered from the idempotency ledger.",
}, []string{"operation_type"})

// EventsDelivered tracks events delivered to subscribers by event type.
var EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentworker",
	Name:      "events_delivered_total",
	Help:      "Total events delivered to live subscriptions.",
}, []string{"type"})

// SubscriptionsActive tracks live event subscriptions.
var SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentworker",
	Name:      "subscriptions_active",
	Help:      "Number of live event subscriptions.",
})
