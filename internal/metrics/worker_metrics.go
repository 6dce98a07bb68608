package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics: метрики outbox worker.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: counterVec(registerer, prometheus.CounterOpts{
			Name: "crew_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result and event type.",
		}, "result", "event_type"),
		pendingRecords: gauge(registerer, prometheus.GaugeOpts{
			Name: "crew_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: gauge(registerer, prometheus.GaugeOpts{
			Name: "crew_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordPublish учитывает попытку публикации.
func (m *OutboxMetrics) RecordPublish(result, eventType string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result, eventType).Inc()
}

// SetBacklog выставляет размер backlog и возраст старейшей записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pendingRecords.Set(float64(pending))
	m.oldestPendingAge.Set(oldestAge.Seconds())
}

// CleanupMetrics: метрики очистки idempotency-ключей.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetrics регистрирует метрики cleanup worker.
func NewCleanupMetrics(registerer prometheus.Registerer) *CleanupMetrics {
	return &CleanupMetrics{
		runs: counterVec(registerer, prometheus.CounterOpts{
			Name: "crew_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, "result"),
		deleted: counter(registerer, prometheus.CounterOpts{
			Name: "crew_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		lastDeleted: gauge(registerer, prometheus.GaugeOpts{
			Name: "crew_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
	}
}

// RecordRun учитывает завершённый цикл очистки.
func (m *CleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.lastDeleted.Set(float64(deleted))
	}
}

// AddDeleted увеличивает счётчик удалённых записей.
func (m *CleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
