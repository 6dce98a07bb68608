package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций для label result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// CheckoutMetrics содержит метрики сценария отправки, сверки и подтверждения заказа.
type CheckoutMetrics struct {
	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	confirmationBlocked *prometheus.CounterVec
	payments            *prometheus.CounterVec
	versionConflicts    prometheus.Counter
	notifyFailures      prometheus.Counter
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	return &CheckoutMetrics{
		operations: counterVec(registerer, prometheus.CounterOpts{
			Name: "crew_checkout_operations_total",
			Help: "Total number of order review operations grouped by operation and result.",
		}, "operation", "result"),
		operationDuration: histogramVec(registerer, prometheus.HistogramOpts{
			Name:    "crew_checkout_operation_duration_seconds",
			Help:    "Duration of order review operations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, "operation"),
		confirmationBlocked: counterVec(registerer, prometheus.CounterOpts{
			Name: "crew_confirmation_blocked_total",
			Help: "Blocked confirmation attempts grouped by the first blocking reason.",
		}, "reason"),
		payments: counterVec(registerer, prometheus.CounterOpts{
			Name: "crew_payments_total",
			Help: "Payment attempts grouped by method and outcome.",
		}, "method", "result"),
		versionConflicts: counter(registerer, prometheus.CounterOpts{
			Name: "crew_order_version_conflicts_total",
			Help: "Optimistic locking conflicts detected while saving orders.",
		}),
		notifyFailures: counter(registerer, prometheus.CounterOpts{
			Name: "crew_notification_failures_total",
			Help: "Notifications that could not be handed over to the notifier.",
		}),
	}
}

// ObserveOperation учитывает завершение операции и её длительность.
func (m *CheckoutMetrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConfirmationBlocked учитывает отказ в подтверждении.
func (m *CheckoutMetrics) RecordConfirmationBlocked(reason string) {
	if m == nil {
		return
	}
	m.confirmationBlocked.WithLabelValues(reason).Inc()
}

// RecordPayment учитывает попытку оплаты.
func (m *CheckoutMetrics) RecordPayment(method, result string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method, result).Inc()
}

// RecordVersionConflict учитывает конфликт версий.
func (m *CheckoutMetrics) RecordVersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// RecordNotificationFailure учитывает ошибку уведомления.
func (m *CheckoutMetrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
