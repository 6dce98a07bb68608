package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestCheckoutMetrics_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	m.ObserveOperation("submit", ResultOK, 20*time.Millisecond)
	m.ObserveOperation("submit", ResultOK, 30*time.Millisecond)
	m.ObserveOperation("confirm", ResultRejected, time.Millisecond)

	family := gatherFamily(t, reg, "crew_checkout_operations_total")
	got := map[string]float64{}
	for _, metric := range family.GetMetric() {
		got[labelValue(metric, "operation")+"/"+labelValue(metric, "result")] = metric.GetCounter().GetValue()
	}
	if got["submit/ok"] != 2 || got["confirm/rejected"] != 1 {
		t.Fatalf("unexpected counters: %v", got)
	}

	hist := gatherFamily(t, reg, "crew_checkout_operation_duration_seconds")
	for _, metric := range hist.GetMetric() {
		if labelValue(metric, "operation") == "submit" && metric.GetHistogram().GetSampleCount() != 2 {
			t.Fatalf("expected 2 samples for submit, got %d", metric.GetHistogram().GetSampleCount())
		}
	}
}

func TestCheckoutMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetricsWithRegisterer(reg)

	m.RecordConfirmationBlocked("price_changed")
	m.RecordPayment("paypal", "declined")
	m.RecordVersionConflict()
	m.RecordVersionConflict()
	m.RecordNotificationFailure()

	if v := gatherFamily(t, reg, "crew_order_version_conflicts_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Fatalf("expected 2 conflicts, got %v", v)
	}
	blocked := gatherFamily(t, reg, "crew_confirmation_blocked_total").GetMetric()[0]
	if labelValue(blocked, "reason") != "price_changed" {
		t.Fatalf("unexpected reason label %q", labelValue(blocked, "reason"))
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var checkout *CheckoutMetrics
	checkout.ObserveOperation("x", ResultOK, time.Second)
	checkout.RecordPayment("cash", ResultOK)

	var outbox *OutboxMetrics
	outbox.RecordPublish("sent", "OrderSubmitted")
	outbox.SetBacklog(1, time.Second)

	var cleanup *CleanupMetrics
	cleanup.RecordRun(ResultOK, 1)
	cleanup.AddDeleted(3)
}

func TestRegister_ReusesExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewOutboxMetrics(reg)
	second := NewOutboxMetrics(reg)

	first.RecordPublish("sent", "OrderSubmitted")
	second.RecordPublish("sent", "OrderSubmitted")

	family := gatherFamily(t, reg, "crew_outbox_publish_attempts_total")
	if v := family.GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Fatalf("expected shared counter value 2, got %v", v)
	}
}

func TestOutboxAndCleanupMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	outbox := NewOutboxMetrics(reg)
	cleanup := NewCleanupMetrics(reg)

	outbox.SetBacklog(4, -time.Second)
	if v := gatherFamily(t, reg, "crew_outbox_pending_records").GetMetric()[0].GetGauge().GetValue(); v != 4 {
		t.Fatalf("expected pending 4, got %v", v)
	}
	if v := gatherFamily(t, reg, "crew_outbox_oldest_pending_age_seconds").GetMetric()[0].GetGauge().GetValue(); v != 0 {
		t.Fatalf("negative age must clamp to 0, got %v", v)
	}

	cleanup.AddDeleted(5)
	cleanup.RecordRun(ResultOK, 5)
	if v := gatherFamily(t, reg, "crew_idempotency_cleanup_last_deleted").GetMetric()[0].GetGauge().GetValue(); v != 5 {
		t.Fatalf("expected last deleted 5, got %v", v)
	}
}
