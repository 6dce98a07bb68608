package app

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/memory"
)

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: " , ", want: nil},
		{raw: "kafka:9092", want: []string{"kafka:9092"}},
		{raw: "a:9092, b:9092,,", want: []string{"a:9092", "b:9092"}},
	}
	for _, tc := range tests {
		if got := splitBrokers(tc.raw); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitBrokers(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(" ", log.WithField("test", "kafka"))
	if err != nil || producer != nil {
		t.Fatalf("expected nil producer without brokers, got %v, %v", producer, err)
	}
	closeKafkaProducer(nil, log.WithField("test", "kafka"))
}

func TestStartPaymentConsumer_WithoutBrokers(t *testing.T) {
	consumer, err := startPaymentConsumer(context.Background(), Config{}, nil, nil, log.WithField("test", "consumer"))
	if err != nil || consumer != nil {
		t.Fatalf("expected disabled consumer, got %v, %v", consumer, err)
	}
	shutdownConsumer(nil, log.WithField("test", "consumer"))
}

func TestStartOutboxWorker_WithoutKafkaDrainsOutbox(t *testing.T) {
	repo := memory.NewOutboxRepository()
	ctx := context.Background()
	if _, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "ord-1",
		EventType:     "OrderSubmitted",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	cfg := DefaultConfig()
	cfg.OutboxPollInterval = 10 * time.Millisecond
	logger := log.WithField("test", "outbox")
	cancel, done := startOutboxWorker(ctx, cfg, repo, nil, metrics.NewOutboxMetrics(prometheus.NewRegistry()), logger)

	deadline := time.Now().Add(2 * time.Second)
	for len(repo.AllPending()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	shutdownOutboxWorker(cancel, done, logger)

	if pending := repo.AllPending(); len(pending) != 0 {
		t.Fatalf("expected outbox to be drained, %d pending", len(pending))
	}
	shutdownOutboxWorker(nil, nil, logger)
}
