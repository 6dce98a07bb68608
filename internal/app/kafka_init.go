package app

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
	"github.com/vladislavdragonenkov/crewshop/internal/service/outbox"
)

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// initKafkaProducer возвращает nil, nil, если брокеры не заданы.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	list := splitBrokers(brokers)
	if len(list) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(list)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", list).Info("kafka producer initialized")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// logPublisher используется без Kafka: события остаются в логе и помечаются отправленными.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event":        event.EventType,
		"aggregate_id": event.AggregateID,
		"outbox_id":    event.ID,
	}).Debug("outbox event (kafka disabled)")
	return nil
}

// startOutboxWorker запускает доставку outbox; возвращает cancel и канал завершения.
func startOutboxWorker(
	ctx context.Context,
	cfg Config,
	repo domain.OutboxRepository,
	producer *kafka.Producer,
	m *metrics.OutboxMetrics,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	workerLogger := logger.WithField("component", "outbox-worker")

	var publisher domain.OutboxPublisher = logPublisher{logger: workerLogger}
	opts := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithMetrics(m),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer)
		opts = append(opts, outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer)))
	}

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	worker := outbox.NewWorker(repo, publisher, opts...)
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()
	return cancel, done
}

// shutdownOutboxWorker останавливает worker и ждёт завершения текущего батча.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// startPaymentConsumer подписывается на callbacks PayPal; без брокеров возвращает nil.
func startPaymentConsumer(
	ctx context.Context,
	cfg Config,
	recorder kafka.PaymentRecorder,
	dlq *kafka.Producer,
	logger *log.Entry,
) (*kafka.Consumer, error) {
	brokers := splitBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return nil, nil
	}
	consumer, err := kafka.NewConsumerWithDLQ(kafka.ConsumerConfig{
		Brokers: brokers,
		GroupID: cfg.KafkaPaymentGroup,
		Topics:  []string{kafka.TopicPaymentCallbacks},
	}, kafka.NewPaymentCallbackHandler(recorder, logger.WithField("component", "kafka-consumer")), dlq)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}
	logger.WithField("group", cfg.KafkaPaymentGroup).Info("payment callback consumer started")
	return consumer, nil
}
