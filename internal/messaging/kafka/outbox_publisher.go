package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// OutboxPublisher публикует outbox-сообщения в Kafka.
type OutboxPublisher struct {
	producer *Producer
	route    func(aggregateType string) string
	// raw: payload уже содержит итоговое сообщение (DLQ envelope), без обёртки Envelope.
	raw   bool
	clock func() time.Time
}

// NewOutboxPublisher создаёт паблишер, который выбирает топик по типу агрегата.
func NewOutboxPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, route: TopicFor, clock: time.Now}
}

// NewDLQPublisher создаёт паблишер для outbox-событий, исчерпавших попытки.
func NewDLQPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{
		producer: producer,
		route:    func(string) string { return TopicDeadLetterQueue },
		raw:      true,
		clock:    time.Now,
	}
}

// Publish отправляет событие; ключом служит id агрегата, события одного заказа идут по порядку.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	value := event.Payload
	if !p.raw {
		data, err := json.Marshal(NewEnvelope(event, p.clock()))
		if err != nil {
			return fmt.Errorf("marshal outbox envelope: %w", err)
		}
		value = data
	}

	return p.producer.Send(ctx, p.route(event.AggregateType), key, value, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
