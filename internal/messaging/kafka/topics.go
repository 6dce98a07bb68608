package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "crew.order.events"
	TopicNotifications    = "crew.notifications"
	TopicPaymentCallbacks = "crew.payment.callbacks"
	TopicDeadLetterQueue  = "crew.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// TopicFor возвращает топик для outbox-сообщения по типу агрегата.
func TopicFor(aggregateType string) string {
	if aggregateType == domain.AggregateNotification {
		return TopicNotifications
	}
	return TopicOrderEvents
}

// Envelope: формат outbox-события в топиках заказа и уведомлений.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}
}

// ConsumerDLQRecord: то, что consumer пишет в DLQ после исчерпания попыток.
type ConsumerDLQRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}
