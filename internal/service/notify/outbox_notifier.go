// Package notify доставляет уведомления через transactional outbox:
// запись идёт в outbox, дальше сообщение уходит в Kafka вместе с событиями заказа.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// EventNotification: тип события уведомления в outbox.
const EventNotification = "Notification"

var errCodeRequired = errors.New("notification code is required")

// Payload: JSON-представление уведомления в outbox и в топике crew.notifications.
type Payload struct {
	Code      string    `json:"code"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	OrderID   string    `json:"order_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxNotifier реализует domain.Notifier поверх OutboxRepository.
type OutboxNotifier struct {
	outbox domain.OutboxRepository
	clock  func() time.Time
}

// NewOutboxNotifier создаёт notifier; clock nil означает time.Now.
func NewOutboxNotifier(outbox domain.OutboxRepository, clock func() time.Time) *OutboxNotifier {
	if clock == nil {
		clock = time.Now
	}
	return &OutboxNotifier{outbox: outbox, clock: clock}
}

// Notify кладёт уведомление в outbox.
func (n *OutboxNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	if msg.Code == "" {
		return errCodeRequired
	}
	now := n.clock().UTC()
	data, err := json.Marshal(Payload{
		Code:      msg.Code,
		Category:  string(msg.Category),
		Title:     msg.Title,
		Body:      msg.Body,
		OrderID:   msg.OrderID,
		UserID:    msg.UserID,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	aggregateID := msg.UserID
	if aggregateID == "" {
		aggregateID = msg.OrderID
	}
	if _, err := n.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateNotification,
		AggregateID:   aggregateID,
		EventType:     EventNotification,
		Payload:       data,
		CreatedAt:     now,
	}); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", msg.Code, err)
	}
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)
