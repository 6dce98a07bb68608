package domain

import (
	"context"
	"time"
)

// CartStore: внешнее хранилище корзин; корзина читается и заменяется целиком.
type CartStore interface {
	Get(ctx context.Context, userID string) ([]CartItem, error)
	Replace(ctx context.Context, userID string, items []CartItem) error
}

// Catalog: источник актуальной цены и скидки товара.
type Catalog interface {
	// Price возвращает ErrProductNotFound, если товара нет.
	Price(ctx context.Context, productID string) (CatalogPrice, error)
}

// PaymentProvider: внешний провайдер, выполняющий capture PayPal-заказа.
type PaymentProvider interface {
	Capture(ctx context.Context, orderID, providerOrderID string) (CaptureResult, error)
}

// NotificationCategory группирует уведомления для получателя.
type NotificationCategory string

const (
	NotificationCategoryOrder   NotificationCategory = "order"
	NotificationCategoryPayment NotificationCategory = "payment"
	NotificationCategoryMessage NotificationCategory = "message"
)

// Notification: уведомление для покупателя или персонала.
type Notification struct {
	Code     string
	Category NotificationCategory
	Title    string
	Body     string
	OrderID  string
	UserID   string
}

// Notifier: fire-and-forget канал уведомлений. Ошибка не должна останавливать заказ.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
//
// Claim занимает ключ. Если ключ уже занят, возвращается существующая запись
// вместе с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
type IdempotencyRepository interface {
	Claim(ctx context.Context, claim IdempotencyClaim) (IdempotencyRecord, error)
	Get(ctx context.Context, key IdempotencyKey) (IdempotencyRecord, error)
	Finish(ctx context.Context, key IdempotencyKey, status IdempotencyStatus, resp StoredResponse) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Outbox aggregate types and topics.
const (
	AggregateOrder        = "order"
	AggregateNotification = "notification"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
