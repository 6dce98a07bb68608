// Package lifecycle содержит общий для сервисов путь записи заказа:
// чтение, применение изменения и сохранение с проверкой версии,
// повтор при конфликте и запись событий в outbox.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
)

// ErrUnchanged возвращается мутацией, которой нечего сохранять; Mutate отдаёт текущий заказ без записи.
var ErrUnchanged = errors.New("order unchanged")

// Mutation применяет изменение к свежей копии заказа. При конфликте версий вызывается повторно.
type Mutation func(order *domain.Order, now time.Time) error

// RetryConfig: параметры повтора при конфликте версий.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig: 3 попытки, задержка 10ms, 20ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
}

// Option настраивает Writer.
type Option func(*Writer)

// WithOutbox подключает outbox для событий заказа.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(w *Writer) { w.outbox = outbox }
}

// WithNotifier подключает канал уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(w *Writer) { w.notifier = notifier }
}

// WithClock подменяет часы.
func WithClock(clock func() time.Time) Option {
	return func(w *Writer) { w.clock = clock }
}

// WithRetry задаёт параметры повтора.
func WithRetry(cfg RetryConfig) Option {
	return func(w *Writer) { w.retry = cfg }
}

// WithMetrics подключает метрики конфликтов версий.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Writer) { w.logger = logger }
}

// Writer выполняет все изменения заказа.
type Writer struct {
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	notifier domain.Notifier
	clock    func() time.Time
	retry    RetryConfig
	metrics  *metrics.CheckoutMetrics
	logger   *log.Entry
}

// NewWriter создаёт Writer поверх репозитория заказов.
func NewWriter(orders domain.OrderRepository, opts ...Option) *Writer {
	w := &Writer{
		orders: orders,
		clock:  func() time.Time { return time.Now().UTC() },
		retry:  DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.retry.MaxAttempts <= 0 {
		w.retry.MaxAttempts = 1
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "order-writer")
	}
	return w
}

// Now возвращает текущее время по часам Writer.
func (w *Writer) Now() time.Time {
	return w.clock()
}

// Orders возвращает репозиторий заказов для чтения.
func (w *Writer) Orders() domain.OrderRepository {
	return w.orders
}

// Create сохраняет новый заказ и пишет OrderSubmitted и первую смену статуса.
func (w *Writer) Create(ctx context.Context, order domain.Order) error {
	if err := w.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	w.Emit(ctx, domain.AggregateOrder, order.ID, EventOrderSubmitted, OrderSubmittedPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Lines:     len(order.Items),
		Total:     order.TotalAmount,
		CreatedAt: order.CreatedAt,
	})
	w.emitStatusChanges(ctx, order.ID, order.StatusHistory)
	return nil
}

// Mutate читает заказ, применяет fn и сохраняет с проверкой версии.
// При ErrOrderVersionConflict заказ перечитывается и fn применяется заново.
// changed == false, если fn вернула ErrUnchanged.
func (w *Writer) Mutate(ctx context.Context, orderID string, fn Mutation) (order domain.Order, changed bool, err error) {
	delay := w.retry.BaseDelay
	for attempt := 1; ; attempt++ {
		order, err = w.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, false, err
		}
		loadedHistory := len(order.StatusHistory)

		if err = fn(&order, w.clock()); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return order, false, nil
			}
			return domain.Order{}, false, err
		}

		err = w.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			w.emitStatusChanges(ctx, order.ID, order.StatusHistory[loadedHistory:])
			return order, true, nil
		}
		if !domain.IsVersionConflict(err) {
			return domain.Order{}, false, fmt.Errorf("save order: %w", err)
		}

		w.metrics.RecordVersionConflict()
		if attempt >= w.retry.MaxAttempts {
			return domain.Order{}, false, err
		}
		w.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
		}).Warn("version conflict detected, retrying")

		if delay > 0 {
			select {
			case <-ctx.Done():
				return domain.Order{}, false, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
}

// Delete удаляет заказ и пишет OrderDeleted.
func (w *Writer) Delete(ctx context.Context, order domain.Order, deletedBy string) error {
	if err := w.orders.Delete(ctx, order.ID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	w.Emit(ctx, domain.AggregateOrder, order.ID, EventOrderDeleted, OrderDeletedPayload{
		OrderID:   order.ID,
		UserID:    order.UserID,
		DeletedBy: deletedBy,
		Timestamp: w.clock(),
	})
	return nil
}

// Emit кладёт событие в outbox. Ошибки только логируются: событие не должно ломать запись заказа.
func (w *Writer) Emit(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) {
	if w.outbox == nil {
		return
	}
	entry := w.logger.WithFields(log.Fields{"order_id": aggregateID, "event": eventType})

	data, err := json.Marshal(payload)
	if err != nil {
		entry.WithError(err).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     w.clock(),
	}
	if _, err := w.outbox.Enqueue(ctx, msg); err != nil {
		entry.WithError(err).Warn("enqueue event failed")
	}
}

// Notify отправляет уведомление. Ошибка уведомления не останавливает заказ: только Warn и метрика.
func (w *Writer) Notify(ctx context.Context, n domain.Notification) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.metrics.RecordNotificationFailure()
		w.logger.WithError(err).WithFields(log.Fields{
			"order_id": n.OrderID,
			"code":     n.Code,
		}).Warn("notification failed")
	}
}

func (w *Writer) emitStatusChanges(ctx context.Context, orderID string, changes []domain.StatusChange) {
	for _, change := range changes {
		payload := StatusChangedPayload{
			OrderID:   orderID,
			NewStatus: change.NewStatus.String(),
			ChangedBy: change.ChangedBy,
			Timestamp: change.Timestamp,
		}
		if change.OldStatus != domain.OrderStatusUnknown {
			old := change.OldStatus.String()
			payload.OldStatus = &old
		}
		w.Emit(ctx, domain.AggregateOrder, orderID, EventOrderStatusChanged, payload)
	}
}
