// Package outbox доставляет события из transactional outbox в брокер.
package outbox

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

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Метки результата публикации.
const (
	resultSent      = "sent"
	resultRetry     = "retry_error"
	resultFailed    = "failed"
	resultDLQFailed = "dlq_failed"
)

// Worker забирает пачки из outbox и публикует их по одному сообщению.
// Сообщение, не ушедшее за maxAttempts, копируется в DLQ и помечается failed.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	metrics   *metrics.OutboxMetrics
	logger    *log.Entry
	now       func() time.Time

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryDelay   time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher включает копирование неотправленных сообщений в DLQ.
func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = p }
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay: пауза после первой неудачи, дальше удваивается. 0 отключает паузы.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(w *Worker) { w.retryDelay = max(d, 0) }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		now:          func() time.Time { return time.Now().UTC() },
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run обрабатывает пачку сразу и затем на каждом тике, пока жив ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает одну пачку и возвращает число отправленных сообщений.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.reportBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		if w.deliver(ctx, msg) {
			sent++
		}
	}
	return sent
}

// deliver публикует msg и фиксирует итог в outbox. При отмене ctx сообщение
// остаётся pending и вернётся после истечения аренды.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id": msg.ID,
		"event":     msg.EventType,
		"order_id":  msg.AggregateID,
	})

	err := w.publish(ctx, msg)
	switch {
	case err == nil:
		if markErr := w.repo.MarkSent(ctx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as sent")
			return false
		}
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		entry.Debug("delivery interrupted, message stays pending")
		return false
	}

	entry.WithError(err).Error("outbox publish failed after retries")
	w.metrics.RecordPublish(resultFailed, msg.EventType)
	if dlqErr := w.deadLetter(ctx, msg, err); dlqErr != nil {
		entry.WithError(dlqErr).Warn("failed to publish to DLQ")
		w.metrics.RecordPublish(resultDLQFailed, msg.EventType)
	}
	if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
		entry.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
	return false
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoff(w.retryDelay, attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = w.publisher.Publish(ctx, msg); lastErr == nil {
			w.metrics.RecordPublish(resultSent, msg.EventType)
			return nil
		}
		w.metrics.RecordPublish(resultRetry, msg.EventType)
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) reportBacklog(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = w.now().Sub(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// backoff возвращает base * 2^(attempt-1) с насыщением.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	const ceiling = time.Duration(1<<63 - 1)
	d := base
	for range attempt - 1 {
		if d > ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	return d
}

// DLQEnvelope: тело сообщения outbox в DLQ. Его же читает dlq-reprocess.
type DLQEnvelope struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	var payload json.RawMessage
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	body, err := json.Marshal(DLQEnvelope{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   cause.Error(),
		DLQPublishedAt: w.now(),
	})
	if err != nil {
		return fmt.Errorf("encode dlq envelope: %w", err)
	}
	letter := msg
	letter.Payload = body
	if err := w.dlq.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
