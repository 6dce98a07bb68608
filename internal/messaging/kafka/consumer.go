package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает одно сообщение. Ошибка запускает повтор.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// PermanentError: повтор бесполезен, сообщение сразу уходит в DLQ.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает err в PermanentError. Permanent(nil) == nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DeadLetterSink принимает сообщения, которые не удалось обработать.
type DeadLetterSink interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// ConsumerConfig описывает consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries: попыток на сообщение с учётом уже сделанных до DLQ. По умолчанию 3.
	MaxRetries int
	// RetryDelay: пауза после первой неудачи, дальше удваивается.
	RetryDelay time.Duration
}

type retryPolicy struct {
	attempts int
	delay    time.Duration
}

// run вызывает fn до budget раз. Возвращает последнюю ошибку.
func (p retryPolicy) run(ctx context.Context, budget int, fn func() error, onRetry func(attempt int, err error)) error {
	delay := p.delay
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var perm *PermanentError
		if errors.As(err, &perm) || attempt >= budget {
			return err
		}
		onRetry(attempt, err)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// Consumer читает топики consumer group и отдаёт сообщения handler.
// Сообщение коммитится после успешной обработки или записи в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	dlq     DeadLetterSink
	policy  retryPolicy
	logger  *log.Entry
	now     func() time.Time
	wg      sync.WaitGroup
}

func consumerGroupConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = ClientID
	cfg.Version = sarama.V2_8_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// NewConsumer создаёт consumer без DLQ: необработанные сообщения остаются некоммиченными.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithDLQ(cfg, handler, nil)
}

// NewConsumerWithDLQ создаёт consumer, который пишет необработанные сообщения через dlq.
func NewConsumerWithDLQ(cfg ConsumerConfig, handler MessageHandler, dlq *Producer) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerGroupConfig())
	if err != nil {
		return nil, fmt.Errorf("join consumer group %q: %w", cfg.GroupID, err)
	}
	var sink DeadLetterSink
	if dlq != nil {
		sink = dlq
	}
	return newConsumer(group, cfg, handler, sink), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterSink) *Consumer {
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		handler: handler,
		dlq:     dlq,
		policy:  retryPolicy{attempts: attempts, delay: cfg.RetryDelay},
		logger:  log.WithFields(log.Fields{"component": "kafka-consumer", "group": cfg.GroupID}),
		now:     time.Now,
	}
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance.
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if err := c.process(ctx, msg); err != nil {
				// Без коммита сообщение перечитается после rebalance или рестарта.
				c.messageLog(msg).WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(msg, "")
		}
	}
}

// process обрабатывает сообщение с повторами, затем отправляет его в DLQ.
// Вернувшееся из DLQ сообщение получает только оставшиеся попытки.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	entry := c.messageLog(msg)
	budget := max(c.policy.attempts-retryCount(msg), 1)

	err := c.policy.run(ctx, budget,
		func() error { return c.handler(ctx, msg) },
		func(attempt int, err error) {
			entry.WithError(err).WithField("attempt", attempt).Warn("message handling failed, retrying")
		})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if c.dlq == nil {
		return err
	}
	if dlqErr := c.deadLetter(ctx, msg, err); dlqErr != nil {
		return fmt.Errorf("dead-letter after %v: %w", err, dlqErr)
	}
	entry.WithError(err).Info("message moved to DLQ")
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	retries := retryCount(msg) + 1
	failedAt := c.now().UTC().Format(time.RFC3339)
	record, err := json.Marshal(ConsumerDLQRecord{
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		OriginalKey:       string(msg.Key),
		OriginalValue:     string(msg.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        retries,
	})
	if err != nil {
		return fmt.Errorf("encode dlq record: %w", err)
	}
	return c.dlq.Send(ctx, TopicDeadLetterQueue, string(msg.Key), record, map[string]string{
		HeaderOriginalTopic: msg.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt,
		HeaderRetryCount:    strconv.Itoa(retries),
	})
}

func (c *Consumer) messageLog(msg *sarama.ConsumerMessage) *log.Entry {
	return c.logger.WithFields(log.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})
}

// headerValue возвращает первое значение заголовка key.
func headerValue(msg *sarama.ConsumerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// retryCount читает x-retry-count. Отсутствующий или битый заголовок даёт 0.
func retryCount(msg *sarama.ConsumerMessage) int {
	raw, ok := headerValue(msg, HeaderRetryCount)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
