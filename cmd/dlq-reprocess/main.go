// Command dlq-reprocess перечитывает crew.dlq и возвращает сообщения в исходные топики.
//
// Без -execute работает как dry-run и только печатает, что было бы отправлено.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crewshop/internal/service/outbox"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	// targetTopic переопределяет маршрут outbox-конвертов; пусто значит по aggregate_type.
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("dlq replay failed")
		os.Exit(1)
	}
}

func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	cfg := config{}
	var brokers string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&brokers, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "force target topic for outbox records (default: route by aggregate type)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed messages; default is dry-run")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the latest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = splitList(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	return cfg, cfg.validate()
}

func (c config) validate() error {
	switch {
	case len(c.brokers) == 0:
		return errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case c.sourceTopic == "":
		return errors.New("source-topic is required")
	case c.targetTopic != "" && c.targetTopic == c.sourceTopic:
		return errors.New("target-topic must differ from source-topic")
	case c.limit <= 0:
		return errors.New("limit must be > 0")
	case c.idleTimeout <= 0:
		return errors.New("idle-timeout must be > 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var (
	// errNotReplayable: сообщение не похоже ни на запись consumer, ни на outbox-конверт.
	errNotReplayable = errors.New("dlq message is not replayable")
	// errLoopTopic: запись ссылается на сам DLQ-топик.
	errLoopTopic = errors.New("dlq message points back to the source topic")
)

// now подменяется в тестах.
var now = func() time.Time { return time.Now().UTC() }

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers []sarama.RecordHeader
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

type saramaConsumer struct {
	consumer sarama.Consumer
}

func (c saramaConsumer) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := c.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (c saramaConsumer) Close() error {
	return c.consumer.Close()
}

// newReplayDependencies открывает подключения к брокеру. В dry-run producer не создаётся.
var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	if !cfg.execute {
		return client, saramaConsumer{consumer: consumer}, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, saramaConsumer{consumer: consumer}, producer, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	_, err = runReplay(ctx, cfg, client, consumer, producer)
	return err
}

// runReplay обходит партиции по возрастанию номера, пока не наберёт cfg.limit сообщений.
func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) (replayStats, error) {
	var total replayStats
	if client == nil || consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return total, nil
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if total.processed >= cfg.limit {
			break
		}
		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, cfg.limit-total.processed)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// processPartition читает партицию до снятого в начале newest-оффсета, лимита или простоя.
func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	start := oldest
	if cfg.fromNewest {
		start = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	errs := pc.Errors()
	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(cfg.idleTimeout)

			entry := log.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})
			stats.processed++

			replay, err := extractReplayMessage(msg, cfg)
			if err != nil {
				stats.skipped++
				entry.WithError(err).Warn("skip dlq message")
			} else {
				if cfg.execute {
					if err := publishReplay(producer, replay); err != nil {
						return stats, fmt.Errorf("publish replay message: %w", err)
					}
				} else {
					entry.WithFields(log.Fields{"target_topic": replay.topic, "key": replay.key}).Info("dlq replay candidate")
				}
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return errors.New("producer is nil")
	}
	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Headers:   msg.headers,
		Timestamp: now(),
	})
	return err
}

// extractReplayMessage распознаёт два формата DLQ: запись consumer
// (kafka.ConsumerDLQRecord) и конверт outbox-воркера (outbox.DLQEnvelope).
func extractReplayMessage(msg *sarama.ConsumerMessage, cfg config) (replayMessage, error) {
	var record kafka.ConsumerDLQRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		return replayMessage{}, fmt.Errorf("%w: %v", errNotReplayable, err)
	}
	if record.OriginalValue != "" {
		return consumerReplay(record, cfg)
	}

	var letter outbox.DLQEnvelope
	if err := json.Unmarshal(msg.Value, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("%w: %v", errNotReplayable, err)
	}
	if letter.OutboxID == "" || len(letter.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}
	return outboxReplay(letter, cfg)
}

// consumerReplay возвращает запись в исходный топик со сброшенным счётчиком попыток.
func consumerReplay(record kafka.ConsumerDLQRecord, cfg config) (replayMessage, error) {
	topic := strings.TrimSpace(record.OriginalTopic)
	if topic == "" {
		topic = kafka.TopicPaymentCallbacks
	}
	if topic == cfg.sourceTopic {
		return replayMessage{}, fmt.Errorf("%w: %s", errLoopTopic, topic)
	}
	return replayMessage{
		topic: topic,
		key:   record.OriginalKey,
		value: []byte(record.OriginalValue),
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(topic)},
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("0")},
		},
	}, nil
}

// outboxReplay заново оборачивает исходное событие в kafka.Envelope.
func outboxReplay(letter outbox.DLQEnvelope, cfg config) (replayMessage, error) {
	topic := cfg.targetTopic
	if topic == "" {
		topic = kafka.TopicFor(letter.AggregateType)
	}
	if topic == cfg.sourceTopic {
		return replayMessage{}, fmt.Errorf("%w: %s", errLoopTopic, topic)
	}

	event := domain.OutboxMessage{
		ID:            letter.OutboxID,
		AggregateType: letter.AggregateType,
		AggregateID:   letter.AggregateID,
		EventType:     letter.EventType,
		Payload:       letter.Payload,
	}
	value, err := json.Marshal(kafka.NewEnvelope(event, now()))
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return replayMessage{
		topic: topic,
		key:   key,
		value: value,
		headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(event.EventType)},
			{Key: []byte(kafka.HeaderAggregateType), Value: []byte(event.AggregateType)},
			{Key: []byte(kafka.HeaderOutboxID), Value: []byte(event.ID)},
		},
	}, nil
}
