package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crewshop/internal/service/outbox"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		wantErr string
		check   func(t *testing.T, cfg config)
	}{
		{
			name: "defaults with env brokers",
			env:  map[string]string{"KAFKA_BROKERS": " b1:9092, ,b2:9092 "},
			check: func(t *testing.T, cfg config) {
				require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.brokers)
				require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
				require.Empty(t, cfg.targetTopic)
				require.Equal(t, defaultReplayLimit, cfg.limit)
				require.Equal(t, defaultIdleTimeout, cfg.idleTimeout)
				require.False(t, cfg.execute)
			},
		},
		{
			name: "flags override env",
			args: []string{"-brokers=flag:9092", "-limit=5", "-execute", "-from-newest", "-target-topic=crew.order.events", "-idle-timeout=50ms"},
			env:  map[string]string{"KAFKA_BROKERS": "env:9092"},
			check: func(t *testing.T, cfg config) {
				require.Equal(t, []string{"flag:9092"}, cfg.brokers)
				require.Equal(t, 5, cfg.limit)
				require.True(t, cfg.execute)
				require.True(t, cfg.fromNewest)
				require.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
				require.Equal(t, 50*time.Millisecond, cfg.idleTimeout)
			},
		},
		{name: "missing brokers", wantErr: "brokers are required"},
		{name: "empty source", args: []string{"-brokers=b:1", "-source-topic= "}, wantErr: "source-topic is required"},
		{name: "target equals source", args: []string{"-brokers=b:1", "-target-topic=crew.dlq"}, wantErr: "must differ"},
		{name: "zero limit", args: []string{"-brokers=b:1", "-limit=0"}, wantErr: "limit must be > 0"},
		{name: "zero idle", args: []string{"-brokers=b:1", "-idle-timeout=0s"}, wantErr: "idle-timeout must be > 0"},
		{name: "unknown flag", args: []string{"-nope"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseConfig(tt.args, envFrom(tt.env), io.Discard)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func consumerRecordValue(t *testing.T, topic string) []byte {
	t.Helper()
	raw, err := json.Marshal(kafka.ConsumerDLQRecord{
		OriginalTopic:  topic,
		OriginalKey:    "ord-1",
		OriginalValue:  `{"orderId":"ord-1","status":"COMPLETED"}`,
		ErrorMessage:   "handler failed",
		RetryCount:     3,
		OriginalOffset: 12,
	})
	require.NoError(t, err)
	return raw
}

func outboxEnvelopeValue(t *testing.T, aggregateType, aggregateID string) []byte {
	t.Helper()
	raw, err := json.Marshal(outbox.DLQEnvelope{
		OutboxID:       "obx-1",
		AggregateType:  aggregateType,
		AggregateID:    aggregateID,
		EventType:      "order.confirmed",
		Payload:        json.RawMessage(`{"orderId":"ord-1"}`),
		PublishError:   "broker unavailable",
		DLQPublishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	return raw
}

func headerValue(headers []sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestExtractReplayMessage_ConsumerRecord(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue}

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: consumerRecordValue(t, kafka.TopicPaymentCallbacks)}, cfg)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicPaymentCallbacks, got.topic)
	require.Equal(t, "ord-1", got.key)
	require.JSONEq(t, `{"orderId":"ord-1","status":"COMPLETED"}`, string(got.value))
	require.Equal(t, "0", headerValue(got.headers, kafka.HeaderRetryCount))
	require.Equal(t, kafka.TopicPaymentCallbacks, headerValue(got.headers, kafka.HeaderOriginalTopic))

	got, err = extractReplayMessage(&sarama.ConsumerMessage{Value: consumerRecordValue(t, "")}, cfg)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicPaymentCallbacks, got.topic)

	_, err = extractReplayMessage(&sarama.ConsumerMessage{Value: consumerRecordValue(t, kafka.TopicDeadLetterQueue)}, cfg)
	require.ErrorIs(t, err, errLoopTopic)
}

func TestExtractReplayMessage_OutboxEnvelope(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	oldNow := now
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = oldNow })

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue}

	got, err := extractReplayMessage(&sarama.ConsumerMessage{Value: outboxEnvelopeValue(t, domain.AggregateOrder, "ord-1")}, cfg)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicOrderEvents, got.topic)
	require.Equal(t, "ord-1", got.key)
	require.Equal(t, "obx-1", headerValue(got.headers, kafka.HeaderOutboxID))

	var envelope kafka.Envelope
	require.NoError(t, json.Unmarshal(got.value, &envelope))
	require.Equal(t, "obx-1", envelope.ID)
	require.Equal(t, "order.confirmed", envelope.EventType)
	require.JSONEq(t, `{"orderId":"ord-1"}`, string(envelope.Payload))
	require.True(t, envelope.PublishedAt.Equal(fixed))

	got, err = extractReplayMessage(&sarama.ConsumerMessage{Value: outboxEnvelopeValue(t, domain.AggregateNotification, "")}, cfg)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicNotifications, got.topic)
	require.Equal(t, "obx-1", got.key)

	cfg.targetTopic = "crew.replay"
	got, err = extractReplayMessage(&sarama.ConsumerMessage{Value: outboxEnvelopeValue(t, domain.AggregateNotification, "")}, cfg)
	require.NoError(t, err)
	require.Equal(t, "crew.replay", got.topic)
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue}

	for _, value := range []string{`not-json`, `{"id":"x"}`, `{"outbox_id":"obx-1"}`, `[]`} {
		_, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte(value)}, cfg)
		require.ErrorIs(t, err, errNotReplayable, value)
	}
}

func TestPublishReplay(t *testing.T) {
	require.Error(t, publishReplay(nil, replayMessage{}))

	producer := &stubReplayProducer{}
	msg := replayMessage{
		topic:   kafka.TopicOrderEvents,
		key:     "ord-1",
		value:   []byte(`{}`),
		headers: []sarama.RecordHeader{{Key: []byte(kafka.HeaderOutboxID), Value: []byte("obx-1")}},
	}
	require.NoError(t, publishReplay(producer, msg))
	require.Equal(t, 1, producer.calls)
	require.Equal(t, kafka.TopicOrderEvents, producer.lastMsg.Topic)
	require.Len(t, producer.lastMsg.Headers, 1)

	producer.sendErr = errors.New("send failed")
	require.Error(t, publishReplay(producer, msg))
}

func TestProcessPartition_DryRunAndExecute(t *testing.T) {
	newSource := func() *stubPartitionConsumerSource {
		return &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{
				{Partition: 0, Offset: 0, Value: consumerRecordValue(t, kafka.TopicPaymentCallbacks)},
				{Partition: 0, Offset: 1, Value: []byte(`garbage`)},
				{Partition: 0, Offset: 2, Value: outboxEnvelopeValue(t, domain.AggregateOrder, "ord-2")},
			}),
		}}
	}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 50 * time.Millisecond}

	stats, err := processPartition(context.Background(), newSource(), client, nil, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)

	cfg.execute = true
	producer := &stubReplayProducer{}
	stats, err = processPartition(context.Background(), newSource(), client, producer, cfg, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
	require.Equal(t, 2, producer.calls)
	require.Equal(t, kafka.TopicOrderEvents, producer.lastMsg.Topic)

	producer = &stubReplayProducer{sendErr: errors.New("boom")}
	_, err = processPartition(context.Background(), newSource(), client, producer, cfg, 0, 10)
	require.ErrorContains(t, err, "publish replay message")
}

func TestProcessPartition_FromNewestStartsNearEnd(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 10}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: closedPartitionConsumer(nil)}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, fromNewest: true, idleTimeout: 20 * time.Millisecond}

	_, err := processPartition(context.Background(), source, client, nil, cfg, 0, 3)
	require.NoError(t, err)
	require.Equal(t, []consumeCall{{partition: 0, offset: 7}}, source.calls)
}

func TestProcessPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 20 * time.Millisecond}
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}

	_, err := processPartition(context.Background(), &stubPartitionConsumerSource{},
		&stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "oldest offset")

	_, err = processPartition(context.Background(), &stubPartitionConsumerSource{consumeErr: errors.New("consume")}, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "consume partition")

	withErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	withErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	_, err = processPartition(context.Background(), &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: withErr}}, client, nil, cfg, 0, 1)
	require.ErrorContains(t, err, "consumer error")

	empty := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 4, newest: 4}}}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{}, empty, nil, cfg, 0, 1)
	require.NoError(t, err)
	require.Zero(t, stats.processed)
}

func TestProcessPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, idleTimeout: 10 * time.Millisecond}

	idle := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	stats, err := processPartition(context.Background(), &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idle}}, client, nil, cfg, 0, 1)
	require.NoError(t, err)
	require.Zero(t, stats.processed)
	require.True(t, idle.closed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg.idleTimeout = time.Second
	blocked := &stubPartitionConsumer{messages: make(chan *sarama.ConsumerMessage), errors: make(chan *sarama.ConsumerError)}
	_, err = processPartition(ctx, &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: blocked}}, client, nil, cfg, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReplay(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: 20 * time.Millisecond}

	_, err := runReplay(context.Background(), cfg, nil, nil, nil)
	require.Error(t, err)

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 1}, 2: {oldest: 0, newest: 1}},
	}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: consumerRecordValue(t, kafka.TopicPaymentCallbacks)}}),
		2: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 2, Offset: 0, Value: consumerRecordValue(t, kafka.TopicPaymentCallbacks)}}),
	}}

	stats, err := runReplay(context.Background(), cfg, client, source, nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.processed)
	require.Equal(t, []consumeCall{{partition: 0, offset: 0}}, source.calls)

	cfg.execute = true
	_, err = runReplay(context.Background(), cfg, client, source, nil)
	require.ErrorContains(t, err, "producer is required")

	_, err = runReplay(context.Background(), cfg, &stubOffsetClient{partitionsErr: errors.New("meta")}, source, &stubReplayProducer{})
	require.ErrorContains(t, err, "get partitions")

	stats, err = runReplay(context.Background(), cfg, &stubOffsetClient{}, source, &stubReplayProducer{})
	require.NoError(t, err)
	require.Zero(t, stats.processed)
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	t.Cleanup(func() { newReplayDependencies = oldDeps })

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, execute: true, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	require.ErrorContains(t, run(context.Background(), cfg), "deps failed")

	client := &stubOffsetClient{partitions: []int32{0}, offsets: map[int32]offsetRange{0: {oldest: 0, newest: 1}}}
	source := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{
		0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: outboxEnvelopeValue(t, domain.AggregateOrder, "ord-1")}}),
	}}
	producer := &stubReplayProducer{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, source, producer, nil
	}

	require.NoError(t, run(context.Background(), cfg))
	require.Equal(t, 1, producer.calls)
	require.True(t, client.closed)
	require.True(t, source.closed)
	require.True(t, producer.closed)
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}
	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func closedPartitionConsumer(messages []*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	return &stubPartitionConsumer{messages: msgCh, errors: make(chan *sarama.ConsumerError)}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
