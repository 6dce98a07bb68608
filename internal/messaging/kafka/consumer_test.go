package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"
)

type fakeGroup struct {
	consume func(ctx context.Context, topics []string) error
	errs    chan error
	closeFn func() error
}

func (g *fakeGroup) Consume(ctx context.Context, topics []string, _ sarama.ConsumerGroupHandler) error {
	if g.consume == nil {
		<-ctx.Done()
		return nil
	}
	return g.consume(ctx, topics)
}
func (g *fakeGroup) Errors() <-chan error { return g.errs }
func (g *fakeGroup) Close() error {
	if g.closeFn != nil {
		return g.closeFn()
	}
	close(g.errs)
	return nil
}
func (g *fakeGroup) Pause(map[string][]int32)  {}
func (g *fakeGroup) Resume(map[string][]int32) {}
func (g *fakeGroup) PauseAll()                 {}
func (g *fakeGroup) ResumeAll()                {}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func claimOf(msgs ...*sarama.ConsumerMessage) *fakeClaim {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeClaim{ch: ch}
}

// recordingSink запоминает всё, что ушло в DLQ.
type recordingSink struct {
	mu   sync.Mutex
	sent []sentRecord
	err  error
}

type sentRecord struct {
	topic, key string
	value      []byte
	headers    map[string]string
}

func (s *recordingSink) Send(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentRecord{topic: topic, key: key, value: value, headers: headers})
	return nil
}

func callback(offset int64, headers ...*sarama.RecordHeader) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:   TopicPaymentCallbacks,
		Offset:  offset,
		Key:     []byte("ord-1"),
		Value:   []byte(`{"orderId":"ord-1"}`),
		Headers: headers,
	}
}

func testConsumer(handler MessageHandler, dlq DeadLetterSink, attempts int) *Consumer {
	c := newConsumer(&fakeGroup{errs: make(chan error)}, ConsumerConfig{GroupID: "test", MaxRetries: attempts}, handler, dlq)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNewConsumer_UnreachableBrokers(t *testing.T) {
	handler := func(context.Context, *sarama.ConsumerMessage) error { return nil }
	cfg := ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, GroupID: "g", Topics: []string{TopicPaymentCallbacks}}

	_, err := NewConsumer(cfg, handler)
	require.Error(t, err)
	_, err = NewConsumerWithDLQ(cfg, handler, nil)
	require.Error(t, err)
}

func TestConsumerGroupConfigIsValid(t *testing.T) {
	require.NoError(t, consumerGroupConfig().Validate())
}

func TestConsumer_StartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		topics []string
	)
	errs := make(chan error, 1)
	group := &fakeGroup{
		errs: errs,
		consume: func(ctx context.Context, got []string) error {
			mu.Lock()
			topics = got
			mu.Unlock()
			<-ctx.Done()
			return nil
		},
	}
	c := newConsumer(group, ConsumerConfig{Topics: []string{TopicPaymentCallbacks}}, nil, nil)
	require.Equal(t, 3, c.policy.attempts)

	errs <- errors.New("broker hiccup")
	require.NoError(t, c.Start(ctx))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(topics) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, c.Stop())
}

func TestConsumer_StopReportsCloseError(t *testing.T) {
	errs := make(chan error)
	group := &fakeGroup{errs: errs, closeFn: func() error {
		close(errs)
		return errors.New("close failed")
	}}
	c := newConsumer(group, ConsumerConfig{}, nil, nil)
	require.ErrorContains(t, c.Stop(), "close failed")
}

func TestConsumeClaim_MarksHandledMessages(t *testing.T) {
	var seen []int64
	c := testConsumer(func(_ context.Context, m *sarama.ConsumerMessage) error {
		seen = append(seen, m.Offset)
		if m.Offset == 2 {
			return errors.New("store unavailable")
		}
		return nil
	}, nil, 1)

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, c.ConsumeClaim(session, claimOf(callback(1), callback(2), callback(3))))
	require.Equal(t, []int64{1, 2, 3}, seen)
	require.Equal(t, []int64{1, 3}, session.marked, "failed message without DLQ stays uncommitted")
}

func TestConsumeClaim_ReturnsOnSessionEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 1)

	done := make(chan error, 1)
	go func() {
		done <- c.ConsumeClaim(&fakeSession{ctx: ctx}, &fakeClaim{ch: make(chan *sarama.ConsumerMessage)})
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim kept running after the session ended")
	}
}

func TestConsumer_ProcessRetries(t *testing.T) {
	t.Run("succeeds on second attempt", func(t *testing.T) {
		calls := 0
		c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			calls++
			if calls == 1 {
				return errors.New("temporary")
			}
			return nil
		}, nil, 3)
		require.NoError(t, c.process(context.Background(), callback(1)))
		require.Equal(t, 2, calls)
	})

	t.Run("replayed message gets remaining budget", func(t *testing.T) {
		calls := 0
		c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			calls++
			return errors.New("temporary")
		}, nil, 3)
		msg := callback(1, &sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte("2")})
		require.Error(t, c.process(context.Background(), msg))
		require.Equal(t, 1, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			calls++
			return Permanent(errors.New("malformed"))
		}, nil, 5)
		require.Error(t, c.process(context.Background(), callback(1)))
		require.Equal(t, 1, calls)
	})

	t.Run("cancel during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sink := &recordingSink{}
		c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
			cancel()
			return errors.New("temporary")
		}, sink, 3)
		c.policy.delay = time.Minute
		require.ErrorIs(t, c.process(ctx, callback(1)), context.Canceled)
		require.Empty(t, sink.sent, "canceled processing is not dead-lettered")
	})
}

func TestConsumer_DeadLetter(t *testing.T) {
	sink := &recordingSink{}
	c := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("order not found")
	}, sink, 2)

	msg := callback(7, &sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte("1")})
	require.NoError(t, c.process(context.Background(), msg))
	require.Len(t, sink.sent, 1)

	sent := sink.sent[0]
	require.Equal(t, TopicDeadLetterQueue, sent.topic)
	require.Equal(t, "ord-1", sent.key)
	require.Equal(t, "2", sent.headers[HeaderRetryCount])
	require.Equal(t, TopicPaymentCallbacks, sent.headers[HeaderOriginalTopic])
	require.Equal(t, "2026-03-01T12:00:00Z", sent.headers[HeaderFailedAt])

	var record ConsumerDLQRecord
	require.NoError(t, json.Unmarshal(sent.value, &record))
	require.Equal(t, ConsumerDLQRecord{
		OriginalTopic:  TopicPaymentCallbacks,
		OriginalOffset: 7,
		OriginalKey:    "ord-1",
		OriginalValue:  `{"orderId":"ord-1"}`,
		ErrorMessage:   "order not found",
		FailedAt:       "2026-03-01T12:00:00Z",
		RetryCount:     2,
	}, record)

	sink.err = errors.New("dlq down")
	require.ErrorContains(t, c.process(context.Background(), callback(8)), "dlq down")
}

func TestRetryCount(t *testing.T) {
	header := func(v string) *sarama.RecordHeader {
		return &sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(v)}
	}
	require.Equal(t, 4, retryCount(callback(1, header("4"))))
	require.Zero(t, retryCount(callback(1, header("bad"))))
	require.Zero(t, retryCount(callback(1, header("-3"))))
	require.Zero(t, retryCount(callback(1, nil)))
}
