package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crewshop/internal/service/backoffice"
	"github.com/vladislavdragonenkov/crewshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/crewshop/internal/service/notify"
	"github.com/vladislavdragonenkov/crewshop/internal/service/outbox"
	"github.com/vladislavdragonenkov/crewshop/internal/service/payment"
	"github.com/vladislavdragonenkov/crewshop/internal/service/thread"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/memory"
)

// recordingPublisher собирает всё, что outbox worker отправил наружу.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []domain.OutboxMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, event)
	return nil
}

func (p *recordingPublisher) byType(eventType string) []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.OutboxMessage
	for _, msg := range p.sent {
		if msg.EventType == eventType {
			out = append(out, msg)
		}
	}
	return out
}

// OrderLifecycleTestSuite прогоняет заказ от корзины до доставки на in-memory стеке.
type OrderLifecycleTestSuite struct {
	suite.Suite

	ctx       context.Context
	repo      domain.OrderRepository
	outboxDB  *memory.OutboxRepository
	carts     *memory.CartStore
	catalog   *memory.Catalog
	provider  *payment.MockProvider
	checkout  *checkout.Orchestrator
	staff     *backoffice.Service
	thread    *thread.Service
	publisher *recordingPublisher
	dlq       *recordingPublisher
	worker    *outbox.Worker
	buyer     domain.Buyer
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	now := time.Date(2025, 7, 20, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s.ctx = context.Background()
	s.repo = memory.NewOrderRepository()
	s.outboxDB = memory.NewOutboxRepository()
	s.carts = memory.NewCartStore()
	s.catalog = memory.NewCatalog()
	s.provider = payment.NewMockProvider()
	s.buyer = domain.Buyer{UserID: "user-1", Email: "bosun@aurora.test", Name: "J. Bosun"}

	writer := lifecycle.NewWriter(s.repo,
		lifecycle.WithOutbox(s.outboxDB),
		lifecycle.WithNotifier(notify.NewOutboxNotifier(s.outboxDB, clock)),
		lifecycle.WithClock(clock),
		lifecycle.WithLogger(logger),
	)

	seq := 0
	s.checkout = checkout.New(writer, s.carts, s.catalog,
		checkout.WithPaymentProvider(payment.NewCircuitBreaker(s.provider, 3, time.Minute)),
		checkout.WithLogger(logger),
		checkout.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("ord-%d", seq)
		}),
	)
	s.staff = backoffice.NewService(writer, checkout.DefaultShippingFee, decimal.Zero, logger)
	s.thread = thread.NewService(writer, logger)

	s.publisher = &recordingPublisher{}
	s.dlq = &recordingPublisher{}
	s.worker = outbox.NewWorker(s.outboxDB, s.publisher,
		outbox.WithDLQPublisher(s.dlq),
		outbox.WithLogger(logger),
		outbox.WithMaxAttempts(2),
		outbox.WithRetryBaseDelay(time.Millisecond),
		outbox.WithClock(clock),
	)

	cart := []domain.CartItem{
		{ProductID: "A", Name: "Work gloves", Quantity: 5, UnitPrice: decimal.RequireFromString("12.50")},
		{ProductID: "B", Name: "Rope 20m", Quantity: 2, UnitPrice: decimal.RequireFromString("3.10"), Discount: decimal.RequireFromString("0.40")},
	}
	s.Require().NoError(s.carts.Replace(s.ctx, s.buyer.UserID, cart))
	for _, item := range cart {
		s.catalog.Set(item.ProductID, domain.CatalogPrice{CalculatedPrice: item.UnitPrice, Discount: item.Discount})
	}
}

func (s *OrderLifecycleTestSuite) submit() domain.Order {
	res, err := s.checkout.SubmitReview(s.ctx, s.buyer, checkout.SubmitRequest{
		ProductIDs:  []string{"A", "B"},
		Delivery:    domain.DeliveryDetails{Option: domain.DeliveryOnboard, PortName: "MSC Aurora", ExpectedShippingDate: "2025-08-01"},
		MessageText: "Deliver before noon please",
	})
	s.Require().NoError(err)
	return res.Order
}

func (s *OrderLifecycleTestSuite) approveAll(orderID string) {
	_, err := s.staff.AnnotateLines(s.ctx, "staff-7", orderID, []backoffice.LineAnnotation{
		{ProductID: "A", Status: domain.AdminStatusAvailable},
		{ProductID: "B", Status: domain.AdminStatusAvailable},
	})
	s.Require().NoError(err)
}

func (s *OrderLifecycleTestSuite) drainOutbox() {
	for s.worker.ProcessOnce(s.ctx) > 0 {
	}
}

func (s *OrderLifecycleTestSuite) publishedStatuses(orderID string) []string {
	var out []string
	for _, msg := range s.publisher.byType(lifecycle.EventOrderStatusChanged) {
		var payload lifecycle.StatusChangedPayload
		s.Require().NoError(json.Unmarshal(msg.Payload, &payload))
		if payload.OrderID == orderID {
			out = append(out, payload.NewStatus)
		}
	}
	return out
}

func (s *OrderLifecycleTestSuite) publishedNotificationCodes() []string {
	var out []string
	for _, msg := range s.publisher.byType(notify.EventNotification) {
		var payload notify.Payload
		s.Require().NoError(json.Unmarshal(msg.Payload, &payload))
		out = append(out, payload.Code)
	}
	return out
}

func (s *OrderLifecycleTestSuite) TestSuccessfulPayPalLifecycle() {
	order := s.submit()
	s.Equal(domain.OrderStatusOrderRequest, order.Status)
	s.Equal("78.70", order.TotalAmount.StringFixed(2))
	s.Len(order.Messages, 1)

	cart, err := s.checkout.Cart(s.ctx, s.buyer)
	s.Require().NoError(err)
	s.Empty(cart, "submitted lines leave the cart")

	view, err := s.checkout.Reconcile(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"A", "B"}, view.Report.PendingReview)

	s.approveAll(order.ID)
	confirmed, err := s.checkout.SendOrderConfirmation(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaymentRequest, confirmed.Status)

	_, err = s.staff.ConfirmPayment(s.ctx, "staff-7", order.ID)
	s.Require().NoError(err)

	outcome, err := s.checkout.Pay(s.ctx, s.buyer, order.ID, checkout.PayRequest{Method: domain.PaymentMethodPayPal, ProviderOrderID: "PP-1"})
	s.Require().NoError(err)
	s.True(outcome.Paid())
	s.Equal(1, s.provider.Calls())

	delivered, err := s.staff.MarkDelivered(s.ctx, "staff-7", order.ID, time.Time{})
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusDelivered, delivered.Status)
	s.Empty(delivered.ValidateInvariants())

	s.drainOutbox()

	s.Equal([]string{
		"Order", "Order(Confirmed)", "Payment(Request)", "Payment(Confirmed)", "PayPal(Paid)", "Delivered",
	}, s.publishedStatuses(order.ID))
	s.Len(s.publisher.byType(lifecycle.EventOrderSubmitted), 1)
	s.Len(s.publisher.byType(lifecycle.EventOrderLinesReviewed), 1)
	s.Subset(s.publishedNotificationCodes(), []string{
		"order_submitted", "order_reviewed", "order_confirmed", "payment_ready", "payment_paypal", "order_delivered",
	})
	s.Empty(s.dlq.sent)

	stats, err := s.outboxDB.Stats(s.ctx)
	s.Require().NoError(err)
	s.Zero(stats.PendingCount)
}

func (s *OrderLifecycleTestSuite) TestCashPaymentAfterDeselectingLine() {
	order := s.submit()

	_, err := s.staff.AnnotateLines(s.ctx, "staff-7", order.ID, []backoffice.LineAnnotation{
		{ProductID: "A", Status: domain.AdminStatusAvailable},
		{ProductID: "B", Status: domain.AdminStatusOutOfStock},
	})
	s.Require().NoError(err)

	view, err := s.checkout.Reconcile(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.NotEmpty(view.Blockers)

	_, err = s.checkout.SetLineSelected(s.ctx, s.buyer, order.ID, "B", false)
	s.Require().NoError(err)

	confirmed, err := s.checkout.SendOrderConfirmation(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.Len(confirmed.Items, 1, "deselected lines are dropped on confirmation")
	s.Equal("72.50", confirmed.TotalAmount.StringFixed(2))
	_, err = s.staff.ConfirmPayment(s.ctx, "staff-7", order.ID)
	s.Require().NoError(err)

	paid, err := s.checkout.PayCash(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPayInCash, paid.Status)
	s.Zero(s.provider.Calls())

	_, err = s.checkout.UpdateLineQuantity(s.ctx, s.buyer, order.ID, "A", 1)
	s.ErrorIs(err, domain.ErrOrderLocked)
}

func (s *OrderLifecycleTestSuite) TestPaymentCallbackIsAppliedOnce() {
	order := s.submit()
	s.approveAll(order.ID)
	_, err := s.checkout.SendOrderConfirmation(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	_, err = s.staff.ConfirmPayment(s.ctx, "staff-7", order.ID)
	s.Require().NoError(err)

	handler := kafka.NewPaymentCallbackHandler(s.checkout, nil)
	callback := func(status string) *sarama.ConsumerMessage {
		raw, err := json.Marshal(kafka.PaymentCallback{
			EventID: "evt-" + status, OrderID: order.ID, ProviderOrderID: "PP-9", CaptureID: "cap-9", Status: status,
		})
		s.Require().NoError(err)
		return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentCallbacks, Value: raw}
	}

	s.Require().NoError(handler(s.ctx, callback("DECLINED")))
	stored, err := s.repo.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPaymentConfirmed, stored.Status)

	s.Require().NoError(handler(s.ctx, callback("COMPLETED")))
	s.Require().NoError(handler(s.ctx, callback("COMPLETED")))

	stored, err = s.repo.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPayPalPaid, stored.Status)
	s.Equal("cap-9", stored.PayPalCaptureID)
	s.Equal(kafka.PaymentCallbackActor, stored.StatusHistory[len(stored.StatusHistory)-1].ChangedBy)

	s.drainOutbox()
	s.Equal([]string{"Order", "Order(Confirmed)", "Payment(Request)", "Payment(Confirmed)", "PayPal(Paid)"}, s.publishedStatuses(order.ID))

	err = handler(s.ctx, &sarama.ConsumerMessage{Value: []byte(`{"status":"COMPLETED"}`)})
	var perr *kafka.PermanentError
	s.True(errors.As(err, &perr))
}

func (s *OrderLifecycleTestSuite) TestMessageThreadFlowsThroughOutbox() {
	order := s.submit()

	res, err := s.thread.PostStaffMessage(s.ctx, "staff-7", order.ID, "Gloves come in size L only", "")
	s.Require().NoError(err)
	s.Len(res.Order.Messages, 2)

	_, marked, err := s.thread.MarkReadByBuyer(s.ctx, s.buyer, order.ID)
	s.Require().NoError(err)
	s.Equal(1, marked)

	s.drainOutbox()
	s.Len(s.publisher.byType(lifecycle.EventOrderMessageAppended), 2)
	s.Contains(s.publishedNotificationCodes(), "message_received")
}

func (s *OrderLifecycleTestSuite) TestRemovingLastLinesDeletesOrder() {
	order := s.submit()

	res, err := s.checkout.RemoveLine(s.ctx, s.buyer, order.ID, "B", false)
	s.Require().NoError(err)
	s.False(res.Deleted)

	_, err = s.checkout.RemoveLine(s.ctx, s.buyer, order.ID, "A", false)
	s.ErrorIs(err, domain.ErrDeleteConfirmationRequired)

	res, err = s.checkout.RemoveLine(s.ctx, s.buyer, order.ID, "A", true)
	s.Require().NoError(err)
	s.True(res.Deleted)

	_, err = s.repo.Get(s.ctx, order.ID)
	s.ErrorIs(err, domain.ErrOrderNotFound)

	s.drainOutbox()
	s.Len(s.publisher.byType(lifecycle.EventOrderDeleted), 1)
}

func (s *OrderLifecycleTestSuite) TestBrokerOutageMovesEventsToDLQ() {
	s.publisher.err = errors.New("broker unavailable")
	order := s.submit()

	s.drainOutbox()

	s.Empty(s.publisher.sent)
	s.NotEmpty(s.dlq.sent)
	for _, msg := range s.dlq.sent {
		var envelope outbox.DLQEnvelope
		s.Require().NoError(json.Unmarshal(msg.Payload, &envelope))
		s.Contains(envelope.PublishError, "broker unavailable")
	}

	stored, err := s.repo.Get(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusOrderRequest, stored.Status, "publishing failures never roll back the order")
}
