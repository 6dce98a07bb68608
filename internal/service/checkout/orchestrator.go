// Package checkout ведёт покупателя по шагам: выбор из корзины, отправка на разбор,
// сверка с вердиктом персонала, подтверждение и оплата.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
)

// DefaultShippingFee: фиксированная стоимость доставки на борт.
var DefaultShippingFee = decimal.RequireFromString("10.00")

// Названия операций для логов и метрик.
const (
	opPrepare    = "prepare_review"
	opSubmit     = "submit_review"
	opReconcile  = "reconcile"
	opEditLine   = "edit_line"
	opRemoveLine = "remove_line"
	opDelivery   = "update_delivery"
	opConfirm    = "send_confirmation"
	opPayCash    = "pay_cash"
	opPayPal     = "pay_paypal"
)

// Orchestrator реализует покупательскую часть workflow заказа.
type Orchestrator struct {
	writer   *lifecycle.Writer
	carts    domain.CartStore
	catalog  domain.Catalog
	payments domain.PaymentProvider

	shippingFee decimal.Decimal
	taxRate     decimal.Decimal
	newID       func() string
	metrics     *metrics.CheckoutMetrics
	logger      *log.Entry
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithPaymentProvider подключает провайдера PayPal capture.
func WithPaymentProvider(p domain.PaymentProvider) Option {
	return func(o *Orchestrator) { o.payments = p }
}

// WithShippingFee переопределяет стоимость доставки.
func WithShippingFee(fee decimal.Decimal) Option {
	return func(o *Orchestrator) { o.shippingFee = fee }
}

// WithTaxRate задаёт ставку налога (доля, 0.1 = 10%).
func WithTaxRate(rate decimal.Decimal) Option {
	return func(o *Orchestrator) { o.taxRate = rate }
}

// WithIDGenerator подменяет генератор ID заказа.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New создаёт оркестратор.
func New(writer *lifecycle.Writer, carts domain.CartStore, catalog domain.Catalog, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		writer:      writer,
		carts:       carts,
		catalog:     catalog,
		shippingFee: DefaultShippingFee,
		taxRate:     decimal.Zero,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "checkout")
	}
	return o
}

// ShippingFee возвращает действующую стоимость доставки.
func (o *Orchestrator) ShippingFee() decimal.Decimal {
	return o.shippingFee
}

// Order возвращает заказ покупателя; чужой заказ выглядит как отсутствующий.
func (o *Orchestrator) Order(ctx context.Context, buyer domain.Buyer, orderID string) (domain.Order, error) {
	order, err := o.writer.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := owns(buyer, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Orders возвращает заказы покупателя, новые первыми.
func (o *Orchestrator) Orders(ctx context.Context, buyer domain.Buyer, filter domain.ListFilter) ([]domain.Order, error) {
	if buyer.UserID == "" {
		return nil, domain.ErrUserRequired
	}
	return o.writer.Orders().ListByUser(ctx, buyer.UserID, filter)
}

// Cart возвращает корзину покупателя.
func (o *Orchestrator) Cart(ctx context.Context, buyer domain.Buyer) ([]domain.CartItem, error) {
	if buyer.UserID == "" {
		return nil, domain.ErrUserRequired
	}
	return o.carts.Get(ctx, buyer.UserID)
}

// ReplaceCart заменяет корзину целиком.
func (o *Orchestrator) ReplaceCart(ctx context.Context, buyer domain.Buyer, items []domain.CartItem) error {
	if buyer.UserID == "" {
		return domain.ErrUserRequired
	}
	if err := validateCart(items); err != nil {
		return err
	}
	return o.carts.Replace(ctx, buyer.UserID, items)
}

func owns(buyer domain.Buyer, order *domain.Order) error {
	if buyer.UserID == "" || order.UserID != buyer.UserID {
		return domain.ErrOrderNotFound
	}
	return nil
}

// clearCart очищает корзину после записи заказа; ошибка не откатывает уже сохранённый заказ.
func (o *Orchestrator) clearCart(ctx context.Context, userID, orderID string) {
	if err := o.carts.Replace(ctx, userID, nil); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"user_id":  userID,
		}).Warn("failed to clear cart")
	}
}

// prices читает актуальные цены выбранных позиций. Товар, пропавший из каталога, в карту не попадает.
func (o *Orchestrator) prices(ctx context.Context, order domain.Order) (map[string]domain.CatalogPrice, error) {
	prices := make(map[string]domain.CatalogPrice, len(order.Items))
	for _, line := range order.Items {
		if !line.Selected {
			continue
		}
		price, err := o.catalog.Price(ctx, line.ProductID)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("catalog price %s: %w", line.ProductID, err)
		}
		prices[line.ProductID] = price
	}
	return prices, nil
}

func (o *Orchestrator) observe(operation string, started time.Time, err error) {
	o.metrics.ObserveOperation(operation, resultOf(err), time.Since(started))
}

// resultOf отличает ожидаемые отказы workflow от сбоев инфраструктуры.
func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConfirmationBlocked),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderLocked),
		errors.Is(err, domain.ErrLineNotAdjustable),
		errors.Is(err, domain.ErrLineNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrDeleteConfirmationRequired),
		errors.Is(err, domain.ErrCancelNotAllowed),
		errors.Is(err, domain.ErrPaymentDeclined),
		errors.Is(err, domain.ErrPaymentCanceled):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
