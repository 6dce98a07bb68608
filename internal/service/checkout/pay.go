package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
)

// NextAction: что покупатель может сделать после неуспешной оплаты.
type NextAction string

const (
	ActionRetry    NextAction = "retry"
	ActionMyOrders NextAction = "my_orders"
)

// PaymentOutcome: результат попытки оплаты.
type PaymentOutcome struct {
	Order  domain.Order
	Status domain.CaptureStatus
	// Options заполнены, если оплата не прошла; статус заказа при этом не меняется.
	Options []NextAction
}

// Paid сообщает, что заказ оплачен (или выбран cash).
func (p PaymentOutcome) Paid() bool {
	return p.Status == domain.CaptureCompleted
}

func failedOutcome(order domain.Order, status domain.CaptureStatus) PaymentOutcome {
	return PaymentOutcome{Order: order, Status: status, Options: []NextAction{ActionRetry, ActionMyOrders}}
}

// PayRequest: выбор способа оплаты покупателем.
type PayRequest struct {
	Method          domain.PaymentMethod
	ProviderOrderID string
}

// Pay диспетчеризует оплату по способу.
func (o *Orchestrator) Pay(ctx context.Context, buyer domain.Buyer, orderID string, req PayRequest) (PaymentOutcome, error) {
	switch req.Method {
	case domain.PaymentMethodCash:
		order, err := o.PayCash(ctx, buyer, orderID)
		if err != nil {
			return PaymentOutcome{}, err
		}
		return PaymentOutcome{Order: order, Status: domain.CaptureCompleted}, nil
	case domain.PaymentMethodPayPal:
		return o.CapturePayPal(ctx, buyer, orderID, req.ProviderOrderID)
	default:
		return PaymentOutcome{}, domain.ErrUnknownPaymentMethod
	}
}

// PayCash фиксирует выбор оплаты наличными. Повторный вызов ничего не дописывает.
func (o *Orchestrator) PayCash(ctx context.Context, buyer domain.Buyer, orderID string) (order domain.Order, err error) {
	started := time.Now()
	defer func() {
		o.observe(opPayCash, started, err)
		o.metrics.RecordPayment(string(domain.PaymentMethodCash), resultOf(err))
	}()

	order, changed, err := o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := owns(buyer, ord); err != nil {
			return err
		}
		if ord.Status == domain.OrderStatusPayInCash {
			return lifecycle.ErrUnchanged
		}
		if err := ord.Transition(domain.OrderStatusPayInCash, buyer.Identity(), now); err != nil {
			return err
		}
		ord.PaymentMethod = domain.PaymentMethodCash
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		o.writer.Notify(ctx, domain.Notification{
			Code:     "payment_cash",
			Category: domain.NotificationCategoryPayment,
			Title:    "Cash payment selected",
			Body:     fmt.Sprintf("Order %s will be paid in cash on delivery", order.ID),
			OrderID:  order.ID,
			UserID:   order.UserID,
		})
	}
	return order, nil
}

// CapturePayPal выполняет capture у провайдера. Только успешный capture пишет PayPal(Paid);
// отказ или отмена оставляют статус прежним и предлагают повторить или перейти к заказам.
func (o *Orchestrator) CapturePayPal(ctx context.Context, buyer domain.Buyer, orderID, providerOrderID string) (outcome PaymentOutcome, err error) {
	started := time.Now()
	defer func() {
		result := resultOf(err)
		if err == nil && !outcome.Paid() {
			result = string(outcome.Status)
		}
		o.observe(opPayPal, started, err)
		o.metrics.RecordPayment(string(domain.PaymentMethodPayPal), result)
	}()

	order, err := o.Order(ctx, buyer, orderID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if order.HasReached(domain.OrderStatusPayPalPaid) {
		return PaymentOutcome{Order: order, Status: domain.CaptureCompleted}, nil
	}
	if order.Status != domain.OrderStatusPaymentConfirmed {
		return PaymentOutcome{}, &domain.TransitionError{From: order.Status, To: domain.OrderStatusPayPalPaid}
	}
	providerOrderID = strings.TrimSpace(providerOrderID)
	if providerOrderID == "" {
		verr := &domain.ValidationError{}
		verr.Add("provider_order_id", errors.New("is required"))
		return PaymentOutcome{}, verr
	}
	if o.payments == nil {
		return PaymentOutcome{}, fmt.Errorf("%w: payment provider is not configured", domain.ErrPaymentTemporary)
	}

	result, err := o.payments.Capture(ctx, order.ID, providerOrderID)
	switch {
	case errors.Is(err, domain.ErrPaymentDeclined):
		return failedOutcome(order, domain.CaptureDeclined), nil
	case errors.Is(err, domain.ErrPaymentCanceled):
		return failedOutcome(order, domain.CaptureCanceled), nil
	case err != nil:
		o.logger.WithError(err).WithField("order_id", order.ID).Warn("paypal capture failed")
		return PaymentOutcome{}, fmt.Errorf("capture paypal order: %w", err)
	}

	switch result.Status {
	case domain.CaptureCompleted:
		if result.ProviderOrderID == "" {
			result.ProviderOrderID = providerOrderID
		}
		paid, _, err := o.RecordPayPalPayment(ctx, order.ID, result, buyer.Identity())
		if err != nil {
			return PaymentOutcome{}, err
		}
		return PaymentOutcome{Order: paid, Status: domain.CaptureCompleted}, nil
	case domain.CapturePending:
		// Итог придёт callback'ом провайдера.
		return PaymentOutcome{Order: order, Status: domain.CapturePending}, nil
	default:
		return failedOutcome(order, result.Status), nil
	}
}

// RecordPayPalPayment записывает PayPal(Paid) после успешного capture. Идемпотентна по заказу:
// повторный вызов не добавляет вторую запись истории. recorded == false, если запись уже была.
func (o *Orchestrator) RecordPayPalPayment(ctx context.Context, orderID string, result domain.CaptureResult, changedBy string) (order domain.Order, recorded bool, err error) {
	if !result.Succeeded() {
		return domain.Order{}, false, domain.ErrPaymentDeclined
	}

	order, recorded, err = o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if ord.HasReached(domain.OrderStatusPayPalPaid) {
			return lifecycle.ErrUnchanged
		}
		if err := ord.Transition(domain.OrderStatusPayPalPaid, changedBy, now); err != nil {
			return err
		}
		ord.PaymentMethod = domain.PaymentMethodPayPal
		ord.PayPalOrderID = result.ProviderOrderID
		ord.PayPalCaptureID = result.CaptureID
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}

	if recorded {
		o.logger.WithFields(log.Fields{
			"order_id":   order.ID,
			"capture_id": result.CaptureID,
		}).Info("paypal payment recorded")
		o.writer.Notify(ctx, domain.Notification{
			Code:     "payment_paypal",
			Category: domain.NotificationCategoryPayment,
			Title:    "Payment received",
			Body:     fmt.Sprintf("PayPal payment for order %s is complete", order.ID),
			OrderID:  order.ID,
			UserID:   order.UserID,
		})
	} else {
		o.logger.WithField("order_id", order.ID).Debug("duplicate paypal success ignored")
	}
	return order, recorded, nil
}
