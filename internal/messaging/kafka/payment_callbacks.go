package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// PaymentCallbackActor: changedBy для переходов, пришедших из webhook PayPal.
const PaymentCallbackActor = "paypal-webhook"

// PaymentCallback: уведомление провайдера о результате capture.
type PaymentCallback struct {
	EventID         string `json:"event_id"`
	OrderID         string `json:"order_id"`
	ProviderOrderID string `json:"provider_order_id"`
	CaptureID       string `json:"capture_id"`
	Status          string `json:"status"`
}

// ParsePaymentCallback парсит callback из сообщения.
func ParsePaymentCallback(message *sarama.ConsumerMessage) (PaymentCallback, error) {
	var cb PaymentCallback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		return PaymentCallback{}, fmt.Errorf("failed to unmarshal payment callback: %w", err)
	}
	cb.OrderID = strings.TrimSpace(cb.OrderID)
	if cb.OrderID == "" {
		return PaymentCallback{}, errors.New("payment callback without order_id")
	}
	return cb, nil
}

// Result переводит callback в domain.CaptureResult.
func (cb PaymentCallback) Result() domain.CaptureResult {
	return domain.CaptureResult{
		Status:          domain.CaptureStatus(strings.ToLower(strings.TrimSpace(cb.Status))),
		ProviderOrderID: cb.ProviderOrderID,
		CaptureID:       cb.CaptureID,
	}
}

// PaymentRecorder фиксирует успешную оплату PayPal идемпотентно.
type PaymentRecorder interface {
	RecordPayPalPayment(ctx context.Context, orderID string, result domain.CaptureResult, changedBy string) (domain.Order, bool, error)
}

// NewPaymentCallbackHandler возвращает обработчик топика crew.payment.callbacks.
// Неуспешные callback только логируются: статус заказа при отказе не меняется.
func NewPaymentCallbackHandler(recorder PaymentRecorder, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-callbacks")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cb, err := ParsePaymentCallback(message)
		if err != nil {
			return Permanent(err)
		}
		entry := logger.WithFields(log.Fields{
			"order_id": cb.OrderID,
			"event_id": cb.EventID,
			"status":   cb.Status,
		})

		result := cb.Result()
		if !result.Succeeded() {
			entry.Info("payment callback without capture, order status kept")
			return nil
		}

		_, recorded, err := recorder.RecordPayPalPayment(ctx, cb.OrderID, result, PaymentCallbackActor)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation):
			return Permanent(err)
		default:
			return err
		}

		if recorded {
			entry.Info("paypal payment recorded from callback")
		} else {
			entry.Debug("duplicate payment callback ignored")
		}
		return nil
	}
}
