package domain

import "strings"

// PaymentMethod: способ оплаты, выбранный покупателем.
type PaymentMethod string

const (
	PaymentMethodNone   PaymentMethod = ""
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodPayPal PaymentMethod = "paypal"
)

// ParsePaymentMethod разбирает способ оплаты без учёта регистра.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentMethodCash:
		return PaymentMethodCash, nil
	case PaymentMethodPayPal:
		return PaymentMethodPayPal, nil
	default:
		return PaymentMethodNone, ErrUnknownPaymentMethod
	}
}

// CaptureStatus описывает исход capture у провайдера.
type CaptureStatus string

const (
	// CaptureCompleted: деньги списаны.
	CaptureCompleted CaptureStatus = "completed"
	// CapturePending: провайдер принял запрос, но результат придёт позже.
	CapturePending CaptureStatus = "pending"
	// CaptureDeclined: провайдер отклонил списание.
	CaptureDeclined CaptureStatus = "declined"
	// CaptureCanceled: покупатель прервал оплату.
	CaptureCanceled CaptureStatus = "canceled"
)

// CaptureResult: ответ провайдера на capture.
type CaptureResult struct {
	Status          CaptureStatus
	ProviderOrderID string
	CaptureID       string
}

// Succeeded сообщает об успешном списании.
func (r CaptureResult) Succeeded() bool {
	return r.Status == CaptureCompleted
}
