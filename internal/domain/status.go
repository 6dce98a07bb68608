package domain

import (
	"fmt"
	"strings"
)

// OrderStatus описывает грубую стадию жизненного цикла заказа, видимую покупателю.
// Внутреннее представление не совпадает с тегом хранения: тег возвращает String,
// подпись для интерфейса возвращает Label.
type OrderStatus uint8

const (
	// OrderStatusUnknown используется как "нет статуса" в первой записи истории.
	OrderStatusUnknown OrderStatus = iota
	// OrderStatusOrderRequest: заказ создан и ждёт разбора персоналом.
	OrderStatusOrderRequest
	// OrderStatusOrderConfirmed: покупатель подтвердил заказ после разбора.
	OrderStatusOrderConfirmed
	// OrderStatusPaymentRequest: заказ ждёт подтверждения готовности к оплате.
	OrderStatusPaymentRequest
	// OrderStatusPaymentConfirmed: персонал разрешил оплату.
	OrderStatusPaymentConfirmed
	// OrderStatusPayPalPaid: провайдер подтвердил списание через PayPal.
	OrderStatusPayPalPaid
	// OrderStatusPayInCash: покупатель выбрал оплату наличными.
	OrderStatusPayInCash
	// OrderStatusDelivered: поставка на борт выполнена.
	OrderStatusDelivered
)

var statusTags = map[OrderStatus]string{
	OrderStatusOrderRequest:     "Order",
	OrderStatusOrderConfirmed:   "Order(Confirmed)",
	OrderStatusPaymentRequest:   "Payment(Request)",
	OrderStatusPaymentConfirmed: "Payment(Confirmed)",
	OrderStatusPayPalPaid:       "PayPal(Paid)",
	OrderStatusPayInCash:        "Pay in Cash",
	OrderStatusDelivered:        "Delivered",
}

var statusLabels = map[OrderStatus]string{
	OrderStatusOrderRequest:     "Order(Request)",
	OrderStatusOrderConfirmed:   "Order(Confirmed)",
	OrderStatusPaymentRequest:   "Payment(Request)",
	OrderStatusPaymentConfirmed: "Payment(Confirmed)",
	OrderStatusPayPalPaid:       "PayPal(Paid)",
	OrderStatusPayInCash:        "Pay in Cash",
	OrderStatusDelivered:        "Delivered",
}

// statusAliases перечисляет альтернативные теги, встречающиеся в старых данных.
var statusAliases = map[string]OrderStatus{
	"Order(Request)": OrderStatusOrderRequest,
}

// transitions задаёт допустимые переходы state machine.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusUnknown:          {OrderStatusOrderRequest},
	OrderStatusOrderRequest:     {OrderStatusOrderConfirmed},
	OrderStatusOrderConfirmed:   {OrderStatusPaymentRequest},
	OrderStatusPaymentRequest:   {OrderStatusPaymentConfirmed},
	OrderStatusPaymentConfirmed: {OrderStatusPayPalPaid, OrderStatusPayInCash},
	OrderStatusPayPalPaid:       {OrderStatusDelivered},
	OrderStatusPayInCash:        {OrderStatusDelivered},
}

// String возвращает тег, под которым статус хранится и передаётся по сети.
func (s OrderStatus) String() string {
	if tag, ok := statusTags[s]; ok {
		return tag
	}
	return ""
}

// Label возвращает подпись статуса для покупателя.
func (s OrderStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return "Unknown"
}

// Valid сообщает, является ли значение одним из рабочих статусов.
func (s OrderStatus) Valid() bool {
	_, ok := statusTags[s]
	return ok
}

// CanTransitionTo проверяет, разрешён ли переход в target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Editable сообщает, можно ли ещё менять позиции и доставку (до подтверждения).
func (s OrderStatus) Editable() bool {
	return s == OrderStatusOrderRequest
}

// ParseOrderStatus разбирает тег статуса, включая алиас "Order(Request)".
func ParseOrderStatus(raw string) (OrderStatus, error) {
	raw = strings.TrimSpace(raw)
	if s, ok := statusAliases[raw]; ok {
		return s, nil
	}
	for s, tag := range statusTags {
		if tag == raw {
			return s, nil
		}
	}
	return OrderStatusUnknown, fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// MarshalText кодирует статус тегом хранения.
func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText декодирует тег; пустая строка означает OrderStatusUnknown.
func (s *OrderStatus) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = OrderStatusUnknown
		return nil
	}
	parsed, err := ParseOrderStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AdminStatus: вердикт персонала по доступности позиции.
type AdminStatus string

const (
	AdminStatusPendingReview    AdminStatus = "Pending Review"
	AdminStatusAvailable        AdminStatus = "Available"
	AdminStatusLimited          AdminStatus = "Limited"
	AdminStatusOutOfStock       AdminStatus = "Out of Stock"
	AdminStatusAlternativeOffer AdminStatus = "Alternative Offer"
)

// Valid проверяет, что вердикт входит в словарь.
func (s AdminStatus) Valid() bool {
	switch s {
	case AdminStatusPendingReview, AdminStatusAvailable, AdminStatusLimited,
		AdminStatusOutOfStock, AdminStatusAlternativeOffer:
		return true
	default:
		return false
	}
}

// Fulfillable сообщает, что позицию можно отгрузить (полностью или частично).
func (s AdminStatus) Fulfillable() bool {
	return s == AdminStatusAvailable || s == AdminStatusLimited
}
