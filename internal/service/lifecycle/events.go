package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы событий заказа в outbox.
const (
	EventOrderSubmitted       = "OrderSubmitted"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventOrderDeleted         = "OrderDeleted"
	EventOrderMessageAppended = "OrderMessageAppended"
	EventOrderLinesReviewed   = "OrderLinesReviewed"
)

// OrderSubmittedPayload публикуется при создании заказа.
type OrderSubmittedPayload struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Lines     int             `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusChangedPayload публикуется на каждую новую запись истории статусов.
type StatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	OldStatus *string   `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedBy string    `json:"changed_by"`
	Timestamp time.Time `json:"ts"`
}

// OrderDeletedPayload публикуется, когда покупатель удалил последнюю позицию.
type OrderDeletedPayload struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	DeletedBy string    `json:"deleted_by"`
	Timestamp time.Time `json:"ts"`
}

// MessageAppendedPayload публикуется на новое сообщение переписки.
type MessageAppendedPayload struct {
	OrderID   string    `json:"order_id"`
	MessageID int64     `json:"message_id"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"ts"`
}

// LinesReviewedPayload публикуется после разметки позиций персоналом.
type LinesReviewedPayload struct {
	OrderID    string    `json:"order_id"`
	AdminID    string    `json:"admin_id"`
	ProductIDs []string  `json:"product_ids"`
	Timestamp  time.Time `json:"ts"`
}
