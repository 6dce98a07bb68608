package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine представляет одну позицию заказа; внутри заказа ключом служит ProductID.
type OrderLine struct {
	ProductID string
	Name      string
	ImageURL  string
	// Quantity: количество, запрошенное покупателем (>= 1).
	Quantity int
	// UnitPrice и Discount: цена, которую покупатель видел при отправке заказа.
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
	// AdminStatus выставляет персонал; по умолчанию Pending Review.
	AdminStatus AdminStatus
	// AdminQuantity: подтверждённое персоналом количество, имеет смысл для Available/Limited.
	AdminQuantity int
	// Selected: позиция участвует в сверке и подтверждении.
	Selected bool
}

// BillableQuantity возвращает количество, по которому позиция попадёт в итог при подтверждении.
func (l OrderLine) BillableQuantity() int {
	if l.AdminStatus.Fulfillable() && l.AdminQuantity > 0 && l.AdminQuantity < l.Quantity {
		return l.AdminQuantity
	}
	return l.Quantity
}

// LineTotal: цена позиции за запрошенное количество.
func (l OrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order агрегирует состояние заказа, его позиции, переписку и историю статусов.
type Order struct {
	ID            string
	UserID        string
	UserEmail     string
	CustomerName  string
	Status        OrderStatus
	StatusHistory []StatusChange
	Items         []OrderLine
	Delivery      DeliveryDetails
	Messages      []Message

	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Tax         decimal.Decimal
	TotalAmount decimal.Decimal

	PaymentMethod      PaymentMethod
	PayPalOrderID      string
	PayPalCaptureID    string
	ActualDeliveryDate *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line возвращает позицию по товару и её индекс; -1, если позиции нет.
func (o *Order) Line(productID string) (*OrderLine, int) {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i], i
		}
	}
	return nil, -1
}

// SelectedLines возвращает копии выбранных позиций в исходном порядке.
func (o *Order) SelectedLines() []OrderLine {
	selected := make([]OrderLine, 0, len(o.Items))
	for _, line := range o.Items {
		if line.Selected {
			selected = append(selected, line)
		}
	}
	return selected
}

// RemoveLine физически удаляет позицию. Возвращает true, если позиций не осталось.
func (o *Order) RemoveLine(productID string) (bool, error) {
	_, idx := o.Line(productID)
	if idx < 0 {
		return false, ErrLineNotFound
	}
	o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	return len(o.Items) == 0, nil
}

// Transition переводит заказ в новый статус и дописывает ровно одну запись в историю.
func (o *Order) Transition(to OrderStatus, changedBy string, at time.Time) error {
	if !o.Status.CanTransitionTo(to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.StatusHistory = append(o.StatusHistory, StatusChange{
		Timestamp: at,
		OldStatus: o.Status,
		NewStatus: to,
		ChangedBy: changedBy,
	})
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// HasReached сообщает, есть ли в истории запись с переходом в status.
func (o *Order) HasReached(status OrderStatus) bool {
	for _, change := range o.StatusHistory {
		if change.NewStatus == status {
			return true
		}
	}
	return false
}

// Totals описывает денежный снимок заказа.
type Totals struct {
	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// ComputeTotals считает subtotal по quantity позиций; tax начисляется на subtotal.
func ComputeTotals(lines []OrderLine, shippingFee, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}
	subtotal = RoundMoney(subtotal)
	tax := RoundMoney(subtotal.Mul(taxRate))
	return Totals{
		Subtotal:    subtotal,
		ShippingFee: shippingFee,
		Tax:         tax,
		Total:       subtotal.Add(shippingFee).Add(tax),
	}
}

// ApplyTotals записывает снимок в заказ.
func (o *Order) ApplyTotals(t Totals) {
	o.Subtotal = t.Subtotal
	o.ShippingFee = t.ShippingFee
	o.Tax = t.Tax
	o.TotalAmount = t.Total
}

// Clone делает глубокую копию, чтобы хранилища не делили слайсы с вызывающим кодом.
func (o Order) Clone() Order {
	clone := o
	clone.Items = append([]OrderLine(nil), o.Items...)
	clone.Messages = append([]Message(nil), o.Messages...)
	clone.StatusHistory = append([]StatusChange(nil), o.StatusHistory...)
	if o.ActualDeliveryDate != nil {
		d := *o.ActualDeliveryDate
		clone.ActualDeliveryDate = &d
	}
	return clone
}

// ValidateInvariants проверяет структурные инварианты агрегата и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrNoItemsSelected)
	}
	seen := make(map[string]struct{}, len(o.Items))
	for _, line := range o.Items {
		if line.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !line.AdminStatus.Valid() {
			errs = append(errs, ErrUnknownAdminStatus)
		}
		if _, dup := seen[line.ProductID]; dup {
			errs = append(errs, ErrDuplicateProduct)
		}
		seen[line.ProductID] = struct{}{}
	}

	// История должна быть непрерывной цепочкой и заканчиваться текущим статусом.
	prev := OrderStatusUnknown
	for _, change := range o.StatusHistory {
		if change.OldStatus != prev {
			errs = append(errs, ErrStatusHistoryBroken)
			break
		}
		prev = change.NewStatus
	}
	if len(o.StatusHistory) > 0 && prev != o.Status {
		errs = append(errs, ErrStatusHistoryBroken)
	}

	var lastID int64
	for _, msg := range o.Messages {
		if msg.ID <= lastID {
			errs = append(errs, ErrMessageIDsUnordered)
			break
		}
		lastID = msg.ID
	}

	return errs
}
