// Package backoffice реализует действия персонала над заказом: разметку позиций,
// разрешение оплаты, отметку доставки и пересчёт итогов.
package backoffice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
)

var errQtyNegative = errors.New("must be non-negative")

// Service: операции back office.
type Service struct {
	writer      *lifecycle.Writer
	shippingFee decimal.Decimal
	taxRate     decimal.Decimal
	logger      *log.Entry
}

// NewService создаёт сервис; shippingFee и taxRate совпадают с настройками checkout.
func NewService(writer *lifecycle.Writer, shippingFee, taxRate decimal.Decimal, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "backoffice")
	}
	return &Service{writer: writer, shippingFee: shippingFee, taxRate: taxRate, logger: logger}
}

// LineAnnotation: вердикт персонала по одной позиции.
type LineAnnotation struct {
	ProductID string
	Status    domain.AdminStatus
	// Quantity nil: для Available берётся запрошенное количество, для остальных сохраняется прежнее.
	Quantity *int
}

// Get возвращает заказ.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	return s.writer.Orders().Get(ctx, orderID)
}

// List возвращает заказы всех покупателей.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	return s.writer.Orders().List(ctx, filter)
}

// AnnotateLines выставляет adminStatus/adminQuantity. Статус заказа не меняется.
func (s *Service) AnnotateLines(ctx context.Context, adminID, orderID string, annotations []LineAnnotation) (domain.Order, error) {
	if err := validateAnnotations(annotations); err != nil {
		return domain.Order{}, err
	}

	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, now time.Time) error {
		if !o.Status.Editable() {
			return domain.ErrOrderLocked
		}
		for _, a := range annotations {
			line, _ := o.Line(a.ProductID)
			if line == nil {
				return fmt.Errorf("%w: %s", domain.ErrLineNotFound, a.ProductID)
			}
			line.AdminStatus = a.Status
			switch {
			case a.Quantity != nil:
				line.AdminQuantity = *a.Quantity
			case a.Status == domain.AdminStatusAvailable:
				line.AdminQuantity = line.Quantity
			}
		}
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	productIDs := make([]string, 0, len(annotations))
	for _, a := range annotations {
		productIDs = append(productIDs, a.ProductID)
	}
	s.writer.Emit(ctx, domain.AggregateOrder, order.ID, lifecycle.EventOrderLinesReviewed, lifecycle.LinesReviewedPayload{
		OrderID:    order.ID,
		AdminID:    adminID,
		ProductIDs: productIDs,
		Timestamp:  order.UpdatedAt,
	})
	s.writer.Notify(ctx, domain.Notification{
		Code:     "order_reviewed",
		Category: domain.NotificationCategoryOrder,
		Title:    "Your order was reviewed",
		Body:     fmt.Sprintf("Staff updated availability for order %s", order.ID),
		OrderID:  order.ID,
		UserID:   order.UserID,
	})
	s.logger.WithFields(log.Fields{"order_id": order.ID, "admin_id": adminID, "lines": len(annotations)}).Info("order lines annotated")
	return order, nil
}

func validateAnnotations(annotations []LineAnnotation) error {
	verr := &domain.ValidationError{}
	if len(annotations) == 0 {
		verr.Add("lines", domain.ErrNoItemsSelected)
	}
	for i, a := range annotations {
		field := fmt.Sprintf("lines[%d]", i)
		if a.ProductID == "" {
			verr.Add(field+".product_id", domain.ErrLineNotFound)
		}
		if !a.Status.Valid() {
			verr.Add(field+".admin_status", domain.ErrUnknownAdminStatus)
		}
		if a.Quantity != nil && *a.Quantity < 0 {
			verr.Add(field+".admin_quantity", errQtyNegative)
		}
	}
	return verr.OrNil()
}

// ConfirmPayment разрешает оплату: Payment(Request) -> Payment(Confirmed).
func (s *Service) ConfirmPayment(ctx context.Context, adminID, orderID string) (domain.Order, error) {
	order, err := s.transition(ctx, adminID, orderID, domain.OrderStatusPaymentConfirmed, nil)
	if err != nil {
		return domain.Order{}, err
	}
	s.writer.Notify(ctx, domain.Notification{
		Code:     "payment_ready",
		Category: domain.NotificationCategoryPayment,
		Title:    "Ready for payment",
		Body:     fmt.Sprintf("Order %s can now be paid", order.ID),
		OrderID:  order.ID,
		UserID:   order.UserID,
	})
	return order, nil
}

// MarkDelivered фиксирует поставку и фактическую дату доставки.
func (s *Service) MarkDelivered(ctx context.Context, adminID, orderID string, deliveredAt time.Time) (domain.Order, error) {
	order, err := s.transition(ctx, adminID, orderID, domain.OrderStatusDelivered, func(o *domain.Order, now time.Time) {
		at := deliveredAt
		if at.IsZero() {
			at = now
		}
		at = at.UTC()
		o.ActualDeliveryDate = &at
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.writer.Notify(ctx, domain.Notification{
		Code:     "order_delivered",
		Category: domain.NotificationCategoryOrder,
		Title:    "Order delivered",
		Body:     fmt.Sprintf("Order %s was delivered", order.ID),
		OrderID:  order.ID,
		UserID:   order.UserID,
	})
	return order, nil
}

func (s *Service) transition(
	ctx context.Context,
	adminID, orderID string,
	to domain.OrderStatus,
	apply func(*domain.Order, time.Time),
) (domain.Order, error) {
	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, now time.Time) error {
		if err := o.Transition(to, adminID, now); err != nil {
			return err
		}
		if apply != nil {
			apply(o, now)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": order.ID, "admin_id": adminID, "status": to.String()}).Info("order status changed by staff")
	return order, nil
}

// RecomputeTotals явно пересчитывает денежный снимок по выбранным позициям до разрешения оплаты.
func (s *Service) RecomputeTotals(ctx context.Context, adminID, orderID string) (domain.Order, error) {
	order, _, err := s.writer.Mutate(ctx, orderID, func(o *domain.Order, now time.Time) error {
		if o.HasReached(domain.OrderStatusPaymentConfirmed) {
			return domain.ErrOrderLocked
		}
		lines := o.SelectedLines()
		for i := range lines {
			lines[i].Quantity = lines[i].BillableQuantity()
		}
		totals := domain.ComputeTotals(lines, s.shippingFee, s.taxRate)
		if totals.Total.Equal(o.TotalAmount) && totals.Subtotal.Equal(o.Subtotal) && totals.Tax.Equal(o.Tax) {
			return lifecycle.ErrUnchanged
		}
		o.ApplyTotals(totals)
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger.WithFields(log.Fields{"order_id": order.ID, "admin_id": adminID, "total": order.TotalAmount.StringFixed(2)}).Info("order totals recomputed")
	return order, nil
}
