package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// SendOrderConfirmation подтверждает заказ покупателем и переводит его в Payment(Request).
//
// Инвариант перепроверяется на свежей копии заказа; при нарушении возвращается
// *domain.ConsistencyError и ничего не записывается. При успехе невыбранные позиции
// удаляются, quantity становится подтверждённым количеством, итоги пересчитываются,
// а история получает две записи: Order(Confirmed) и Payment(Request).
func (o *Orchestrator) SendOrderConfirmation(ctx context.Context, buyer domain.Buyer, orderID string) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.observe(opConfirm, started, err) }()

	order, _, err = o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := owns(buyer, ord); err != nil {
			return err
		}
		if !ord.Status.Editable() {
			return &domain.TransitionError{From: ord.Status, To: domain.OrderStatusOrderConfirmed}
		}

		verr := &domain.ValidationError{}
		if len(ord.SelectedLines()) == 0 {
			verr.Add("items", domain.ErrNoItemsSelected)
		}
		var derr *domain.ValidationError
		if errors.As(ord.Delivery.Validate(), &derr) {
			verr.Fields = append(verr.Fields, derr.Fields...)
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		prices, err := o.prices(ctx, *ord)
		if err != nil {
			return err
		}
		if report := domain.CheckConsistency(*ord, prices); !report.Consistent {
			return &domain.ConsistencyError{Report: report}
		}

		billable := make([]domain.OrderLine, 0, len(ord.Items))
		for _, line := range ord.SelectedLines() {
			line.Quantity = line.BillableQuantity()
			billable = append(billable, line)
		}
		ord.Items = billable
		ord.ApplyTotals(domain.ComputeTotals(billable, o.shippingFee, o.taxRate))

		changedBy := buyer.Identity()
		if err := ord.Transition(domain.OrderStatusOrderConfirmed, changedBy, now); err != nil {
			return err
		}
		return ord.Transition(domain.OrderStatusPaymentRequest, changedBy, now)
	})
	if err != nil {
		var cerr *domain.ConsistencyError
		if errors.As(err, &cerr) && len(cerr.Report.Issues) > 0 {
			o.metrics.RecordConfirmationBlocked(string(cerr.Report.Issues[0].Reason))
		}
		return domain.Order{}, err
	}

	o.clearCart(ctx, order.UserID, order.ID)
	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order confirmed by buyer")

	o.writer.Notify(ctx, domain.Notification{
		Code:     "order_confirmed",
		Category: domain.NotificationCategoryOrder,
		Title:    "Order confirmed",
		Body:     fmt.Sprintf("Order %s is waiting for payment approval", order.ID),
		OrderID:  order.ID,
		UserID:   order.UserID,
	})
	return order, nil
}
