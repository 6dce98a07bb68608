package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
)

// ReconcileView: экран сверки: свежий заказ, отчёт по инварианту и доступность подтверждения.
type ReconcileView struct {
	Order  domain.Order
	Report domain.ConsistencyReport
	// CanConfirm: кнопка подтверждения активна.
	CanConfirm bool
	// Blockers перечисляет причины, по которым подтверждение недоступно.
	Blockers []string
}

// Причины недоступности подтверждения, кроме находок сверки.
const (
	BlockerNotEditable      = "order_not_editable"
	BlockerNothingSelected  = "no_lines_selected"
	BlockerDeliveryMissing  = "delivery_incomplete"
	BlockerInconsistentView = "review_required"
)

// Reconcile перечитывает заказ и проверяет инвариант по выбранным позициям.
// Нарушение инварианта не ошибка: оно отражается в отчёте и блокирует подтверждение.
func (o *Orchestrator) Reconcile(ctx context.Context, buyer domain.Buyer, orderID string) (view ReconcileView, err error) {
	started := time.Now()
	defer func() { o.observe(opReconcile, started, err) }()

	order, err := o.Order(ctx, buyer, orderID)
	if err != nil {
		return ReconcileView{}, err
	}
	prices, err := o.prices(ctx, order)
	if err != nil {
		return ReconcileView{}, err
	}

	view = ReconcileView{Order: order, Report: domain.CheckConsistency(order, prices)}
	view.Blockers = blockers(order, view.Report)
	view.CanConfirm = len(view.Blockers) == 0
	return view, nil
}

func blockers(order domain.Order, report domain.ConsistencyReport) []string {
	var out []string
	if !order.Status.Editable() {
		out = append(out, BlockerNotEditable)
	}
	if report.Checked == 0 {
		out = append(out, BlockerNothingSelected)
	}
	if !order.Delivery.Complete() {
		out = append(out, BlockerDeliveryMissing)
	}
	if !report.Consistent {
		out = append(out, BlockerInconsistentView)
	}
	return out
}

func editable(buyer domain.Buyer, order *domain.Order) error {
	if err := owns(buyer, order); err != nil {
		return err
	}
	if !order.Status.Editable() {
		return domain.ErrOrderLocked
	}
	return nil
}

// UpdateLineQuantity меняет запрошенное количество у позиции Available/Limited.
// Значение ограничивается снизу единицей, для Limited сверху подтверждённым персоналом количеством.
func (o *Orchestrator) UpdateLineQuantity(ctx context.Context, buyer domain.Buyer, orderID, productID string, quantity int) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.observe(opEditLine, started, err) }()

	order, _, err = o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := editable(buyer, ord); err != nil {
			return err
		}
		line, _ := ord.Line(productID)
		if line == nil {
			return domain.ErrLineNotFound
		}
		if !line.AdminStatus.Fulfillable() {
			return domain.ErrLineNotAdjustable
		}

		qty := max(quantity, 1)
		if line.AdminStatus == domain.AdminStatusLimited && line.AdminQuantity > 0 {
			qty = min(qty, line.AdminQuantity)
		}
		if qty == line.Quantity {
			return lifecycle.ErrUnchanged
		}
		line.Quantity = qty
		ord.UpdatedAt = now
		return nil
	})
	return order, err
}

// SetLineSelected включает или исключает позицию из сверки и подтверждения.
func (o *Orchestrator) SetLineSelected(ctx context.Context, buyer domain.Buyer, orderID, productID string, selected bool) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.observe(opEditLine, started, err) }()

	order, _, err = o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := editable(buyer, ord); err != nil {
			return err
		}
		line, _ := ord.Line(productID)
		if line == nil {
			return domain.ErrLineNotFound
		}
		if line.Selected == selected {
			return lifecycle.ErrUnchanged
		}
		line.Selected = selected
		ord.UpdatedAt = now
		return nil
	})
	return order, err
}

// RemoveResult: итог удаления позиции.
type RemoveResult struct {
	Order domain.Order
	// Deleted: удалена последняя позиция, вместе с ней удалён заказ.
	Deleted bool
}

var errLastLine = errors.New("last line")

// RemoveLine физически удаляет позицию до подтверждения. Удаление последней позиции удаляет
// весь заказ и требует confirm; без него возвращается ErrDeleteConfirmationRequired.
func (o *Orchestrator) RemoveLine(ctx context.Context, buyer domain.Buyer, orderID, productID string, confirm bool) (res RemoveResult, err error) {
	started := time.Now()
	defer func() { o.observe(opRemoveLine, started, err) }()

	var last domain.Order
	order, _, err := o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := editable(buyer, ord); err != nil {
			return err
		}
		if line, _ := ord.Line(productID); line == nil {
			return domain.ErrLineNotFound
		}
		if len(ord.Items) == 1 {
			last = *ord
			return errLastLine
		}
		if _, err := ord.RemoveLine(productID); err != nil {
			return err
		}
		ord.UpdatedAt = now
		return nil
	})
	switch {
	case err == nil:
		return RemoveResult{Order: order}, nil
	case !errors.Is(err, errLastLine):
		return RemoveResult{}, err
	case !confirm:
		return RemoveResult{}, domain.ErrDeleteConfirmationRequired
	}

	if err := o.writer.Delete(ctx, last, buyer.Identity()); err != nil {
		return RemoveResult{}, err
	}
	o.logger.WithField("order_id", orderID).Info("order deleted after its last line was removed")
	return RemoveResult{Deleted: true}, nil
}

// UpdateDelivery заменяет данные доставки до подтверждения.
func (o *Orchestrator) UpdateDelivery(ctx context.Context, buyer domain.Buyer, orderID string, details domain.DeliveryDetails) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.observe(opDelivery, started, err) }()

	details = details.Normalize()
	if err := details.Validate(); err != nil {
		return domain.Order{}, err
	}

	order, _, err = o.writer.Mutate(ctx, orderID, func(ord *domain.Order, now time.Time) error {
		if err := editable(buyer, ord); err != nil {
			return err
		}
		if ord.Delivery == details {
			return lifecycle.ErrUnchanged
		}
		ord.Delivery = details
		ord.UpdatedAt = now
		return nil
	})
	return order, err
}
