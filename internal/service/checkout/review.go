package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/thread"
)

// Draft: ещё не сохранённый выбор из корзины, который покупатель просматривает перед отправкой.
type Draft struct {
	UserID    string
	Lines     []domain.OrderLine
	Totals    domain.Totals
	Submitted bool
	OrderID   string
}

// SubmitRequest: данные отправки заказа на разбор.
type SubmitRequest struct {
	ProductIDs []string
	Delivery   domain.DeliveryDetails
	// Необязательное первое сообщение персоналу.
	MessageText  string
	MessageImage string
}

// SubmitResult: созданный заказ.
type SubmitResult struct {
	Order domain.Order
	// MessageStripped: из первого сообщения удалены неанглийские символы.
	MessageStripped bool
}

func validateCart(items []domain.CartItem) error {
	verr := &domain.ValidationError{}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		field := fmt.Sprintf("cart[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			verr.Add(field+".product_id", domain.ErrLineNotFound)
		}
		if item.Quantity < 1 {
			verr.Add(field+".quantity", domain.ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() || item.Discount.IsNegative() {
			verr.Add(field+".unit_price", domain.ErrItemPriceInvalid)
		}
		if _, dup := seen[item.ProductID]; dup {
			verr.Add(field+".product_id", domain.ErrDuplicateProduct)
		}
		seen[item.ProductID] = struct{}{}
	}
	return verr.OrNil()
}

// selectLines строит позиции заказа из выбранных товаров корзины в порядке корзины.
func selectLines(cart []domain.CartItem, productIDs []string, verr *domain.ValidationError) []domain.OrderLine {
	wanted := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[strings.TrimSpace(id)] = false
	}
	if len(wanted) == 0 {
		verr.Add("items", domain.ErrNoItemsSelected)
		return nil
	}

	lines := make([]domain.OrderLine, 0, len(wanted))
	for _, item := range cart {
		if _, ok := wanted[item.ProductID]; !ok {
			continue
		}
		wanted[item.ProductID] = true
		lines = append(lines, domain.OrderLine{
			ProductID:     item.ProductID,
			Name:          item.Name,
			ImageURL:      item.ImageURL,
			Quantity:      item.Quantity,
			UnitPrice:     domain.RoundMoney(item.UnitPrice),
			Discount:      domain.RoundMoney(item.Discount),
			AdminStatus:   domain.AdminStatusPendingReview,
			AdminQuantity: item.Quantity,
			Selected:      true,
		})
	}
	for id, found := range wanted {
		if !found {
			verr.Add("items."+id, domain.ErrProductNotFound)
		}
	}
	return lines
}

// PrepareReview собирает черновик из выбранных позиций корзины. Ничего не сохраняет.
func (o *Orchestrator) PrepareReview(ctx context.Context, buyer domain.Buyer, productIDs []string) (draft Draft, err error) {
	started := time.Now()
	defer func() { o.observe(opPrepare, started, err) }()

	if buyer.UserID == "" {
		return Draft{}, domain.ErrUserRequired
	}
	cart, err := o.carts.Get(ctx, buyer.UserID)
	if err != nil {
		return Draft{}, fmt.Errorf("read cart: %w", err)
	}

	verr := &domain.ValidationError{}
	lines := selectLines(cart, productIDs, verr)
	if err := verr.OrNil(); err != nil {
		return Draft{}, err
	}
	return Draft{
		UserID: buyer.UserID,
		Lines:  lines,
		Totals: domain.ComputeTotals(lines, o.shippingFee, o.taxRate),
	}, nil
}

// CancelReview отменяет неотправленный черновик и возвращает корзину без изменений.
func (o *Orchestrator) CancelReview(ctx context.Context, buyer domain.Buyer, draft Draft) ([]domain.CartItem, error) {
	if draft.Submitted || draft.OrderID != "" {
		return nil, domain.ErrCancelNotAllowed
	}
	if buyer.UserID == "" || draft.UserID != buyer.UserID {
		return nil, domain.ErrUserRequired
	}
	return o.carts.Get(ctx, buyer.UserID)
}

// SubmitReview создаёт заказ со статусом Order из выбранных позиций корзины и очищает корзину.
// Ошибки валидации возвращаются до любой записи.
func (o *Orchestrator) SubmitReview(ctx context.Context, buyer domain.Buyer, req SubmitRequest) (res SubmitResult, err error) {
	started := time.Now()
	defer func() { o.observe(opSubmit, started, err) }()

	verr := &domain.ValidationError{}
	if buyer.UserID == "" {
		verr.Add("user_id", domain.ErrUserRequired)
	}
	delivery := req.Delivery.Normalize()
	var derr *domain.ValidationError
	if errors.As(delivery.Validate(), &derr) {
		verr.Fields = append(verr.Fields, derr.Fields...)
	}
	if len(req.ProductIDs) == 0 {
		verr.Add("items", domain.ErrNoItemsSelected)
	}
	if err := verr.OrNil(); err != nil {
		return SubmitResult{}, err
	}

	cart, err := o.carts.Get(ctx, buyer.UserID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read cart: %w", err)
	}
	lines := selectLines(cart, req.ProductIDs, verr)
	if err := verr.OrNil(); err != nil {
		return SubmitResult{}, err
	}

	now := o.writer.Now()
	order := domain.Order{
		ID:           o.newID(),
		UserID:       buyer.UserID,
		UserEmail:    buyer.Email,
		CustomerName: buyer.Name,
		Items:        lines,
		Delivery:     delivery,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	order.ApplyTotals(domain.ComputeTotals(lines, o.shippingFee, o.taxRate))
	if err := order.Transition(domain.OrderStatusOrderRequest, buyer.Identity(), now); err != nil {
		return SubmitResult{}, err
	}

	if req.MessageText != "" || req.MessageImage != "" {
		clean := thread.Sanitize(domain.SenderUser, req.MessageText)
		res.MessageStripped = clean.Stripped
		image := strings.TrimSpace(req.MessageImage)
		if clean.Text != "" || image != "" {
			if _, err := order.AppendMessage(domain.SenderUser, clean.Text, image, now); err != nil {
				return SubmitResult{}, err
			}
		}
	}

	if err := o.writer.Create(ctx, order); err != nil {
		return SubmitResult{}, err
	}
	o.clearCart(ctx, buyer.UserID, order.ID)

	o.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  buyer.UserID,
		"lines":    len(lines),
	}).Info("order submitted for review")

	o.writer.Notify(ctx, domain.Notification{
		Code:     "order_submitted",
		Category: domain.NotificationCategoryOrder,
		Title:    "Order received",
		Body:     fmt.Sprintf("Order %s is waiting for staff review", order.ID),
		OrderID:  order.ID,
		UserID:   order.UserID,
	})

	res.Order = order
	return res, nil
}
