package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// OrderRepository хранит документы заказов в памяти процесса.
// Наружу отдаются только копии.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	// byUser: ID заказов покупателя в порядке создания.
	byUser map[string][]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		byUser: make(map[string][]string),
	}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.ErrOrderExists
	}
	r.orders[order.ID] = order.Clone()
	r.byUser[order.UserID] = append(r.byUser[order.UserID], order.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if order, ok := r.orders[id]; ok {
		return order.Clone(), nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string, filter domain.ListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byUser[userID]
	found := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		if order := r.orders[id]; filter.Matches(order) {
			found = append(found, order.Clone())
		}
	}
	return newestFirst(found, filter.Limit), nil
}

func (r *OrderRepository) List(_ context.Context, filter domain.ListFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Matches(order) {
			found = append(found, order.Clone())
		}
	}
	return newestFirst(found, filter.Limit), nil
}

// newestFirst сортирует по CreatedAt убыванию, при равенстве по ID убыванию, и обрезает до limit.
func newestFirst(orders []domain.Order, limit int) []domain.Order {
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

// Save заменяет документ, если версия совпала с сохранённой. История статусов только растёт.
func (r *OrderRepository) Save(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return domain.ErrOrderVersionConflict
	case len(order.StatusHistory) < len(stored.StatusHistory):
		return domain.ErrStatusHistoryRewrite
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.orders, id)
	r.byUser[order.UserID] = slices.DeleteFunc(r.byUser[order.UserID], func(v string) bool { return v == id })
	if len(r.byUser[order.UserID]) == 0 {
		delete(r.byUser, order.UserID)
	}
	return nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
