package domain

import "context"

// ListFilter ограничивает выборку заказов.
type ListFilter struct {
	// Пустой Statuses означает отсутствие фильтра по статусу.
	Statuses []OrderStatus
	Limit    int
}

// Matches проверяет заказ против фильтра по статусу.
func (f ListFilter) Matches(o Order) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ одной атомарной записью; ErrOrderExists при дубликате.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// ListByUser возвращает заказы покупателя, новые первыми.
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Order, error)
	// List возвращает заказы всех покупателей для back office.
	List(ctx context.Context, filter ListFilter) ([]Order, error)
	// Save заменяет документ заказа целиком с учётом optimistic locking.
	// После успешного Save order.Version в хранилище увеличивается на единицу.
	Save(ctx context.Context, order Order) error
	// Delete удаляет заказ целиком.
	Delete(ctx context.Context, id string) error
}
