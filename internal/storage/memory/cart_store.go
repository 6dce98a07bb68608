package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// CartStore: in-memory корзины покупателей.
type CartStore struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartItem
}

// NewCartStore создаёт пустое хранилище корзин.
func NewCartStore() *CartStore {
	return &CartStore{carts: make(map[string][]domain.CartItem)}
}

// Get возвращает копию корзины; для неизвестного покупателя пустой слайс.
func (s *CartStore) Get(_ context.Context, userID string) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.CartItem{}, s.carts[userID]...), nil
}

// Replace заменяет корзину целиком; пустой список удаляет запись.
func (s *CartStore) Replace(_ context.Context, userID string, items []domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(items) == 0 {
		delete(s.carts, userID)
		return nil
	}
	s.carts[userID] = append([]domain.CartItem(nil), items...)
	return nil
}

var _ domain.CartStore = (*CartStore)(nil)
