package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// Catalog: in-memory каталог цен для тестов и локального запуска.
type Catalog struct {
	mu     sync.RWMutex
	prices map[string]domain.CatalogPrice
}

// NewCatalog создаёт пустой каталог.
func NewCatalog() *Catalog {
	return &Catalog{prices: make(map[string]domain.CatalogPrice)}
}

// Set задаёт текущую цену товара.
func (c *Catalog) Set(productID string, price domain.CatalogPrice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[productID] = price
}

// Remove убирает товар из каталога.
func (c *Catalog) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prices, productID)
}

// Price возвращает цену или ErrProductNotFound.
func (c *Catalog) Price(_ context.Context, productID string) (domain.CatalogPrice, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	price, ok := c.prices[productID]
	if !ok {
		return domain.CatalogPrice{}, domain.ErrProductNotFound
	}
	return price, nil
}

var _ domain.Catalog = (*Catalog)(nil)
