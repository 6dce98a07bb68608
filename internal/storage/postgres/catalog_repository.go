package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// CatalogRepository читает актуальные цены из таблицы products.
// Таблица: read model каталога, который ведёт другой сервис.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию Catalog.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// Price возвращает цену и скидку товара или ErrProductNotFound.
func (r *CatalogRepository) Price(ctx context.Context, productID string) (domain.CatalogPrice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var price domain.CatalogPrice
	err := r.db.QueryRowContext(ctx, `
		SELECT calculated_price, discount
		FROM products
		WHERE id = $1
	`, productID).Scan(&price.CalculatedPrice, &price.Discount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogPrice{}, domain.ErrProductNotFound
		}
		return domain.CatalogPrice{}, fmt.Errorf("select product price: %w", err)
	}
	return price, nil
}

// Upsert сохраняет цену товара; используется синхронизацией каталога и тестами.
func (r *CatalogRepository) Upsert(ctx context.Context, productID, name string, calculatedPrice, discount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, calculated_price, discount, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    calculated_price = EXCLUDED.calculated_price,
		    discount = EXCLUDED.discount,
		    updated_at = EXCLUDED.updated_at
	`, productID, name, calculatedPrice, discount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

var _ domain.Catalog = (*CatalogRepository)(nil)
