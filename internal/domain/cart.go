package domain

import "github.com/shopspring/decimal"

// CartItem: позиция корзины покупателя в том виде, как её хранит Cart Store.
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name,omitempty"`
	ImageURL  string          `json:"imageUrl,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Discount  decimal.Decimal `json:"discount"`
}

// Buyer: явный контекст покупателя вместо глобальной сессии.
type Buyer struct {
	UserID string
	Email  string
	Name   string
}

// Identity возвращает значение для changedBy.
func (b Buyer) Identity() string {
	if b.Email != "" {
		return b.Email
	}
	return b.UserID
}
