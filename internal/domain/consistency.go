package domain

import "github.com/shopspring/decimal"

// CatalogPrice: текущая цена товара в каталоге.
type CatalogPrice struct {
	CalculatedPrice decimal.Decimal
	Discount        decimal.Decimal
}

// IssueReason: причина, по которой позиция блокирует подтверждение.
type IssueReason string

const (
	IssueOutOfStock       IssueReason = "out_of_stock"
	IssueAlternativeOffer IssueReason = "alternative_offer"
	IssueLimitedShortfall IssueReason = "limited_shortfall"
	IssuePriceChanged     IssueReason = "price_changed"
	IssueDiscountChanged  IssueReason = "discount_changed"
	IssueProductMissing   IssueReason = "product_missing"
)

// LineIssue описывает найденное расхождение по позиции.
type LineIssue struct {
	ProductID string
	Reason    IssueReason
	// Для price/discount: снимок и актуальное значение каталога.
	Snapshot decimal.Decimal
	Current  decimal.Decimal
	// Для limited_shortfall: запрошено и подтверждено.
	Requested int
	Approved  int
}

// ConsistencyReport: результат сверки выбранных позиций с каталогом и вердиктом персонала.
type ConsistencyReport struct {
	Consistent bool
	Issues     []LineIssue
	// PendingReview перечисляет выбранные позиции, которые персонал ещё не разобрал.
	PendingReview []string
	Checked       int
}

// CheckConsistency проверяет инвариант "всё или ничего" по выбранным позициям.
// prices должен содержать актуальные цены каталога; товар без цены считается расхождением.
func CheckConsistency(order Order, prices map[string]CatalogPrice) ConsistencyReport {
	report := ConsistencyReport{}
	for _, line := range order.Items {
		if !line.Selected {
			continue
		}
		report.Checked++

		switch line.AdminStatus {
		case AdminStatusOutOfStock:
			report.Issues = append(report.Issues, LineIssue{ProductID: line.ProductID, Reason: IssueOutOfStock})
		case AdminStatusAlternativeOffer:
			report.Issues = append(report.Issues, LineIssue{ProductID: line.ProductID, Reason: IssueAlternativeOffer})
		case AdminStatusLimited:
			if line.AdminQuantity < line.Quantity {
				report.Issues = append(report.Issues, LineIssue{
					ProductID: line.ProductID,
					Reason:    IssueLimitedShortfall,
					Requested: line.Quantity,
					Approved:  line.AdminQuantity,
				})
			}
		case AdminStatusPendingReview:
			report.PendingReview = append(report.PendingReview, line.ProductID)
		}

		current, ok := prices[line.ProductID]
		if !ok {
			report.Issues = append(report.Issues, LineIssue{ProductID: line.ProductID, Reason: IssueProductMissing})
			continue
		}
		if !MoneyEqual(line.UnitPrice, current.CalculatedPrice) {
			report.Issues = append(report.Issues, LineIssue{
				ProductID: line.ProductID,
				Reason:    IssuePriceChanged,
				Snapshot:  line.UnitPrice,
				Current:   current.CalculatedPrice,
			})
		}
		if !MoneyEqual(line.Discount, current.Discount) {
			report.Issues = append(report.Issues, LineIssue{
				ProductID: line.ProductID,
				Reason:    IssueDiscountChanged,
				Snapshot:  line.Discount,
				Current:   current.Discount,
			})
		}
	}
	report.Consistent = len(report.Issues) == 0
	return report
}
