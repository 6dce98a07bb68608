package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

func catalogFor(order domain.Order) map[string]domain.CatalogPrice {
	prices := make(map[string]domain.CatalogPrice, len(order.Items))
	for _, line := range order.Items {
		prices[line.ProductID] = domain.CatalogPrice{CalculatedPrice: line.UnitPrice, Discount: line.Discount}
	}
	return prices
}

func reasons(report domain.ConsistencyReport) []domain.IssueReason {
	out := make([]domain.IssueReason, 0, len(report.Issues))
	for _, issue := range report.Issues {
		out = append(out, issue.Reason)
	}
	return out
}

func TestCheckConsistency(t *testing.T) {
	cases := []struct {
		name       string
		mut        func(o *domain.Order, prices map[string]domain.CatalogPrice)
		consistent bool
		reason     domain.IssueReason
	}{
		{
			name: "all available at catalog price",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusAvailable
				o.Items[1].AdminStatus = domain.AdminStatusAvailable
			},
			consistent: true,
		},
		{
			name: "out of stock blocks",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusAvailable
				o.Items[1].AdminStatus = domain.AdminStatusOutOfStock
			},
			reason: domain.IssueOutOfStock,
		},
		{
			name: "alternative offer blocks",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusAlternativeOffer
			},
			reason: domain.IssueAlternativeOffer,
		},
		{
			name: "limited below request blocks",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusLimited
				o.Items[0].AdminQuantity = 4
			},
			reason: domain.IssueLimitedShortfall,
		},
		{
			name: "limited covering request passes",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusLimited
				o.Items[0].AdminQuantity = 5
			},
			consistent: true,
		},
		{
			name: "price drift blocks",
			mut: func(_ *domain.Order, prices map[string]domain.CatalogPrice) {
				p := prices["p-a"]
				p.CalculatedPrice = decimal.RequireFromString("12.51")
				prices["p-a"] = p
			},
			reason: domain.IssuePriceChanged,
		},
		{
			name: "sub-cent difference is equal at two decimals",
			mut: func(_ *domain.Order, prices map[string]domain.CatalogPrice) {
				p := prices["p-a"]
				p.CalculatedPrice = decimal.RequireFromString("12.5049")
				prices["p-a"] = p
			},
			consistent: true,
		},
		{
			name: "discount drift blocks",
			mut: func(_ *domain.Order, prices map[string]domain.CatalogPrice) {
				p := prices["p-b"]
				p.Discount = decimal.RequireFromString("0.50")
				prices["p-b"] = p
			},
			reason: domain.IssueDiscountChanged,
		},
		{
			name: "missing product blocks",
			mut: func(_ *domain.Order, prices map[string]domain.CatalogPrice) {
				delete(prices, "p-b")
			},
			reason: domain.IssueProductMissing,
		},
		{
			name: "deselected out of stock line is ignored",
			mut: func(o *domain.Order, _ map[string]domain.CatalogPrice) {
				o.Items[0].AdminStatus = domain.AdminStatusAvailable
				o.Items[1].AdminStatus = domain.AdminStatusOutOfStock
				o.Items[1].Selected = false
			},
			consistent: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			prices := catalogFor(order)
			tc.mut(&order, prices)

			report := domain.CheckConsistency(order, prices)
			if report.Consistent != tc.consistent {
				t.Fatalf("consistent = %v, want %v (issues %v)", report.Consistent, tc.consistent, reasons(report))
			}
			if tc.reason == "" {
				return
			}
			found := false
			for _, r := range reasons(report) {
				if r == tc.reason {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected reason %s, got %v", tc.reason, reasons(report))
			}
		})
	}
}

func TestCheckConsistency_PendingReviewIsReported(t *testing.T) {
	order := makeOrder()
	report := domain.CheckConsistency(order, catalogFor(order))

	if !report.Consistent {
		t.Fatalf("pending lines at catalog price are consistent, got %v", reasons(report))
	}
	if len(report.PendingReview) != 2 {
		t.Fatalf("expected both lines listed as pending review, got %v", report.PendingReview)
	}
	if report.Checked != 2 {
		t.Fatalf("expected two checked lines, got %d", report.Checked)
	}
}
