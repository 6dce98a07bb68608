package app

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/payment"
)

// newPaymentProvider собирает клиент PayPal за circuit breaker.
// Без учётных данных используется mock, подтверждающий любой capture: режим локального запуска.
func newPaymentProvider(cfg Config, logger *log.Entry) (domain.PaymentProvider, error) {
	paypalLogger := logger.WithField("component", "paypal")
	if strings.TrimSpace(cfg.PayPalClientID) == "" {
		paypalLogger.Warn("paypal credentials are not configured, using mock provider")
		return payment.NewMockProvider(), nil
	}

	client, err := payment.NewPayPalClient(payment.PayPalConfig{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		Timeout:      cfg.PayPalTimeout,
	}, http.DefaultClient, paypalLogger)
	if err != nil {
		return nil, err
	}
	return payment.NewCircuitBreaker(client, cfg.PaymentBreakerFailures, cfg.PaymentBreakerReset,
		payment.WithBreakerLogger(paypalLogger)), nil
}

func moneySettings(cfg Config) (fee, tax decimal.Decimal, err error) {
	parse := func(raw string) (decimal.Decimal, error) {
		if strings.TrimSpace(raw) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(raw))
	}
	if fee, err = parse(cfg.ShippingFee); err != nil {
		return fee, tax, err
	}
	if fee.IsNegative() {
		return fee, tax, errNegativeFee
	}
	if tax, err = parse(cfg.TaxRate); err != nil {
		return fee, tax, err
	}
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(1)) {
		return fee, tax, errTaxRateRange
	}
	return fee, tax, nil
}
