// Package payment содержит адаптеры платёжного провайдера: REST-клиент PayPal,
// circuit breaker поверх любого domain.PaymentProvider и mock для тестов.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/version"
)

const (
	// SandboxBaseURL: адрес песочницы PayPal по умолчанию.
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 64 << 10
)

// PayPalConfig описывает подключение к PayPal REST API.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// PayPalClient выполняет capture заказа, созданного на стороне PayPal.
type PayPalClient struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

// NewPayPalClient создаёт клиента с OAuth2 client-credentials.
// base задаёт транспорт для токена и запросов; nil означает http.DefaultClient.
func NewPayPalClient(cfg PayPalConfig, base *http.Client, logger *log.Entry) (*PayPalClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "paypal")
	}

	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	client := creds.Client(ctx)
	client.Timeout = timeout

	return &PayPalClient{baseURL: baseURL, http: client, logger: logger}, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e errorResponse) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// Capture списывает платёж по providerOrderID. orderID уходит в PayPal-Request-Id,
// поэтому повтор того же capture у PayPal идемпотентен.
func (c *PayPalClient) Capture(ctx context.Context, orderID, providerOrderID string) (domain.CaptureResult, error) {
	url := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseURL, providerOrderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return domain.CaptureResult{}, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	req.Header.Set("PayPal-Request-Id", "capture-"+orderID)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.CaptureResult{}, fmt.Errorf("%w: paypal capture: %v", domain.ErrPaymentTemporary, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return domain.CaptureResult{}, fmt.Errorf("%w: read paypal response: %v", domain.ErrPaymentTemporary, err)
	}

	entry := c.logger.WithFields(log.Fields{
		"order_id":          orderID,
		"provider_order_id": providerOrderID,
		"http_status":       resp.StatusCode,
	})

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out captureResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return domain.CaptureResult{}, fmt.Errorf("%w: decode paypal response: %v", domain.ErrPaymentTemporary, err)
		}
		result := out.result(providerOrderID)
		entry.WithField("status", result.Status).Info("paypal capture finished")
		return result, nil
	}

	var perr errorResponse
	_ = json.Unmarshal(body, &perr)
	entry = entry.WithField("paypal_error", perr.Name)

	switch {
	case perr.hasIssue("ORDER_ALREADY_CAPTURED"):
		entry.Info("paypal order already captured")
		return domain.CaptureResult{Status: domain.CaptureCompleted, ProviderOrderID: providerOrderID}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		entry.Warn("paypal capture temporary failure")
		return domain.CaptureResult{}, fmt.Errorf("%w: paypal status %d", domain.ErrPaymentTemporary, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized:
		entry.Error("paypal rejected credentials")
		return domain.CaptureResult{}, fmt.Errorf("%w: paypal unauthorized", domain.ErrPaymentTemporary)
	default:
		entry.Warn("paypal capture declined")
		return domain.CaptureResult{Status: domain.CaptureDeclined, ProviderOrderID: providerOrderID},
			fmt.Errorf("%w: %s %s", domain.ErrPaymentDeclined, perr.Name, perr.Message)
	}
}

func (r captureResponse) result(providerOrderID string) domain.CaptureResult {
	result := domain.CaptureResult{ProviderOrderID: r.ID}
	if result.ProviderOrderID == "" {
		result.ProviderOrderID = providerOrderID
	}
	status := r.Status
	for _, unit := range r.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			result.CaptureID = capture.ID
			status = capture.Status
		}
	}
	switch strings.ToUpper(status) {
	case "COMPLETED":
		result.Status = domain.CaptureCompleted
	case "PENDING":
		result.Status = domain.CapturePending
	case "VOIDED":
		result.Status = domain.CaptureCanceled
	default:
		result.Status = domain.CaptureDeclined
	}
	return result
}

var _ domain.PaymentProvider = (*PayPalClient)(nil)
