package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// MockProvider: конфигурируемая заглушка PaymentProvider для тестов и локального запуска.
type MockProvider struct {
	mu     sync.Mutex
	Status domain.CaptureStatus
	Err    error
	calls  int
}

// NewMockProvider возвращает mock с успешным capture по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{Status: domain.CaptureCompleted}
}

// Capture возвращает настроенный результат и считает вызовы.
func (m *MockProvider) Capture(_ context.Context, orderID, providerOrderID string) (domain.CaptureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	result := domain.CaptureResult{Status: m.Status, ProviderOrderID: providerOrderID}
	if m.Status == domain.CaptureCompleted {
		result.CaptureID = "mock-capture-" + orderID
	}
	return result, m.Err
}

// Calls возвращает число вызовов Capture.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ domain.PaymentProvider = (*MockProvider)(nil)
