package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// ErrCircuitOpen возвращается, пока breaker не пропускает вызовы к провайдеру.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState: состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker защищает capture от лавины запросов к недоступному провайдеру.
// Отказом считаются только временные ошибки; decline провайдера считается обычным ответом.
type CircuitBreaker struct {
	provider     domain.PaymentProvider
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// BreakerOption настраивает CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock подменяет часы (для тестов).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithBreakerLogger задаёт логгер.
func WithBreakerLogger(logger *log.Entry) BreakerOption {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// NewCircuitBreaker оборачивает provider.
func NewCircuitBreaker(provider domain.PaymentProvider, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{
		provider:     provider,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       log.WithField("component", "circuit-breaker"),
		state:        CircuitClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.state = CircuitHalfOpen
		cb.logger.Info("circuit breaker half-open")
		return true
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && errors.Is(err, domain.ErrPaymentTemporary) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithField("failures", cb.failures).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.Info("circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

// Capture делегирует вызов провайдеру, если breaker закрыт или полуоткрыт.
func (cb *CircuitBreaker) Capture(ctx context.Context, orderID, providerOrderID string) (domain.CaptureResult, error) {
	if !cb.allow() {
		return domain.CaptureResult{}, fmt.Errorf("%w: %w", domain.ErrPaymentTemporary, ErrCircuitOpen)
	}
	result, err := cb.provider.Capture(ctx, orderID, providerOrderID)
	cb.record(err)
	return result, err
}

var _ domain.PaymentProvider = (*CircuitBreaker)(nil)
