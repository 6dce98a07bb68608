package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// CheckFunc проверяет доступность зависимости (хранилище, Redis, брокер).
type CheckFunc func(ctx context.Context) error

type probe struct {
	fn       CheckFunc
	critical bool
}

// ProbeOption настраивает регистрацию проверки.
type ProbeOption func(*probe)

// NonCritical: отказ компонента переводит сервис в degraded, но не снимает readiness.
func NonCritical() ProbeOption {
	return func(p *probe) { p.critical = false }
}

// Handler агрегирует проверки компонентов.
type Handler struct {
	mu        sync.RWMutex
	probes    map[string]probe
	version   string
	timeout   time.Duration
	startTime time.Time
	now       func() time.Time
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		probes:    make(map[string]probe),
		version:   version,
		timeout:   defaultCheckTimeout,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Register добавляет проверку; по умолчанию она критична для readiness.
func (h *Handler) Register(name string, fn CheckFunc, opts ...ProbeOption) {
	p := probe{fn: fn, critical: true}
	for _, opt := range opts {
		opt(&p)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = p
}

// Evaluate выполняет все проверки параллельно с общим таймаутом.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	probes := make(map[string]probe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]Check, len(probes))
	)
	for name, p := range probes {
		wg.Add(1)
		go func(name string, p probe) {
			defer wg.Done()
			check := run(ctx, name, p)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()

	return Response{
		Status:        overall(checks),
		Timestamp:     h.now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

func run(ctx context.Context, name string, p probe) Check {
	start := time.Now()
	err := p.fn(ctx)
	check := Check{Name: name, Status: StatusHealthy, Critical: p.critical, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Message = err.Error()
		check.Status = StatusUnhealthy
		if !p.critical {
			check.Status = StatusDegraded
		}
	}
	return check
}

func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Failing возвращает имена непрошедших проверок в алфавитном порядке.
func (r Response) Failing() []string {
	var names []string
	for name, check := range r.Checks {
		if check.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServeHTTP отдаёт полный отчёт; 503 только при отказе критичного компонента.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока недоступен хотя бы один критичный компонент.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
