// Package httpapi реализует REST API покупателя и back office поверх chi.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/backoffice"
	"github.com/vladislavdragonenkov/crewshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/crewshop/internal/service/thread"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
)

// Services: прикладные сервисы, которые обслуживает API.
type Services struct {
	Checkout   *checkout.Orchestrator
	Backoffice *backoffice.Service
	Thread     *thread.Service
}

type config struct {
	idempotency domain.IdempotencyRepository
	clock       func() time.Time
	logger      *log.Entry
	middlewares []func(http.Handler) http.Handler
}

// Option настраивает роутер.
type Option func(*config)

// WithIdempotency включает Idempotency-Key для submit и оплаты.
func WithIdempotency(repo domain.IdempotencyRepository) Option {
	return func(c *config) { c.idempotency = repo }
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock подменяет часы для TTL ключей идемпотентности.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMiddlewares добавляет глобальные middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *config) { c.middlewares = append(c.middlewares, mw...) }
}

type handler struct {
	Services
	idem   idempotency
	logger *log.Entry
}

// NewRouter собирает HTTP API.
func NewRouter(services Services, opts ...Option) chi.Router {
	cfg := config{clock: time.Now, logger: log.WithField("component", "http")}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &handler{
		Services: services,
		idem:     idempotency{repo: cfg.idempotency, clock: cfg.clock, logger: cfg.logger},
		logger:   cfg.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(cfg.logger), middleware.Recoverer, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		WriteError(req.Context(), w, NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		WriteError(req.Context(), w, NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Route(apiPrefix, func(api chi.Router) {
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(RequireAdmin)
			h.adminRoutes(admin)
		})
		api.Group(func(buyer chi.Router) {
			buyer.Use(RequireBuyer)
			h.buyerRoutes(buyer)
		})
	})
	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(started).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}

var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func (h *handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(r.Context(), w, NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

// parseListFilter разбирает ?status=...&limit=...; статус принимает и тег, и подпись.
func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	var filter domain.ListFilter
	verr := &domain.ValidationError{}
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := domain.ParseOrderStatus(strings.TrimSpace(part))
			if err != nil {
				verr.Add("status", err)
				continue
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			verr.Add("limit", errors.New("must be a non-negative integer"))
		}
		filter.Limit = limit
	}
	return filter, verr.OrNil()
}
