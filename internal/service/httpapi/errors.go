package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// Error: JSON-конверт ошибки API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	Details   map[string]any
}

// NewError создаёт ошибку; status 0 означает 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: sanitize(code, 80), Message: sanitize(message, 512), Status: status}
}

// WithDetails добавляет поля к телу ошибки.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError пишет ошибку в ответ; request_id берётся из chi middleware.RequestID.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	requestID := e.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}

	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  status,
	}
	if requestID != "" {
		payload["request_id"] = requestID
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}

type errorMapping struct {
	target error
	code   string
	status int
}

// Порядок важен: первая подходящая запись выигрывает.
var errorMappings = []errorMapping{
	{domain.ErrConfirmationBlocked, "confirmation_blocked", http.StatusConflict},
	{domain.ErrDeleteConfirmationRequired, "delete_confirmation_required", http.StatusConflict},
	{domain.ErrIdempotencyKeyRequired, "idempotency_key_required", http.StatusBadRequest},
	{domain.ErrIdempotencyKeyTooLong, "idempotency_key_too_long", http.StatusBadRequest},
	{domain.ErrIdempotencyHashMismatch, "idempotency_key_reused", http.StatusUnprocessableEntity},
	{domain.ErrIdempotencyScopeRequired, "unauthenticated", http.StatusUnauthorized},
	{domain.ErrUserRequired, "unauthenticated", http.StatusUnauthorized},
	{domain.ErrValidation, "validation_failed", http.StatusBadRequest},
	{domain.ErrUnknownPaymentMethod, "unknown_payment_method", http.StatusBadRequest},
	{domain.ErrNoItemsSelected, "no_items_selected", http.StatusBadRequest},
	{domain.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{domain.ErrLineNotFound, "line_not_found", http.StatusNotFound},
	{domain.ErrMessageNotFound, "message_not_found", http.StatusNotFound},
	{domain.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{domain.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{domain.ErrOrderLocked, "order_locked", http.StatusConflict},
	{domain.ErrMessageNotRemovable, "message_not_removable", http.StatusConflict},
	{domain.ErrCancelNotAllowed, "cancel_not_allowed", http.StatusConflict},
	{domain.ErrOrderVersionConflict, "version_conflict", http.StatusConflict},
	{domain.ErrLineNotAdjustable, "line_not_adjustable", http.StatusUnprocessableEntity},
	{domain.ErrPaymentDeclined, "payment_declined", http.StatusPaymentRequired},
	{domain.ErrPaymentTemporary, "payment_unavailable", http.StatusServiceUnavailable},
}

// errorFrom переводит доменную ошибку в конверт ответа.
func errorFrom(err error) Error {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		apiErr := NewError(m.code, err.Error(), m.status)

		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			fields := make(map[string]string, len(verr.Fields))
			for _, f := range verr.Fields {
				fields[f.Field] = f.Err.Error()
			}
			apiErr = apiErr.WithDetails(map[string]any{"fields": fields})
		}
		var cerr *domain.ConsistencyError
		if errors.As(err, &cerr) {
			apiErr = apiErr.WithDetails(map[string]any{"report": newReportResponse(cerr.Report)})
		}
		return apiErr
	}
	return NewError("internal_error", "internal server error", http.StatusInternalServerError)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errorFrom(err)
	entry := h.logger.WithError(err).WithField("path", r.URL.Path)
	if apiErr.Status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	WriteError(r.Context(), w, apiErr)
}
