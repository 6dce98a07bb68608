package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

const (
	// HeaderIdempotencyKey: ключ повторной отправки запроса, уникальный в пределах покупателя.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется, когда ответ взят из кеша.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	idempotencyTTL = 24 * time.Hour
	maxRequestBody = 64 << 10
)

// idempotency оборачивает обработчик: повтор того же ключа с тем же запросом получает сохранённый ответ.
type idempotency struct {
	repo   domain.IdempotencyRepository
	clock  func() time.Time
	logger *log.Entry
}

// wrap защищает operation ключом. required=false пропускает запросы без заголовка.
func (m idempotency) wrap(operation string, required bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := r.Header.Get(HeaderIdempotencyKey)
		if m.repo == nil || (strings.TrimSpace(raw) == "" && !required) {
			next(w, r)
			return
		}
		key, err := domain.NewIdempotencyKey(buyerFrom(ctx).UserID, raw)
		if err != nil {
			WriteError(ctx, w, errorFrom(err))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			WriteError(ctx, w, NewError("invalid_request", "request body is too large or unreadable", http.StatusRequestEntityTooLarge))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		entry := m.logger.WithFields(log.Fields{"idempotency_key": key.Value, "operation": operation})
		record, err := m.repo.Claim(ctx, domain.IdempotencyClaim{
			Key:         key,
			Operation:   operation,
			RequestHash: requestHash(r.Method, r.URL.Path, body),
			ExpiresAt:   m.clock().UTC().Add(idempotencyTTL),
		})
		if err != nil {
			m.answerExisting(w, r, err, record, entry)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var captured bytes.Buffer
		ww.Tee(&captured)
		next(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		resp := domain.StoredResponse{StatusCode: code, Body: captured.Bytes()}
		if err := m.repo.Finish(ctx, key, domain.OutcomeForStatus(code), resp); err != nil {
			entry.WithError(err).Warn("failed to store idempotent response")
		}
	}
}

// answerExisting отвечает на запрос, ключ которого уже занят.
func (m idempotency) answerExisting(w http.ResponseWriter, r *http.Request, claimErr error, record domain.IdempotencyRecord, entry *log.Entry) {
	ctx := r.Context()
	switch {
	case errors.Is(claimErr, domain.ErrIdempotencyHashMismatch):
		WriteError(ctx, w, errorFrom(claimErr))
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists) && record.Replayable():
		entry.Debug("replaying stored response")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderIdempotentReplay, "true")
		w.WriteHeader(record.Response.StatusCode)
		_, _ = w.Write(record.Response.Body)
	case errors.Is(claimErr, domain.ErrIdempotencyKeyAlreadyExists):
		WriteError(ctx, w, NewError("request_in_progress", "request with the same idempotency key is already processing", http.StatusConflict))
	default:
		entry.WithError(claimErr).Warn("failed to claim idempotency key")
		WriteError(ctx, w, errorFrom(claimErr))
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
