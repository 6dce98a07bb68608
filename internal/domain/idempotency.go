package domain

import (
	"strings"
	"time"
)

// MaxIdempotencyKeyLength ограничивает длину значения из заголовка Idempotency-Key.
const MaxIdempotencyKeyLength = 128

// IdempotencyKey: значение ключа в пространстве конкретного пользователя.
// Одинаковые значения у разных покупателей не пересекаются.
type IdempotencyKey struct {
	Scope string
	Value string
}

// NewIdempotencyKey нормализует и проверяет ключ.
func NewIdempotencyKey(scope, value string) (IdempotencyKey, error) {
	scope = strings.TrimSpace(scope)
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return IdempotencyKey{}, ErrIdempotencyKeyRequired
	case len(value) > MaxIdempotencyKeyLength:
		return IdempotencyKey{}, ErrIdempotencyKeyTooLong
	case scope == "":
		return IdempotencyKey{}, ErrIdempotencyScopeRequired
	}
	return IdempotencyKey{Scope: scope, Value: value}, nil
}

func (k IdempotencyKey) String() string {
	return k.Scope + "/" + k.Value
}

// IdempotencyStatus: стадия обработки запроса с ключом.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusCompleted: успешный ответ сохранён и воспроизводится.
	IdempotencyStatusCompleted IdempotencyStatus = "completed"
	// IdempotencyStatusRejected: клиентская ошибка (4xx), тоже воспроизводится.
	IdempotencyStatusRejected IdempotencyStatus = "rejected"
	// IdempotencyStatusAborted: сбой сервера, тот же запрос можно выполнить снова.
	IdempotencyStatusAborted IdempotencyStatus = "aborted"
)

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusCompleted, IdempotencyStatusRejected, IdempotencyStatusAborted:
		return true
	default:
		return false
	}
}

// Final сообщает, что обработка запроса закончена.
func (s IdempotencyStatus) Final() bool {
	return s.Valid() && s != IdempotencyStatusProcessing
}

// OutcomeForStatus выбирает итоговый статус записи по HTTP-коду ответа.
func OutcomeForStatus(code int) IdempotencyStatus {
	switch {
	case code < 400:
		return IdempotencyStatusCompleted
	case code < 500:
		return IdempotencyStatusRejected
	default:
		return IdempotencyStatusAborted
	}
}

// StoredResponse: ответ, отдаваемый при повторе запроса.
type StoredResponse struct {
	StatusCode int
	Body       []byte
}

// IdempotencyClaim: попытка занять ключ под конкретную операцию.
type IdempotencyClaim struct {
	Key         IdempotencyKey
	Operation   string
	RequestHash string
	ExpiresAt   time.Time
}

// Validate проверяет обязательные поля заявки.
func (c IdempotencyClaim) Validate() error {
	if _, err := NewIdempotencyKey(c.Key.Scope, c.Key.Value); err != nil {
		return err
	}
	if strings.TrimSpace(c.RequestHash) == "" {
		return ErrIdempotencyRequestHashRequired
	}
	return nil
}

// IdempotencyRecord хранит состояние запроса, принятого с Idempotency-Key.
type IdempotencyRecord struct {
	Key         IdempotencyKey
	Operation   string
	RequestHash string
	Status      IdempotencyStatus
	Response    StoredResponse
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Replayable сообщает, что сохранённый ответ можно вернуть повторно.
func (r IdempotencyRecord) Replayable() bool {
	switch r.Status {
	case IdempotencyStatusCompleted, IdempotencyStatusRejected:
		return r.Response.StatusCode != 0
	default:
		return false
	}
}

// Expired: срок хранения записи истёк к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Reclaimable сообщает, можно ли заново занять ключ заявкой с хэшем hash.
// Истёкшая запись уступает любой заявке, прерванная только такому же запросу.
func (r IdempotencyRecord) Reclaimable(hash string, now time.Time) bool {
	if r.Expired(now) {
		return true
	}
	return r.Status == IdempotencyStatusAborted && r.RequestHash == hash
}

// Clone возвращает копию записи с независимым телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	dst := r
	if r.Response.Body != nil {
		dst.Response.Body = append([]byte(nil), r.Response.Body...)
	}
	return dst
}
