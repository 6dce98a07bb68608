package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation: общий признак ошибки валидации входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrUserRequired: не передан идентификатор покупателя.
	ErrUserRequired = errors.New("user_id is required")
	// ErrNoItemsSelected: для заказа не выбрано ни одной позиции.
	ErrNoItemsSelected = errors.New("at least one item must be selected")
	// ErrItemQtyInvalid: количество позиции меньше единицы.
	ErrItemQtyInvalid = errors.New("item quantity must be at least 1")
	// ErrItemPriceInvalid: отрицательная цена или скидка.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrDuplicateProduct: товар встречается в заказе дважды.
	ErrDuplicateProduct = errors.New("product is listed twice")
	// ErrMessageEmpty: сообщение без текста и без изображения.
	ErrMessageEmpty = errors.New("message requires text or image")
	// ErrUnknownStatus: тег статуса не входит в словарь.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrUnknownAdminStatus: вердикт персонала не входит в словарь.
	ErrUnknownAdminStatus = errors.New("unknown admin status")
	// ErrUnknownPaymentMethod: способ оплаты не поддерживается.
	ErrUnknownPaymentMethod = errors.New("unknown payment method")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderExists: заказ с таким ID уже сохранён.
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStatusHistoryRewrite: попытка сохранить историю короче сохранённой.
	ErrStatusHistoryRewrite = errors.New("status history is append-only")
	// ErrStatusHistoryBroken: oldStatus записи не совпадает с newStatus предыдущей.
	ErrStatusHistoryBroken = errors.New("status history chain is broken")
	// ErrMessageIDsUnordered: ID сообщений не возрастают строго.
	ErrMessageIDsUnordered = errors.New("message ids must be strictly increasing")
	// ErrLineNotFound: в заказе нет позиции с таким товаром.
	ErrLineNotFound = errors.New("order line not found")
	// ErrMessageNotFound: в переписке нет сообщения с таким ID.
	ErrMessageNotFound = errors.New("message not found")
	// ErrProductNotFound: каталог не знает товар.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidTransition: переход state machine запрещён из текущего статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOrderLocked: заказ уже подтверждён, правки запрещены.
	ErrOrderLocked = errors.New("order can no longer be edited")
	// ErrLineNotAdjustable: количество меняют только у Available/Limited позиций.
	ErrLineNotAdjustable = errors.New("line quantity can only be adjusted on available or limited lines")
	// ErrConfirmationBlocked: инвариант согласованности не выполнен.
	ErrConfirmationBlocked = errors.New("order confirmation is blocked by review findings")
	// ErrDeleteConfirmationRequired: удаление последней позиции удалит весь заказ.
	ErrDeleteConfirmationRequired = errors.New("removing the last line deletes the order and must be confirmed")
	// ErrMessageNotRemovable: сообщение нельзя удалить (чужое, прочитанное или заказ подтверждён).
	ErrMessageNotRemovable = errors.New("message cannot be removed")
	// ErrCancelNotAllowed: отмена доступна только до отправки заказа.
	ErrCancelNotAllowed = errors.New("cancel is only available before the order is submitted")

	// ErrPaymentDeclined: платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentCanceled: покупатель прервал оплату у провайдера.
	ErrPaymentCanceled = errors.New("payment canceled")
	// ErrPaymentTemporary: временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired: пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyKeyTooLong: ключ длиннее MaxIdempotencyKeyLength.
	ErrIdempotencyKeyTooLong = errors.New("idempotency key is too long")
	// ErrIdempotencyScopeRequired: ключ без владельца.
	ErrIdempotencyScopeRequired = errors.New("idempotency key scope is required")
	// ErrIdempotencyRequestHashRequired: пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyStatusInvalid: завершение записи нефинальным статусом.
	ErrIdempotencyStatusInvalid = errors.New("idempotency status must be final")
	// ErrIdempotencyKeyNotFound: ключ не найден или уже удалён cleanup-воркером.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists: запрос с этим ключом уже принят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован для другого запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict сообщает, что ключ уже занят (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// FieldError описывает проблему с одним полем запроса.
type FieldError struct {
	Field string
	Err   error
}

// ValidationError собирает все замечания к запросу; errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	Fields []FieldError
}

// Add добавляет замечание к полю.
func (e *ValidationError) Add(field string, err error) {
	e.Fields = append(e.Fields, FieldError{Field: field, Err: err})
}

// OrNil возвращает nil, если замечаний нет.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Field, f.Err))
	}
	return fmt.Sprintf("%v: %s", ErrValidation, strings.Join(parts, "; "))
}

// Unwrap отдаёт ErrValidation и причины по полям.
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields)+1)
	errs = append(errs, ErrValidation)
	for _, f := range e.Fields {
		errs = append(errs, f.Err)
	}
	return errs
}

// ConsistencyError возвращается при отказе в подтверждении и несёт отчёт сверки.
type ConsistencyError struct {
	Report ConsistencyReport
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%v: %d issue(s)", ErrConfirmationBlocked, len(e.Report.Issues))
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConfirmationBlocked
}
