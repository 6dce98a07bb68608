package domain

import (
	"fmt"
	"time"
)

// StatusChange: запись истории статусов. История только дописывается.
type StatusChange struct {
	Timestamp time.Time
	// OldStatus равен OrderStatusUnknown у первой записи.
	OldStatus OrderStatus
	NewStatus OrderStatus
	ChangedBy string
}

// TransitionError описывает запрещённый переход state machine.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From.Label(), e.To.Label())
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
