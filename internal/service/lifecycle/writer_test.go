package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/memory"
)

var fixedNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func seedOrder(t *testing.T, repo domain.OrderRepository) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:     "ord-1",
		UserID: "user-1",
		Items: []domain.OrderLine{
			{ProductID: "p-1", Quantity: 2, AdminStatus: domain.AdminStatusPendingReview, Selected: true},
		},
		CreatedAt: fixedNow,
	}
	require.NoError(t, order.Transition(domain.OrderStatusOrderRequest, "buyer@ship.test", fixedNow))
	require.NoError(t, repo.Create(context.Background(), order))
	return order
}

// conflictingRepo один раз подменяет сохранение чужой записью, чтобы спровоцировать конфликт версий.
type conflictingRepo struct {
	domain.OrderRepository
	conflicts atomic.Int32
	saves     atomic.Int32
}

func (r *conflictingRepo) Save(ctx context.Context, order domain.Order) error {
	r.saves.Add(1)
	if r.conflicts.Load() > 0 {
		r.conflicts.Add(-1)
		concurrent, err := r.OrderRepository.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		concurrent.Items[0].AdminStatus = domain.AdminStatusAvailable
		concurrent.Items[0].AdminQuantity = 2
		if err := r.OrderRepository.Save(ctx, concurrent); err != nil {
			return err
		}
	}
	return r.OrderRepository.Save(ctx, order)
}

func TestWriter_Mutate_ReappliesAfterVersionConflict(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository()}
	seedOrder(t, repo.OrderRepository)
	repo.conflicts.Store(1)

	w := NewWriter(repo, WithClock(func() time.Time { return fixedNow }), WithRetry(RetryConfig{MaxAttempts: 3}))

	applied := 0
	saved, changed, err := w.Mutate(context.Background(), "ord-1", func(o *domain.Order, _ time.Time) error {
		applied++
		o.Delivery = domain.DeliveryDetails{Option: domain.DeliveryOnboard, PortName: "Busan", ExpectedShippingDate: "2026-05-01"}
		return nil
	})

	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 2, applied, "mutation must be re-applied on the fresh copy")
	require.EqualValues(t, 2, saves(repo))
	require.EqualValues(t, 2, saved.Version)

	stored, err := repo.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Equal(t, "Busan", stored.Delivery.PortName)
	require.Equal(t, domain.AdminStatusAvailable, stored.Items[0].AdminStatus, "concurrent staff edit must survive")
}

func saves(r *conflictingRepo) int32 { return r.saves.Load() }

func TestWriter_Mutate_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository()}
	seedOrder(t, repo.OrderRepository)
	repo.conflicts.Store(10)

	w := NewWriter(repo, WithRetry(RetryConfig{MaxAttempts: 3}))
	_, _, err := w.Mutate(context.Background(), "ord-1", func(o *domain.Order, _ time.Time) error {
		o.CustomerName = "A. Sailor"
		return nil
	})

	require.ErrorIs(t, err, domain.ErrOrderVersionConflict)
	require.EqualValues(t, 3, saves(repo))
}

func TestWriter_Mutate_UnchangedSkipsSave(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedOrder(t, repo)
	outbox := memory.NewOutboxRepository()
	w := NewWriter(repo, WithOutbox(outbox))

	order, changed, err := w.Mutate(context.Background(), "ord-1", func(*domain.Order, time.Time) error {
		return ErrUnchanged
	})
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, order.Version)
	require.Empty(t, outbox.AllPending())
}

func TestWriter_Mutate_PropagatesMutationError(t *testing.T) {
	repo := memory.NewOrderRepository()
	seedOrder(t, repo)
	w := NewWriter(repo)

	boom := errors.New("boom")
	_, _, err := w.Mutate(context.Background(), "ord-1", func(*domain.Order, time.Time) error { return boom })
	require.ErrorIs(t, err, boom)

	_, _, err = w.Mutate(context.Background(), "missing", func(*domain.Order, time.Time) error { return nil })
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestWriter_EmitsStatusChangesForNewHistoryOnly(t *testing.T) {
	repo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	w := NewWriter(repo, WithOutbox(outbox), WithClock(func() time.Time { return fixedNow }))

	order := domain.Order{
		ID:     "ord-2",
		UserID: "user-2",
		Items:  []domain.OrderLine{{ProductID: "p-1", Quantity: 1, AdminStatus: domain.AdminStatusPendingReview, Selected: true}},
	}
	require.NoError(t, order.Transition(domain.OrderStatusOrderRequest, "user-2", fixedNow))
	require.NoError(t, w.Create(context.Background(), order))

	_, _, err := w.Mutate(context.Background(), "ord-2", func(o *domain.Order, now time.Time) error {
		if err := o.Transition(domain.OrderStatusOrderConfirmed, "user-2", now); err != nil {
			return err
		}
		return o.Transition(domain.OrderStatusPaymentRequest, "user-2", now)
	})
	require.NoError(t, err)

	require.Len(t, outbox.ByEventType(EventOrderSubmitted), 1)
	changes := outbox.ByEventType(EventOrderStatusChanged)
	require.Len(t, changes, 3)

	var sawInitial bool
	for _, msg := range changes {
		var raw map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &raw))
		require.Contains(t, raw, "old_status")
		if raw["new_status"] == "Order" {
			sawInitial = true
			require.Nil(t, raw["old_status"], "first history entry has no previous status")
		}
	}
	require.True(t, sawInitial)

	statuses := make([]string, 0, len(changes))
	for _, msg := range changes {
		var p StatusChangedPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		statuses = append(statuses, p.NewStatus)
	}
	require.ElementsMatch(t, []string{"Order", "Order(Confirmed)", "Payment(Request)"}, statuses)
}

func TestWriter_Delete(t *testing.T) {
	repo := memory.NewOrderRepository()
	order := seedOrder(t, repo)
	outbox := memory.NewOutboxRepository()
	w := NewWriter(repo, WithOutbox(outbox))

	require.NoError(t, w.Delete(context.Background(), order, "user-1"))
	_, err := repo.Get(context.Background(), "ord-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.Len(t, outbox.ByEventType(EventOrderDeleted), 1)

	require.ErrorIs(t, w.Delete(context.Background(), order, "user-1"), domain.ErrOrderNotFound)
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, domain.Notification) error {
	n.calls++
	return errors.New("push gateway down")
}

func TestWriter_NotifyFailureIsSwallowed(t *testing.T) {
	notifier := &failingNotifier{}
	w := NewWriter(memory.NewOrderRepository(), WithNotifier(notifier))

	w.Notify(context.Background(), domain.Notification{Code: "payment_cash", OrderID: "ord-1"})
	require.Equal(t, 1, notifier.calls)

	NewWriter(memory.NewOrderRepository()).Notify(context.Background(), domain.Notification{Code: "noop"})
}
