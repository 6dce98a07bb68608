package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

const defaultOutboxLease = 30 * time.Second

type outboxEntry struct {
	msg         domain.OutboxMessage
	state       outboxState
	lockedUntil time.Time
}

// OutboxRepository: outbox в памяти с той же арендой строк, что и в postgres.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
	lease   time.Duration
	now     func() time.Time
}

// OutboxOption настраивает in-memory outbox.
type OutboxOption func(*OutboxRepository)

// WithOutboxLease задаёт, на сколько PullPending скрывает выданные сообщения.
func WithOutboxLease(d time.Duration) OutboxOption {
	return func(r *OutboxRepository) {
		if d > 0 {
			r.lease = d
		}
	}
}

func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(r *OutboxRepository) {
		if now != nil {
			r.now = now
		}
	}
}

func NewOutboxRepository(opts ...OutboxOption) *OutboxRepository {
	r := &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		lease:   defaultOutboxLease,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue сохраняет сообщение. Повтор с уже известным ID ничего не меняет.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[msg.ID]; !dup {
		r.entries[msg.ID] = &outboxEntry{msg: msg}
	}
	return msg, nil
}

// PullPending выдаёт до limit свободных pending-сообщений, старые первыми, и арендует их.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	free := r.collect(func(e *outboxEntry) bool {
		return e.state == outboxPending && !e.lockedUntil.After(now)
	})
	if len(free) > limit {
		free = free[:limit]
	}
	out := make([]domain.OutboxMessage, 0, len(free))
	for _, e := range free {
		e.lockedUntil = now.Add(r.lease)
		out = append(out, e.msg)
	}
	return out, nil
}

// Stats считает все pending-сообщения, включая арендованные.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.collect(func(e *outboxEntry) bool { return e.state == outboxPending })
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

func (r *OutboxRepository) settle(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	e.state = state
	e.lockedUntil = time.Time{}
	return nil
}

// AllPending возвращает все pending-сообщения независимо от аренды. Нужен тестам.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return messagesOf(r.collect(func(e *outboxEntry) bool { return e.state == outboxPending }))
}

// ByEventType возвращает сообщения eventType в любом состоянии.
func (r *OutboxRepository) ByEventType(eventType string) []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return messagesOf(r.collect(func(e *outboxEntry) bool { return e.msg.EventType == eventType }))
}

// collect вызывается под r.mu.
func (r *OutboxRepository) collect(keep func(*outboxEntry) bool) []*outboxEntry {
	out := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b *outboxEntry) int {
		if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.msg.ID, b.msg.ID)
	})
	return out
}

func messagesOf(entries []*outboxEntry) []domain.OutboxMessage {
	out := make([]domain.OutboxMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
