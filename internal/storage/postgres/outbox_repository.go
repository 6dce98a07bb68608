package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

const (
	defaultOutboxLease = 30 * time.Second
	defaultOutboxBatch = 100
)

// OutboxRepository: transactional outbox в таблице outbox_messages.
//
// PullPending арендует строки на время lease: параллельные воркеры пропускают
// арендованные строки, а после падения воркера аренда истекает и сообщение
// выдаётся снова.
type OutboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// OutboxOption настраивает OutboxRepository.
type OutboxOption func(*OutboxRepository)

// WithOutboxLease задаёт срок аренды выданных сообщений.
func WithOutboxLease(d time.Duration) OutboxOption {
	return func(r *OutboxRepository) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewOutboxRepository(store *Store, opts ...OutboxOption) *OutboxRepository {
	r := &OutboxRepository{db: store.DB(), lease: defaultOutboxLease, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue сохраняет сообщение. Повтор с уже известным ID ничего не меняет.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt, now)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox %s/%s: %w", msg.AggregateType, msg.EventType, err)
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	now := r.now().UTC()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		WITH batch AS (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY created_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages o
		SET locked_until = $3, updated_at = $1
		FROM batch
		WHERE o.id = batch.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.created_at
	`, now, limit, now.Add(r.lease))
	if err != nil {
		return nil, fmt.Errorf("lease pending outbox messages: %w", err)
	}
	defer rows.Close()

	var batch []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lease pending outbox messages: %w", err)
	}
	// RETURNING не сохраняет порядок подзапроса.
	sortOutbox(batch)
	return batch, nil
}

// Stats считает все pending-сообщения, включая арендованные.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, "sent")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, "failed")
}

// settle снимает аренду и фиксирует итог попытки публикации.
func (r *OutboxRepository) settle(ctx context.Context, id, status string) error {
	now := r.now().UTC()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    locked_until = NULL,
		    published_at = CASE WHEN $2 = 'sent' THEN $3 ELSE published_at END,
		    updated_at = $3
		WHERE id = $1
	`, id, status, now)
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox %s as %s: rows affected: %w", id, status, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	return nil
}

func sortOutbox(msgs []domain.OutboxMessage) {
	slices.SortFunc(msgs, func(a, b domain.OutboxMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
