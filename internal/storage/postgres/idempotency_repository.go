package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// IdempotencyRepository хранит ключи идемпотентности в таблице idempotency_keys.
type IdempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт репозиторий поверх открытого Store.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{db: store.DB(), now: time.Now}
}

// claimSQL занимает ключ одной командой. Существующая строка перезаписывается,
// только если срок её хранения истёк или прерванный запрос пришёл повторно.
const claimSQL = `
	INSERT INTO idempotency_keys AS k (
		scope, key, operation, request_hash, status, status_code, response_body, expires_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6, $7, $7)
	ON CONFLICT (scope, key) DO UPDATE SET
		operation     = EXCLUDED.operation,
		request_hash  = EXCLUDED.request_hash,
		status        = EXCLUDED.status,
		status_code   = NULL,
		response_body = NULL,
		expires_at    = EXCLUDED.expires_at,
		created_at    = CASE WHEN k.expires_at <= EXCLUDED.updated_at THEN EXCLUDED.created_at ELSE k.created_at END,
		updated_at    = EXCLUDED.updated_at
	WHERE k.expires_at <= EXCLUDED.updated_at
	   OR (k.status = 'aborted' AND k.request_hash = EXCLUDED.request_hash)
	RETURNING created_at
`

func (r *IdempotencyRepository) Claim(ctx context.Context, claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	if err := claim.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key, _ := domain.NewIdempotencyKey(claim.Key.Scope, claim.Key.Value)
	now := r.now().UTC()
	if claim.ExpiresAt.IsZero() {
		claim.ExpiresAt = now.Add(24 * time.Hour)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record := domain.IdempotencyRecord{
		Key:         key,
		Operation:   claim.Operation,
		RequestHash: claim.RequestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   claim.ExpiresAt.UTC(),
		UpdatedAt:   now,
	}
	err := r.db.QueryRowContext(ctx, claimSQL,
		key.Scope, key.Value, claim.Operation, claim.RequestHash,
		string(domain.IdempotencyStatusProcessing), record.ExpiresAt, now,
	).Scan(&record.CreatedAt)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %s: %w", key, err)
	}

	// Строка есть и не уступила: различаем повтор и чужой запрос.
	existing, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load claimed idempotency key %s: %w", key, err)
	}
	if existing.RequestHash != claim.RequestHash || existing.Operation != claim.Operation {
		return existing, domain.ErrIdempotencyHashMismatch
	}
	return existing, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *IdempotencyRepository) Get(ctx context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := domain.NewIdempotencyKey(key.Scope, key.Value)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	record := domain.IdempotencyRecord{Key: key}
	var (
		status string
		code   sql.NullInt32
		body   []byte
	)
	err = r.db.QueryRowContext(ctx, `
		SELECT operation, request_hash, status, status_code, response_body, expires_at, created_at, updated_at
		FROM idempotency_keys
		WHERE scope = $1 AND key = $2
	`, key.Scope, key.Value).Scan(
		&record.Operation, &record.RequestHash, &status, &code, &body,
		&record.ExpiresAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	if code.Valid {
		record.Response.StatusCode = int(code.Int32)
	}
	record.Response.Body = body
	return record, nil
}

func (r *IdempotencyRepository) Finish(ctx context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, resp domain.StoredResponse) error {
	key, err := domain.NewIdempotencyKey(key.Scope, key.Value)
	if err != nil {
		return err
	}
	if !status.Final() {
		return domain.ErrIdempotencyStatusInvalid
	}

	var (
		code sql.NullInt32
		body []byte
	)
	if status != domain.IdempotencyStatusAborted {
		code = sql.NullInt32{Int32: int32(resp.StatusCode), Valid: resp.StatusCode != 0}
		body = resp.Body
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $3, status_code = $4, response_body = $5, updated_at = $6
		WHERE scope = $1 AND key = $2
	`, key.Scope, key.Value, string(status), code, body, r.now().UTC())
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: rows affected: %w", key, err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет записи старше before, самые старые первыми. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `DELETE FROM idempotency_keys WHERE expires_at <= $1`
	args := []any{before}
	if limit > 0 {
		query = `
			DELETE FROM idempotency_keys
			WHERE (scope, key) IN (
				SELECT scope, key FROM idempotency_keys
				WHERE expires_at <= $1
				ORDER BY expires_at
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: rows affected: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
