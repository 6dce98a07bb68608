package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

// IdempotencyRepository: in-memory хранилище ключей идемпотентности.
// Записи сгруппированы по владельцу ключа.
type IdempotencyRepository struct {
	mu     sync.Mutex
	scopes map[string]map[string]domain.IdempotencyRecord
	now    func() time.Time
}

// IdempotencyOption настраивает IdempotencyRepository.
type IdempotencyOption func(*IdempotencyRepository)

// WithIdempotencyClock подменяет источник времени.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(r *IdempotencyRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewIdempotencyRepository создаёт пустое хранилище.
func NewIdempotencyRepository(opts ...IdempotencyOption) *IdempotencyRepository {
	r := &IdempotencyRepository{
		scopes: make(map[string]map[string]domain.IdempotencyRecord),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdempotencyRepository) Claim(_ context.Context, claim domain.IdempotencyClaim) (domain.IdempotencyRecord, error) {
	if err := claim.Validate(); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	key, _ := domain.NewIdempotencyKey(claim.Key.Scope, claim.Key.Value)
	now := r.now().UTC()
	if claim.ExpiresAt.IsZero() {
		claim.ExpiresAt = now.Add(24 * time.Hour)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.scopes[key.Scope]
	if bucket == nil {
		bucket = make(map[string]domain.IdempotencyRecord)
		r.scopes[key.Scope] = bucket
	}

	created := now
	if existing, ok := bucket[key.Value]; ok {
		if !existing.Reclaimable(claim.RequestHash, now) {
			if existing.RequestHash != claim.RequestHash || existing.Operation != claim.Operation {
				return existing.Clone(), domain.ErrIdempotencyHashMismatch
			}
			return existing.Clone(), domain.ErrIdempotencyKeyAlreadyExists
		}
		if !existing.Expired(now) {
			created = existing.CreatedAt
		}
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		Operation:   claim.Operation,
		RequestHash: claim.RequestHash,
		Status:      domain.IdempotencyStatusProcessing,
		ExpiresAt:   claim.ExpiresAt.UTC(),
		CreatedAt:   created,
		UpdatedAt:   now,
	}
	bucket[key.Value] = record
	return record.Clone(), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key domain.IdempotencyKey) (domain.IdempotencyRecord, error) {
	key, err := domain.NewIdempotencyKey(key.Scope, key.Value)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.scopes[key.Scope][key.Value]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return record.Clone(), nil
}

func (r *IdempotencyRepository) Finish(_ context.Context, key domain.IdempotencyKey, status domain.IdempotencyStatus, resp domain.StoredResponse) error {
	key, err := domain.NewIdempotencyKey(key.Scope, key.Value)
	if err != nil {
		return err
	}
	if !status.Final() {
		return domain.ErrIdempotencyStatusInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.scopes[key.Scope]
	record, ok := bucket[key.Value]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if status == domain.IdempotencyStatusAborted {
		resp = domain.StoredResponse{}
	}
	record.Status = status
	record.Response = domain.StoredResponse{StatusCode: resp.StatusCode, Body: append([]byte(nil), resp.Body...)}
	record.UpdatedAt = r.now().UTC()
	bucket[key.Value] = record
	return nil
}

// DeleteExpired удаляет не больше limit записей с истёкшим сроком. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for scope, bucket := range r.scopes {
		for value, record := range bucket {
			if limit > 0 && removed >= limit {
				return removed, nil
			}
			if !record.Expired(before) {
				continue
			}
			delete(bucket, value)
			removed++
		}
		if len(bucket) == 0 {
			delete(r.scopes, scope)
		}
	}
	return removed, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
