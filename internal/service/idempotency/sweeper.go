// Package idempotency чистит хранилище ключей Idempotency-Key.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
)

const (
	defaultInterval   = 10 * time.Minute
	defaultBatchSize  = 500
	defaultMaxBatches = 100
)

// Sweeper периодически удаляет просроченные записи идемпотентности.
// Один проход удаляет не больше maxBatches порций, остаток уходит в следующий тик.
type Sweeper struct {
	repo       domain.IdempotencyRepository
	interval   time.Duration
	batchSize  int
	maxBatches int
	metrics    *metrics.CleanupMetrics
	logger     *log.Entry
	now        func() time.Time
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxBatches ограничивает число порций за один проход.
func WithMaxBatches(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxBatches = n
		}
	}
}

func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(repo domain.IdempotencyRepository, opts ...Option) *Sweeper {
	s := &Sweeper{
		repo:       repo,
		interval:   defaultInterval,
		batchSize:  defaultBatchSize,
		maxBatches: defaultMaxBatches,
		logger:     log.WithField("component", "idempotency-sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run делает проход сразу и затем на каждом тике, пока жив ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper is disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	deleted, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		s.metrics.RecordRun(metrics.ResultError, deleted)
		s.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency sweep failed")
	default:
		s.metrics.RecordRun(metrics.ResultOK, deleted)
		if deleted > 0 {
			s.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет записи, истёкшие к текущему моменту. Неполная порция
// означает, что просроченных записей больше нет.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now()
	total := 0
	for range s.maxBatches {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.repo.DeleteExpired(ctx, cutoff, s.batchSize)
		total += n
		s.metrics.AddDeleted(n)
		if err != nil {
			return total, err
		}
		if n < s.batchSize {
			break
		}
	}
	return total, nil
}
