package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crewshop/internal/health"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/memory"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/crewshop/internal/storage/redis"
)

// runtimeDependencies: хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	carts           domain.CartStore
	catalog         domain.Catalog

	// storageChecker и cartChecker равны nil для in-memory реализаций.
	storageChecker healthcheck.CheckFunc
	cartChecker    healthcheck.CheckFunc

	closers []func() error
}

func (d *runtimeDependencies) closeFn() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver)); driver {
	case "", StorageDriverMemory:
		deps.repo = memory.NewOrderRepository()
		deps.outboxRepo = memory.NewOutboxRepository()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		deps.catalog = memory.NewCatalog()
		logger.Info("using in-memory order storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage driver requires CREW_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithPool(cfg.PostgresMaxConns, cfg.PostgresMaxConns/2))
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = deps.closeFn()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.repo = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		deps.catalog = postgres.NewCatalogRepository(store)
		deps.storageChecker = store.Ping
		metrics.NewDBStatsCollector(prometheus.DefaultRegisterer, store.DB(), "crewshop")
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("using postgres order storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.CartDriver)); driver {
	case "", CartDriverMemory:
		deps.carts = memory.NewCartStore()
	case CartDriverRedis:
		carts, err := redis.NewCartStore(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CartTTL,
		})
		if err != nil {
			_ = deps.closeFn()
			return nil, fmt.Errorf("connect cart store: %w", err)
		}
		deps.carts = carts
		deps.cartChecker = carts.Ping
		deps.closers = append(deps.closers, carts.Close)
		logger.WithField("addr", cfg.RedisAddr).Info("using redis cart store")
	default:
		_ = deps.closeFn()
		return nil, fmt.Errorf("unsupported cart driver %q", driver)
	}

	return deps, nil
}

// registerHealthChecks подключает проверки хранилищ и backlog outbox.
func registerHealthChecks(h *healthcheck.Handler, deps *runtimeDependencies, maxPending int) {
	if deps.storageChecker != nil {
		h.Register("storage", deps.storageChecker)
	}
	if deps.cartChecker != nil {
		h.Register("cart", deps.cartChecker)
	}
	h.Register("outbox", func(ctx context.Context) error {
		stats, err := deps.outboxRepo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}, healthcheck.NonCritical())
}
