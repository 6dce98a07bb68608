package app

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/crewshop/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.repo == nil || deps.outboxRepo == nil || deps.idempotencyRepo == nil {
		t.Fatalf("memory repositories must be initialized: %+v", deps)
	}
	if deps.carts == nil || deps.catalog == nil {
		t.Fatal("cart store and catalog must be initialized")
	}
	if deps.storageChecker != nil {
		t.Error("memory storage should not register a storage checker")
	}
	if err := deps.closeFn(); err != nil {
		t.Errorf("closeFn: %v", err)
	}
}

func TestInitRuntimeDependencies_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "postgres without dsn", cfg: Config{StorageDriver: StorageDriverPostgres}},
		{name: "unsupported storage", cfg: Config{StorageDriver: "sqlite"}},
		{name: "unsupported cart", cfg: Config{StorageDriver: StorageDriverMemory, CartDriver: "memcached"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := initRuntimeDependencies(context.Background(), tc.cfg, log.WithField("test", tc.name)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRegisterHealthChecks_OutboxBacklog(t *testing.T) {
	deps, err := initRuntimeDependencies(context.Background(), Config{}, log.WithField("test", "backlog"))
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	h := healthcheck.NewHandler("test")
	registerHealthChecks(h, deps, 1)

	ctx := context.Background()
	if got := h.Evaluate(ctx).Status; got != healthcheck.StatusHealthy {
		t.Fatalf("expected healthy, got %s", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := deps.outboxRepo.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: domain.AggregateOrder,
			AggregateID:   "ord-1",
			EventType:     "OrderSubmitted",
			CreatedAt:     time.Now(),
		}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	response := h.Evaluate(ctx)
	if response.Status != healthcheck.StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
	if response.Checks["outbox"].Critical {
		t.Error("outbox backlog must not be critical")
	}
}
