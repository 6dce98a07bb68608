// Package app собирает сервис разбора и подтверждения заказов: хранилища, HTTP API,
// outbox, Kafka и ops-сервера, и управляет их остановкой.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/crewshop/internal/health"
	"github.com/vladislavdragonenkov/crewshop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/crewshop/internal/metrics"
	"github.com/vladislavdragonenkov/crewshop/internal/service/backoffice"
	"github.com/vladislavdragonenkov/crewshop/internal/service/checkout"
	"github.com/vladislavdragonenkov/crewshop/internal/service/httpapi"
	"github.com/vladislavdragonenkov/crewshop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/crewshop/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/crewshop/internal/service/notify"
	"github.com/vladislavdragonenkov/crewshop/internal/service/thread"
	"github.com/vladislavdragonenkov/crewshop/internal/version"
)

var (
	errNegativeFee  = errors.New("shipping fee must not be negative")
	errTaxRateRange = errors.New("tax rate must be within [0, 1]")
)

// Run запускает сервис и блокируется до отмены ctx или отказа одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	fee, tax, err := moneySettings(cfg)
	if err != nil {
		return fmt.Errorf("invalid money settings: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// Ошибка уже залогирована: сервис работает без Kafka, события копятся в outbox.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger.WithField("component", "kafka-producer"))
	defer closeKafkaProducer(producer, logger)

	provider, err := newPaymentProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("init payment provider: %w", err)
	}

	checkoutMetrics := metrics.NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
	writer := lifecycle.NewWriter(deps.repo,
		lifecycle.WithOutbox(deps.outboxRepo),
		lifecycle.WithNotifier(notify.NewOutboxNotifier(deps.outboxRepo, nil)),
		lifecycle.WithMetrics(checkoutMetrics),
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
	)
	orchestrator := checkout.New(writer, deps.carts, deps.catalog,
		checkout.WithPaymentProvider(provider),
		checkout.WithShippingFee(fee),
		checkout.WithTaxRate(tax),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithLogger(logger.WithField("component", "checkout")),
	)
	services := httpapi.Services{
		Checkout:   orchestrator,
		Backoffice: backoffice.NewService(writer, fee, tax, logger.WithField("component", "backoffice")),
		Thread:     thread.NewService(writer, logger.WithField("component", "thread")),
	}
	router := httpapi.NewRouter(services,
		httpapi.WithIdempotency(deps.idempotencyRepo),
		httpapi.WithLogger(logger.WithField("component", "http")),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthChecks(healthHandler, deps, cfg.OutboxMaxPending)

	errCh := make(chan error, 3)
	// Без порта метрик сервис работает, теряются только пробы.
	metricsSrv, err := listenHTTP("metrics", cfg.MetricsAddr, opsMux(healthHandler))
	if err != nil {
		logger.WithError(err).Warn("metrics server is disabled")
	} else {
		metricsSrv.serve(logger, nil)
		defer metricsSrv.shutdown(logger)
	}

	ops, err := newOpsServer(cfg.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	ops.serve(logger, errCh)
	defer ops.stop(logger)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	go ops.syncHealth(syncCtx, healthHandler, logger)

	outboxCancel, outboxDone := startOutboxWorker(ctx, cfg, deps.outboxRepo, producer,
		metrics.NewOutboxMetrics(prometheus.DefaultRegisterer), logger)
	defer shutdownOutboxWorker(outboxCancel, outboxDone, logger)

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
	).Run(cleanupCtx)

	var consumer *kafka.Consumer
	if producer != nil {
		consumer, err = startPaymentConsumer(ctx, cfg, orchestrator, producer, logger)
		if err != nil {
			logger.WithError(err).Warn("payment callback consumer is disabled")
		}
	}
	defer shutdownConsumer(consumer, logger)

	apiSrv, err := listenHTTP("api", cfg.HTTPAddr, router)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	apiSrv.serve(logger, errCh)
	defer apiSrv.shutdown(logger)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		return ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		return err
	}
}

func shutdownConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop payment callback consumer")
	}
}
