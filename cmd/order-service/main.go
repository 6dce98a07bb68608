package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/crewshop/internal/app"
	"github.com/vladislavdragonenkov/crewshop/internal/version"
)

const (
	envLogLevel                    = "CREW_LOG_LEVEL"
	envHTTPAddr                    = "CREW_HTTP_ADDR"
	envGRPCAddr                    = "CREW_GRPC_ADDR"
	envMetricsAddr                 = "CREW_METRICS_ADDR"
	envStorageDriver               = "CREW_STORAGE_DRIVER"
	envPostgresDSN                 = "CREW_POSTGRES_DSN"
	envPostgresAutoMigrate         = "CREW_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "CREW_POSTGRES_MAX_CONNS"
	envCartDriver                  = "CREW_CART_DRIVER"
	envRedisAddr                   = "CREW_REDIS_ADDR"
	envRedisPassword               = "CREW_REDIS_PASSWORD"
	envRedisDB                     = "CREW_REDIS_DB"
	envCartTTL                     = "CREW_CART_TTL"
	envKafkaBrokers                = "KAFKA_BROKERS"
	envKafkaPaymentGroup           = "CREW_KAFKA_PAYMENT_GROUP"
	envOutboxPollInterval          = "CREW_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "CREW_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "CREW_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "CREW_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "CREW_OUTBOX_MAX_PENDING"
	envIdempotencyCleanupInterval  = "CREW_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "CREW_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envShippingFee                 = "CREW_SHIPPING_FEE"
	envTaxRate                     = "CREW_TAX_RATE"
	envPayPalBaseURL               = "PAYPAL_BASE_URL"
	envPayPalClientID              = "PAYPAL_CLIENT_ID"
	envPayPalClientSecret          = "PAYPAL_CLIENT_SECRET"
	envPayPalTimeout               = "PAYPAL_TIMEOUT"
	envPaymentBreakerFailures      = "CREW_PAYMENT_BREAKER_FAILURES"
	envPaymentBreakerReset         = "CREW_PAYMENT_BREAKER_RESET"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		level, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).WithField("env", envLogLevel).Warn("invalid log level, using info")
			return
		}
		log.SetLevel(level)
	}
}

// readConfig накладывает переменные окружения на app.DefaultConfig.
func readConfig() app.Config {
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}
	return cfg
}

// readConfigFromEnv возвращает конфигурацию и предупреждения о некорректных значениях;
// некорректное значение не применяется.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s: %v", key, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	lower := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.ToLower(strings.TrimSpace(v))
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}
	money := func(key string, dst *string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || parsed.IsNegative() {
			warn(key, errors.New("must be a non-negative decimal"))
			return
		}
		*dst = parsed.String()
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	lower(envStorageDriver, &cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positive, "must be > 0")

	lower(envCartDriver, &cfg.CartDriver)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPassword, &cfg.RedisPassword)
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")
	duration(envCartTTL, &cfg.CartTTL, positiveDuration, "must be > 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaPaymentGroup, &cfg.KafkaPaymentGroup)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	money(envShippingFee, &cfg.ShippingFee)
	money(envTaxRate, &cfg.TaxRate)

	str(envPayPalBaseURL, &cfg.PayPalBaseURL)
	str(envPayPalClientID, &cfg.PayPalClientID)
	str(envPayPalClientSecret, &cfg.PayPalClientSecret)
	duration(envPayPalTimeout, &cfg.PayPalTimeout, positiveDuration, "must be > 0")
	integer(envPaymentBreakerFailures, &cfg.PaymentBreakerFailures, positive, "must be > 0")
	duration(envPaymentBreakerReset, &cfg.PaymentBreakerReset, positiveDuration, "must be > 0")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q", raw)
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s %s", value, rule)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)
	cfg := readConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"cart_driver":    cfg.CartDriver,
		"version":        version.GetVersion(),
	}).Info("запускаем crew order service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("crew order service остановлен")
}
