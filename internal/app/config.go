package app

import (
	"time"

	"github.com/vladislavdragonenkov/crewshop/internal/service/payment"
)

// Драйверы хранилища заказов.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы корзины.
const (
	CartDriverMemory = "memory"
	CartDriverRedis  = "redis"
)

// Config описывает настройки запуска сервиса.
// Все поля скалярные: конфигурации сравниваются через ==.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int

	CartDriver    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CartTTL       time.Duration

	KafkaBrokers      string
	KafkaPaymentGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог backlog, выше которого readiness помечается degraded.
	OutboxMaxPending int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	// Денежные параметры хранятся строками и разбираются при запуске.
	ShippingFee string
	TaxRate     string

	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalTimeout      time.Duration
	// PaymentBreakerFailures подряд временных ошибок размыкают breaker на PaymentBreakerReset.
	PaymentBreakerFailures int
	PaymentBreakerReset    time.Duration
}

// DefaultConfig возвращает значения для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    20,

		CartDriver: CartDriverMemory,
		RedisAddr:  "localhost:6379",
		CartTTL:    30 * 24 * time.Hour,

		KafkaPaymentGroup: "crewshop-payment-callbacks",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,
		OutboxMaxPending:   1000,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		ShippingFee: "10.00",
		TaxRate:     "0",

		PayPalBaseURL:          payment.SandboxBaseURL,
		PayPalTimeout:          10 * time.Second,
		PaymentBreakerFailures: 5,
		PaymentBreakerReset:    30 * time.Second,
	}
}
