package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает один запрос репозитория.
const opTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig: параметры пула database/sql.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	PingTimeout time.Duration
}

// DefaultPoolConfig рассчитан на один экземпляр сервиса и воркеры в том же процессе.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpen:     20,
		MaxIdle:     10,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
		PingTimeout: 5 * time.Second,
	}
}

// StoreOption меняет PoolConfig перед открытием пула.
type StoreOption func(*PoolConfig)

// WithPool заменяет лимиты соединений. Нулевые значения остаются по умолчанию.
func WithPool(maxOpen, maxIdle int) StoreOption {
	return func(c *PoolConfig) {
		if maxOpen > 0 {
			c.MaxOpen = maxOpen
		}
		if maxIdle > 0 {
			c.MaxIdle = min(maxIdle, c.MaxOpen)
		}
	}
}

// Store: общий пул соединений для всех postgres-репозиториев.
type Store struct {
	db  *sql.DB
	cfg PoolConfig
}

// Open открывает пул через драйвер pgx и дожидается ответа базы.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	cfg := DefaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	s := &Store{db: db, cfg: cfg}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres is unreachable: %w", err)
	}
	return s, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется health-чекером readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	timeout := s.cfg.PingTimeout
	if timeout <= 0 {
		timeout = opTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
