package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
)

const (
	defaultKeyPrefix = "crew:cart:"
	defaultCartTTL   = 30 * 24 * time.Hour
	opTimeout        = 2 * time.Second
)

// Options настраивает подключение к Redis.
type Options struct {
	Addr     string
	Password string
	DB       int
	// TTL корзины; обновляется при каждой записи.
	TTL       time.Duration
	KeyPrefix string
}

// CartStore хранит корзину покупателя одним JSON-документом под ключом crew:cart:{userID}.
type CartStore struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewCartStore создаёт клиент Redis и проверяет подключение.
func NewCartStore(ctx context.Context, opts Options) (*CartStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	store := NewCartStoreWithClient(client, opts)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

// NewCartStoreWithClient оборачивает готовый клиент.
func NewCartStoreWithClient(client *goredis.Client, opts Options) *CartStore {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &CartStore{client: client, ttl: ttl, prefix: prefix}
}

// Get возвращает корзину; отсутствующий ключ означает пустую корзину.
func (s *CartStore) Get(ctx context.Context, userID string) ([]domain.CartItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return []domain.CartItem{}, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var items []domain.CartItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return items, nil
}

// Replace заменяет корзину целиком; пустой список удаляет ключ.
func (s *CartStore) Replace(ctx context.Context, userID string, items []domain.CartItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if len(items) == 0 {
		if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store cart: %w", err)
	}
	return nil
}

// Ping проверяет доступность Redis; используется health-чекером.
func (s *CartStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close закрывает клиент.
func (s *CartStore) Close() error {
	return s.client.Close()
}

func (s *CartStore) key(userID string) string {
	return s.prefix + userID
}

var _ domain.CartStore = (*CartStore)(nil)
