package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/subhook/internal/config"
	"github.com/mihaimyh/subhook/pkg/subhook"
	firestorestore "github.com/mihaimyh/subhook/storage/firestore"
	"github.com/mihaimyh/subhook/storage/memory"
	pgstore "github.com/mihaimyh/subhook/storage/postgres"
	redisstore "github.com/mihaimyh/subhook/storage/redis"
	"github.com/mihaimyh/subhook/storage/tiered"
)

// backend is the opened storage plus everything needed to release it.
type backend struct {
	store   subhook.Store
	reader  subhook.ProfileReader
	ping    func(ctx context.Context) error
	closers []func() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Close releases resources in reverse opening order.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *backend) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

// openBackend builds the store selected by cfg.Storage.Backend. Remote
// backends are wrapped in a circuit breaker when enabled.
func openBackend(ctx context.Context, cfg *config.Config, logger subhook.Logger) (*backend, error) {
	b := &backend{}

	store, err := openStore(ctx, b, cfg, logger)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	if p, ok := store.(pinger); ok {
		b.ping = p.Ping
	}
	if r, ok := store.(subhook.ProfileReader); ok {
		b.reader = r
	}

	if cfg.Storage.CircuitBreaker && cfg.Storage.Backend != config.BackendMemory {
		cb := subhook.NewDefaultCircuitBreaker(subhook.CircuitBreakerConfig{
			OnStateChange: func(state subhook.CircuitBreakerState) {
				logger.Warn("storage circuit breaker changed state", subhook.F("state", string(state)))
			},
		})
		wrapped := subhook.NewCircuitBreakerStore(store, cb)
		store = wrapped
		b.reader = wrapped
	}

	b.store = store
	return b, nil
}

func openStore(ctx context.Context, b *backend, cfg *config.Config, logger subhook.Logger) (subhook.Store, error) {
	s := cfg.Storage
	switch s.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage; profiles and processed events are lost on restart")
		return memory.New(), nil
	case config.BackendPostgres:
		return openPostgres(ctx, b, s)
	case config.BackendRedis:
		return openRedis(b, s)
	case config.BackendFirestore:
		return openFirestore(ctx, b, s)
	case config.BackendTiered:
		return openTiered(ctx, b, s, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

func openPostgres(ctx context.Context, b *backend, s config.Storage) (*pgstore.Storage, error) {
	if s.AutoMigrate {
		if err := pgstore.Migrate(s.PostgresURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pgcfg := pgstore.DefaultConfig()
	pgcfg.ConnectionString = s.PostgresURL
	store, err := pgstore.New(ctx, pgcfg)
	if err != nil {
		return nil, err
	}
	b.onClose(func() error {
		store.Close()
		return nil
	})
	return store, nil
}

func openRedis(b *backend, s config.Storage) (*redisstore.Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	b.onClose(client.Close)

	rcfg := redisstore.DefaultConfig()
	rcfg.EventTTL = s.EventTTL
	return redisstore.New(client, rcfg)
}

func openFirestore(ctx context.Context, b *backend, s config.Storage) (*firestorestore.Storage, error) {
	client, err := firestore.NewClient(ctx, s.FirestoreProject)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	b.onClose(client.Close)
	return firestorestore.New(client, firestorestore.Config{})
}

func openTiered(ctx context.Context, b *backend, s config.Storage, logger subhook.Logger) (subhook.Store, error) {
	hot, err := openRedis(b, s)
	if err != nil {
		return nil, err
	}

	var cold subhook.Store
	switch s.TieredCold {
	case config.BackendFirestore:
		cold, err = openFirestore(ctx, b, s)
	default:
		cold, err = openPostgres(ctx, b, s)
	}
	if err != nil {
		return nil, err
	}

	store, err := tiered.New(tiered.Config{
		Hot:          hot,
		Cold:         cold,
		AsyncHotSync: s.TieredAsync,
		AsyncErrorHandler: func(err error) {
			logger.Warn("hot event log out of sync", subhook.F("error", err))
		},
	})
	if err != nil {
		return nil, err
	}
	b.onClose(store.Close)
	if p, ok := cold.(pinger); ok {
		b.ping = p.Ping
	}
	return store, nil
}
