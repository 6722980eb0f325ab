package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisLocker serializes work on a key across service instances sharing one Redis.
type RedisLocker struct {
	client *redis.Client
	rs     *redsync.Redsync
	prefix string
	expiry time.Duration
	log    zerolog.Logger
}

func NewRedisLocker(cfg Config, log zerolog.Logger) (*RedisLocker, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis lock requires a redis URL")
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisLocker(client, cfg, log), nil
}

func newRedisLocker(client *redis.Client, cfg Config, log zerolog.Logger) *RedisLocker {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		expiry: expiry,
		log:    log.With().Str("component", "redis-lock").Logger(),
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(50*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}

	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			l.log.Error().Err(err).Str("lock", name).Msg("failed to release lock")
		}
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
