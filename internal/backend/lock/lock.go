package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Locker hands out one mutual-exclusion region per key. The returned unlock
// function must be called exactly once, on every exit path.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Close() error
}

type Config struct {
	Type      string        `yaml:"type"`
	RedisURL  string        `yaml:"redisURL" env:"LOCK_REDIS_URL"`
	KeyPrefix string        `yaml:"keyPrefix"`
	Expiry    time.Duration `yaml:"expiry"`
}

const (
	defaultKeyPrefix = "patientimages:lock:"
	defaultExpiry    = 30 * time.Second
)

func NewLocker(cfg Config, log zerolog.Logger) (Locker, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		return NewRedisLocker(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported lock type: %s", cfg.Type)
	}
}
