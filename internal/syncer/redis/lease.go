package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"travel-booking/internal/logger"
)

// Lease is a best-effort cross-process mutex around a reconciliation pass.
// Processes sharing one booking database acquire it before syncing so only
// one of them confirms the same pending bookings.
type Lease struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
	Logger *logger.Logger

	holder string
}

func NewLease(client *redis.Client, key string, ttl time.Duration, log *logger.Logger) *Lease {
	return &Lease{
		Client: client,
		Key:    key,
		TTL:    ttl,
		Logger: log,
		holder: uuid.NewString(),
	}
}

// Holder identifies this process in the lease value.
func (l *Lease) Holder() string {
	return l.holder
}

// Acquire takes the lease if nobody holds it. The TTL bounds how long a
// crashed holder can block others.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.Client.SetNX(ctx, l.Key, l.holder, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !ok {
		l.Logger.Debug("REDIS", fmt.Sprintf("sync lease %s held by another process", l.Key))
	}
	return ok, nil
}

// Release drops the lease, but only if this process still holds it.
func (l *Lease) Release(ctx context.Context) error {
	val, err := l.Client.Get(ctx, l.Key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return fmt.Errorf("read sync lease: %w", err)
	}
	if val != l.holder {
		return nil
	}
	if _, err := l.Client.Del(ctx, l.Key).Result(); err != nil {
		return fmt.Errorf("release sync lease: %w", err)
	}
	return nil
}

// Ping checks connectivity at startup.
func (l *Lease) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}
