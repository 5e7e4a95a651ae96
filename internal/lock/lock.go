// Package lock provides short-lived exclusive leases keyed by resource.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrLeaseHeld means another worker currently owns the lease.
var ErrLeaseHeld = errors.New("lease held by another worker")

// Locker acquires a lease and returns the function that releases it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

const keyPrefix = "fanvault:lease:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another worker is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type RedisLocker struct {
	client   *redis.Client
	newToken func() string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client:   client,
		newToken: func() string { return uuid.NewString() },
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := keyPrefix + key
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}

	release := func() {
		if err := l.client.Eval(context.WithoutCancel(ctx), releaseScript, []string{redisKey}, token).Err(); err != nil {
			logrus.WithError(err).WithField("lease", key).Warn("Failed to release lease")
		}
	}
	return release, nil
}

// NoopLocker is used when Redis is not configured; database row locks
// still provide mutual exclusion.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}
