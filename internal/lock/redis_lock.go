package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// Redis is a Locker shared by every process that talks to the same Redis.
type Redis struct {
	locker *redislock.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger logrus.FieldLogger
}

func NewRedis(client redislock.RedisClient, prefix string, ttl time.Duration, retry time.Duration, logger logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{
		locker: redislock.New(client),
		prefix: prefix,
		ttl:    ttl,
		retry:  retry,
		logger: logger,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := r.prefix + key
	lk, err := r.locker.Obtain(ctx, lockKey, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retry),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return nil, fmt.Errorf("obtain redis lock %s: %w", lockKey, err)
	}
	return r.hold(ctx, key, lk)
}

type releaser interface {
	Release(ctx context.Context) error
}

// hold hands an obtained lock to the caller. When ctx ended while Obtain was
// returning, the caller has already given up, so the key is freed at once
// instead of waiting out the TTL.
func (r *Redis) hold(ctx context.Context, key string, lk releaser) (func(), error) {
	lockKey := r.prefix + key
	if ctx.Err() != nil {
		r.release(lockKey, lk)
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.release(lockKey, lk) })
	}, nil
}

// release runs on a fresh context so a cancelled request still frees the key.
func (r *Redis) release(lockKey string, lk releaser) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lk.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		r.logger.WithFields(logrus.Fields{
			"lock_key": lockKey,
		}).WithError(err).Warn("release redis lock")
	}
}
