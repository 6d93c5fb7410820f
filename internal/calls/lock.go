package calls

import (
	"context"
	"errors"
	"time"

	"callflow/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy means another delivery for the same call is mid-turn. The
// transport answers with a retryable status so the vendor redelivers.
var ErrBusy = errors.New("calls: concurrent turn in progress")

// Locker serializes turn handling per vendor call/thread.
type Locker interface {
	// Acquire blocks briefly for the lock and returns a release func.
	Acquire(ctx context.Context, key string) (func(), error)
}

// RedisLocker implements Locker over SET NX with an owner-checked release.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "callflow:turn_lock:" + key

	// A held lock usually frees within one vendor round-trip; poll a few
	// times before telling the vendor to come back.
	for attempt := 0; attempt < 5; attempt++ {
		ok, err := utils.AcquireCallLock(ctx, l.rdb, lockKey, token, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = utils.ReleaseCallLock(context.WithoutCancel(ctx), l.rdb, lockKey, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil, ErrBusy
}

// NoopLocker is for tests and single-instance deployments without redis.
type NoopLocker struct{}

func (NoopLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
