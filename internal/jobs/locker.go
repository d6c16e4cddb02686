package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

var ErrLockHeld = errors.New("job lock is held by another instance")

// lockStore подмножество utils.RedisClient, нужное для блокировки
type lockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) error
}

// RedisLocker не дает нескольким инстансам запускать одну задачу одновременно.
// Ключ живет ttl: упавший инстанс не держит задачу дольше.
type RedisLocker struct {
	redis lockStore
	ttl   time.Duration
}

func NewRedisLocker(redis lockStore, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: redis, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.New().String()
	lockKey := "jobs:lock:" + key
	ok, err := l.redis.SetNX(ctx, lockKey, token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{redis: l.redis, key: lockKey, token: token}, nil
}

type redisLock struct {
	redis lockStore
	key   string
	token string
}

// Unlock снимает только свою блокировку
func (l *redisLock) Unlock(ctx context.Context) error {
	return l.redis.CompareAndDelete(ctx, l.key, l.token)
}
