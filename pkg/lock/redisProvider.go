package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sweep:lock:"

type RedisProvider struct {
	client *redis.Client
}

func NewRedisProvider(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

func (r *RedisProvider) TryAcquire(ctx context.Context, name string, minHold time.Duration) (*Lock, error) {
	holder := uuid.NewString()
	key := redisKeyPrefix + name

	ok, err := r.client.SetNX(ctx, key, holder, minHold).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &Lock{
		Name:      name,
		holder:    holder,
		expiresAt: time.Now().Add(minHold),
		release: func(ctx context.Context) error {
			// Delete only our own token so a slow release cannot clobber a
			// successor's lock.
			current, err := r.client.Get(ctx, key).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			if current != holder {
				return nil
			}
			return r.client.Del(ctx, key).Err()
		},
	}, nil
}
