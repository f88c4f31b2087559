// Package redislock serializes hot keys across service instances with a
// Redis SetNX lease. The TTL bounds how long a crashed holder can pin a key.
package redislock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "booking_lock:"

type Locker struct {
	Client *redis.Client
	TTL    time.Duration

	// retryEvery is how long to wait between acquisition attempts.
	retryEvery time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{
		Client:     client,
		TTL:        ttl,
		retryEvery: 25 * time.Millisecond,
	}
}

// Lock blocks until the key lease is held or ctx is done. The release func
// only deletes the key when this holder still owns it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := keyPrefix + key

	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}

	release := func() {
		ctx := context.Background()
		val, err := l.Client.Get(ctx, redisKey).Result()
		if err != nil {
			return
		}
		if val == token {
			_, _ = l.Client.Del(ctx, redisKey).Result()
		}
	}
	return release, nil
}
