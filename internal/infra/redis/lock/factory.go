// lock is a channellock.Factory whose locks are held in Redis, so key
// generation for a channel is serialised across every datahub process.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/infra/redis/common"
)

const keyPrefix = common.KeyPrefix + "lock:"

// Only delete the key if we still own it
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// unlockTimeout bounds releases, which run even if the caller's context is done
const unlockTimeout = 5 * time.Second

type RedisFactory struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retryWait time.Duration
}

// NewFactory returns a Factory for Redis locks. ttl bounds how long a lock
// survives a crashed holder; retryWait is the pause between acquisition
// attempts.
func NewFactory(client redis.UniversalClient, ttl time.Duration, retryWait time.Duration) *RedisFactory {
	return &RedisFactory{
		client:    client,
		ttl:       ttl,
		retryWait: retryWait,
	}
}

func (f *RedisFactory) NewLock(channel string) channellock.Lock {
	return &redisLock{
		client:    f.client,
		key:       keyPrefix + channel,
		ttl:       f.ttl,
		retryWait: f.retryWait,
		local:     make(chan struct{}, 1),
	}
}

// redisLock first takes a process-local slot, so only one goroutine per
// process polls Redis, then takes the Redis key with a token unique to this
// acquisition.
type redisLock struct {
	client    redis.UniversalClient
	key       string
	ttl       time.Duration
	retryWait time.Duration

	local chan struct{}
	token string // only touched while holding local
}

func (l *redisLock) Lock(ctx context.Context) error {
	select {
	case l.local <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	token := uuid.NewString()
	for {
		acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			<-l.local
			return common.RedisErr{Underlying: err}
		}
		if acquired {
			l.token = token
			return nil
		}
		timer := time.NewTimer(l.retryWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			<-l.local
			return ctx.Err()
		}
	}
}

func (l *redisLock) Unlock(ctx context.Context) error {
	defer func() {
		l.token = ""
		<-l.local
	}()
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()
	released, err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return common.RedisErr{Underlying: err}
	}
	if released == 0 {
		log.Warn().Str("key", l.key).Dur("ttl", l.ttl).Msg("Lock expired before it was released")
		return Expired{Key: l.key}
	}
	return nil
}

// Expired is returned on unlock when the lock's TTL ran out while it was held,
// meaning another holder may have run concurrently
type Expired struct {
	Key string
}

func (e Expired) Error() string {
	return fmt.Sprintf("Lock [%s] expired before it was released", e.Key)
}
