// counter keeps cluster-wide atomic counters in Redis. A counter that was
// never written reads as 0.
package counter

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/lloydmeta/datahub/internal/domain/counter"
	"github.com/lloydmeta/datahub/internal/infra/redis/common"
)

const keyPrefix = common.KeyPrefix + "counter:"

var compareAndSetScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current == tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

type RedisService struct {
	client redis.UniversalClient
}

func NewService(client redis.UniversalClient) counter.Service {
	return &RedisService{client: client}
}

func (r *RedisService) Counter(name string) counter.Counter {
	return &redisCounter{client: r.client, key: keyPrefix + name}
}

type redisCounter struct {
	client redis.UniversalClient
	key    string
}

func (c *redisCounter) Get(ctx context.Context) (int64, error) {
	value, err := c.client.Get(ctx, c.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, common.RedisErr{Underlying: err}
	}
	return value, nil
}

func (c *redisCounter) Set(ctx context.Context, value int64) error {
	if err := c.client.Set(ctx, c.key, value, 0).Err(); err != nil {
		return common.RedisErr{Underlying: err}
	}
	return nil
}

// INCR returns the new value, we want the one before
func (c *redisCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	value, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, common.RedisErr{Underlying: err}
	}
	return value - 1, nil
}

func (c *redisCounter) CompareAndSet(ctx context.Context, expected int64, update int64) (bool, error) {
	swapped, err := compareAndSetScript.Run(ctx, c.client, []string{c.key}, expected, update).Int64()
	if err != nil {
		return false, common.RedisErr{Underlying: err}
	}
	return swapped == 1, nil
}
