// common holds what the Redis backed services share
package common

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lloydmeta/datahub/internal/config"
)

// KeyPrefix namespaces every key datahub writes
const KeyPrefix = "datahub:"

// NewClient returns a configured redis.Client based on the given conf
func NewClient(conf config.RedisClient) *redis.Client {
	options := redis.Options{
		Addr: conf.Address,
		DB:   conf.DB,
	}
	if conf.Password != nil {
		options.Password = *conf.Password
	}
	return redis.NewClient(&options)
}

type RedisErr struct {
	Underlying error
}

func (e RedisErr) Error() string {
	return fmt.Sprintf("Error from Redis: %v", e.Underlying)
}

func (e RedisErr) Unwrap() error {
	return e.Underlying
}
