// +build integration

package integration_tests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/counter"
)

func Test_EsCounter_GetSet(t *testing.T) {
	c := counter.NewService(esClient, 50).Counter("get-set")

	v, err := c.Get(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, v)

	assert.NoError(t, c.Set(ctx, 42))
	v, err = c.Get(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

func Test_EsCounter_CompareAndSet(t *testing.T) {
	c := counter.NewService(esClient, 50).Counter("cas")

	ok, err := c.CompareAndSet(ctx, 0, 10)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CompareAndSet(ctx, 0, 20)
	assert.NoError(t, err)
	assert.False(t, ok)

	v, err := c.Get(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 10, v)
}

func Test_EsCounter_GetAndIncrement_concurrent(t *testing.T) {
	service := counter.NewService(esClient, 500)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int64]struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := service.Counter("incr").GetAndIncrement(ctx)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
	v, err := service.Counter("incr").Get(ctx)
	assert.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func Test_EsCounter_backsKeyGeneration(t *testing.T) {
	generator := keygen.NewClusterGenerator(counter.NewService(esClient, 50), channellock.NewExecutor(channellock.LocalFactory{}))
	at := time.Date(2016, 4, 21, 17, 22, 13, 0, time.UTC)
	generator.SetUTCGetter(func() time.Time {
		return at
	})
	var keys []content.Key
	for i := 0; i < 5; i++ {
		key, err := generator.NewKey(ctx, "es-keygen")
		assert.NoError(t, err)
		keys = append(keys, key)
	}
	for i := 1; i < len(keys); i++ {
		assert.True(t, keys[i-1].Less(keys[i]))
	}
	assert.EqualValues(t, 4, keys[4].Sequence())
}
