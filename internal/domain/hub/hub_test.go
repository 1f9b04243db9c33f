package hub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/datahub/internal/domain/blob"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/domain/storage"
	"github.com/lloydmeta/datahub/internal/domain/timeindex"
	"github.com/lloydmeta/datahub/internal/infra/memory"
)

var ctx = context.Background()

var t0 = time.Date(2016, 4, 21, 17, 22, 13, 0, time.UTC)

type fixture struct {
	hub      *Hub
	channels *memory.Channels
	blobs    *memory.BlobStore
	tree     *memory.Tree
	now      time.Time
}

func newFixture(maxPayloadBytes int64) *fixture {
	channels := memory.NewChannels()
	f := buildFixture(channels, maxPayloadBytes)
	f.channels = channels
	return f
}

func newFixtureWithChannels(channels channel.Service) *fixture {
	return buildFixture(channels, 0)
}

func buildFixture(channels channel.Service, maxPayloadBytes int64) *fixture {
	f := fixture{
		blobs: memory.NewBlobStore("datahub-test"),
		tree:  memory.NewTree(),
		now:   t0,
	}
	keys := keygen.NewClusterGenerator(memory.NewCounters(), channellock.NewExecutor(channellock.LocalFactory{}))
	keys.SetUTCGetter(func() time.Time {
		return f.now
	})
	engine := storage.NewEngine(keys, f.blobs, f.tree, nil)
	engine.SetUTCGetter(func() time.Time {
		return f.now
	})
	f.hub = New(channels, engine, maxPayloadBytes)
	return &f
}

func ttl(d time.Duration) *int64 {
	millis := d.Milliseconds()
	return &millis
}

func TestHub_channelLifecycle(t *testing.T) {
	f := newFixture(0)
	created, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders", TTLMillis: ttl(48 * time.Hour)})
	assert.NoError(t, err)
	assert.EqualValues(t, "orders", created.Name)

	rules, err := f.blobs.GetRetentionRules(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []blob.RetentionRule{{ID: "orders", Prefix: "orders/", ExpirationDays: 3, Enabled: true}}, rules)

	updated, err := f.hub.UpdateChannel(ctx, "orders", channel.Attributes{TTLMillis: ttl(24 * time.Hour)})
	assert.NoError(t, err)
	assert.EqualValues(t, 24*time.Hour.Milliseconds(), *updated.TTLMillis)
	rules, err = f.blobs.GetRetentionRules(ctx)
	assert.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 2, rules[0].ExpirationDays)

	all, err := f.hub.AllChannels(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 1)

	assert.NoError(t, f.hub.DeleteChannel(ctx, "orders"))
	_, err = f.hub.GetChannel(ctx, "orders")
	assert.IsType(t, channel.NotFound{}, err)
}

func TestHub_Insert_thenGet(t *testing.T) {
	f := newFixture(0)
	_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders"})
	assert.NoError(t, err)

	c := content.New([]byte("hello"), "text/plain", "")
	result, err := f.hub.Insert(ctx, "orders", &c)
	assert.NoError(t, err)

	read, err := f.hub.Get(ctx, "orders", result.Key)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), read.Data)

	keys, err := f.hub.Keys(ctx, "orders", t0)
	assert.NoError(t, err)
	assert.Equal(t, []content.Key{result.Key}, keys)
}

func TestHub_Insert_unknownChannel(t *testing.T) {
	f := newFixture(0)
	c := content.New([]byte("hello"), "", "")
	_, err := f.hub.Insert(ctx, "nope", &c)
	assert.IsType(t, channel.NotFound{}, err)
	assert.Empty(t, f.blobs.Paths())
}

func TestHub_Insert_tooLarge(t *testing.T) {
	f := newFixture(4)
	_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders"})
	assert.NoError(t, err)

	c := content.New([]byte("hello"), "", "")
	_, err = f.hub.Insert(ctx, "orders", &c)
	var tooLarge content.TooLarge
	assert.True(t, errors.As(err, &tooLarge))
	assert.EqualValues(t, 5, tooLarge.Size)
	assert.EqualValues(t, 4, tooLarge.MaxBytes)

	small := content.New([]byte("hi"), "", "")
	_, err = f.hub.Insert(ctx, "orders", &small)
	assert.NoError(t, err)
}

func TestHub_Get_missing(t *testing.T) {
	f := newFixture(0)
	_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders"})
	assert.NoError(t, err)
	key, _ := content.NewKey(1, 0)
	_, err = f.hub.Get(ctx, "orders", key)
	assert.IsType(t, content.NotFound{}, err)
}

func TestHub_Consolidate(t *testing.T) {
	f := newFixture(0)
	_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders"})
	assert.NoError(t, err)
	_, err = f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "empty"})
	assert.NoError(t, err)

	var written []content.Key
	for i := 0; i < 3; i++ {
		c := content.New([]byte("x"), "", "")
		result, err := f.hub.Insert(ctx, "orders", &c)
		assert.NoError(t, err)
		written = append(written, result.Key)
	}
	f.now = t0.Add(time.Minute)
	c := content.New([]byte("x"), "", "")
	_, err = f.hub.Insert(ctx, "orders", &c)
	assert.NoError(t, err)

	// 17:23:13 makes 17:22 the stable minute, 17:23 is still open
	result, err := f.hub.Consolidate(ctx, f.now, 5*time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, &ConsolidationResult{Channels: 2, Buckets: 1, Keys: 3}, result)

	obj, err := f.blobs.Get(ctx, storage.IndexPath("orders", timeindex.BucketHash(t0)))
	assert.NoError(t, err)
	assert.Contains(t, string(obj.Data), written[0].String())
	_, err = f.blobs.Get(ctx, storage.IndexPath("orders", timeindex.BucketHash(f.now)))
	assert.Error(t, err)

	f.tree.FailWith = errors.New("tree down")
	keys, err := f.hub.Keys(ctx, "orders", t0)
	assert.NoError(t, err)
	assert.Equal(t, written, keys, "served from the consolidated index")
}

func TestHub_Consolidate_manyChannels(t *testing.T) {
	f := newFixture(0)
	for i := 0; i < 10; i++ {
		name := channel.Name(fmt.Sprintf("channel-%d", i))
		_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: name})
		assert.NoError(t, err)
		for j := 0; j <= i; j++ {
			c := content.New([]byte("x"), "", "")
			_, err := f.hub.Insert(ctx, name, &c)
			assert.NoError(t, err)
		}
	}
	result, err := f.hub.Consolidate(ctx, t0.Add(time.Minute), time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, &ConsolidationResult{Channels: 10, Buckets: 10, Keys: 55}, result)
}

func TestHub_Consolidate_cancelled(t *testing.T) {
	f := newFixture(0)
	_, err := f.hub.CreateChannel(ctx, &channel.NewChannel{Name: "orders"})
	assert.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.hub.Consolidate(cancelled, t0.Add(time.Minute), time.Minute)
	assert.Equal(t, context.Canceled, err)
}

func TestHub_PutChannel(t *testing.T) {
	f := newFixture(0)
	owner := "the man"
	created, wasCreated, err := f.hub.PutChannel(ctx, "orders", channel.Attributes{Owner: &owner})
	assert.NoError(t, err)
	assert.True(t, wasCreated)
	assert.Equal(t, "the man", *created.Owner)
	assert.Nil(t, created.TTLMillis)

	other := "stuff"
	updated, wasCreated, err := f.hub.PutChannel(ctx, "orders", channel.Attributes{Owner: &other, TTLMillis: ttl(24 * time.Hour)})
	assert.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, "stuff", *updated.Owner)
	assert.Equal(t, created.CreatedAt(), updated.CreatedAt())

	found, err := f.hub.GetChannel(ctx, "orders")
	assert.NoError(t, err)
	assert.Equal(t, "stuff", *found.Owner)
	rules, err := f.blobs.GetRetentionRules(ctx)
	assert.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 2, rules[0].ExpirationDays)
}

func TestHub_PutChannel_createRace(t *testing.T) {
	getCalls := 0
	service := &channel.MockChannelsService{
		GetOverride: func() (*channel.Channel, error) {
			getCalls++
			if getCalls == 1 {
				return nil, channel.NotFound{Name: "mock"}
			}
			c := channel.MockDomainChannel
			return &c, nil
		},
		CreateOverride: func() (*channel.Channel, error) {
			return nil, channel.AlreadyExists{Name: "mock"}
		},
	}
	f := newFixtureWithChannels(service)
	_, wasCreated, err := f.hub.PutChannel(ctx, "mock", channel.Attributes{})
	assert.NoError(t, err)
	assert.False(t, wasCreated)
	assert.EqualValues(t, 1, service.UpdateCalled)
}
