package channel

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apiChannel "github.com/lloydmeta/datahub/internal/api/models/channel"
	"github.com/lloydmeta/datahub/internal/api/models/common"
	"github.com/lloydmeta/datahub/internal/domain/blob"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/hub"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/domain/storage"
	"github.com/lloydmeta/datahub/internal/infra/memory"
)

var ctx = context.Background()

var t0 = time.Date(2016, 4, 21, 17, 22, 13, 0, time.UTC)

type stores struct {
	counters *memory.Counters
	blobs    *memory.BlobStore
	tree     *memory.Tree
}

func newController(channels channel.Service, maxPayloadBytes int64) (Controller, *stores) {
	s := stores{
		counters: memory.NewCounters(),
		blobs:    memory.NewBlobStore("datahub-test"),
		tree:     memory.NewTree(),
	}
	keys := keygen.NewClusterGenerator(s.counters, channellock.NewExecutor(channellock.LocalFactory{}))
	keys.SetUTCGetter(func() time.Time {
		return t0
	})
	engine := storage.NewEngine(keys, s.blobs, s.tree, nil)
	engine.SetUTCGetter(func() time.Time {
		return t0
	})
	return New(hub.New(channels, engine, maxPayloadBytes)), &s
}

func TestNew(t *testing.T) {
	assert.NotPanics(t, func() {
		newController(&channel.MockChannelsService{}, 0)
	})
}

func Test_impl_Create(t *testing.T) {
	ttl := common.Duration(72 * time.Hour)
	tests := []struct {
		name       string
		service    *channel.MockChannelsService
		wantStatus int
	}{
		{
			name:    "create successful",
			service: &channel.MockChannelsService{},
		},
		{
			name: "create results in already exists",
			service: &channel.MockChannelsService{
				CreateOverride: func() (*channel.Channel, error) {
					return nil, channel.AlreadyExists{Name: "mock"}
				},
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "create results in an unexpected error",
			service: &channel.MockChannelsService{
				CreateOverride: func() (*channel.Channel, error) {
					return nil, errors.New("boom")
				},
			},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController(tt.service, 0)
			got, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "mock", TTL: &ttl})
			assert.EqualValues(t, 1, tt.service.CreateCalled)
			if tt.wantStatus != 0 {
				assert.Nil(t, got)
				assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			} else {
				assert.Nil(t, apiErr)
				assert.Equal(t, channel.MockDomainChannel.Name, got.Name)
			}
		})
	}
}

type noRetentionStore struct {
	*memory.BlobStore
}

func (s noRetentionStore) GetRetentionRules(ctx context.Context) ([]blob.RetentionRule, error) {
	return nil, errors.New("permission denied")
}

func Test_impl_Create_storageSetupFails(t *testing.T) {
	keys := keygen.NewClusterGenerator(memory.NewCounters(), channellock.NewExecutor(channellock.LocalFactory{}))
	engine := storage.NewEngine(keys, noRetentionStore{memory.NewBlobStore("datahub-test")}, memory.NewTree(), nil)
	c := New(hub.New(memory.NewChannels(), engine, 0))

	ttl := common.Duration(time.Hour)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders", TTL: &ttl})
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	// the channel itself was registered
	_, apiErr = c.Get(ctx, "orders")
	assert.Nil(t, apiErr)
}

func Test_impl_Get(t *testing.T) {
	tests := []struct {
		name       string
		channel    channel.Name
		service    *channel.MockChannelsService
		wantStatus int
	}{
		{
			name:    "found",
			channel: "mock",
			service: &channel.MockChannelsService{},
		},
		{
			name:    "not found",
			channel: "mock",
			service: &channel.MockChannelsService{
				GetOverride: func() (*channel.Channel, error) {
					return nil, channel.NotFound{Name: "mock"}
				},
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid name",
			channel:    "Not_OK",
			service:    &channel.MockChannelsService{},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController(tt.service, 0)
			got, apiErr := c.Get(ctx, tt.channel)
			if tt.wantStatus != 0 {
				assert.Nil(t, got)
				assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			} else {
				assert.Nil(t, apiErr)
				assert.Equal(t, apiChannel.FromDomainChannel(&channel.MockDomainChannel), *got)
			}
		})
	}
}

func Test_impl_Put_updatesExisting(t *testing.T) {
	channels := memory.NewChannels()
	c, s := newController(channels, 0)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders"})
	assert.Nil(t, apiErr)

	ttl := common.Duration(36 * time.Hour)
	owner := "the man"
	updated, created, apiErr := c.Put(ctx, "orders", &apiChannel.ChannelUpdate{TTL: &ttl, Owner: &owner})
	assert.Nil(t, apiErr)
	assert.False(t, created)
	assert.Equal(t, ttl, *updated.TTL)
	assert.Equal(t, "the man", *updated.Owner)

	rules, err := s.blobs.GetRetentionRules(ctx)
	assert.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, 3, rules[0].ExpirationDays)
}

func Test_impl_Put_createsMissing(t *testing.T) {
	c, _ := newController(memory.NewChannels(), 0)
	owner := "the man"
	put, created, apiErr := c.Put(ctx, "fresh", &apiChannel.ChannelUpdate{Owner: &owner})
	assert.Nil(t, apiErr)
	assert.True(t, created)
	assert.EqualValues(t, "fresh", put.Name)

	found, apiErr := c.Get(ctx, "fresh")
	assert.Nil(t, apiErr)
	assert.Equal(t, "the man", *found.Owner)

	_, _, apiErr = c.Put(ctx, "Not Valid", &apiChannel.ChannelUpdate{})
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func Test_impl_Put_versionConflict(t *testing.T) {
	service := &channel.MockChannelsService{
		UpdateOverride: func() (*channel.Channel, error) {
			return nil, channel.InvalidVersion{Name: "mock"}
		},
	}
	c, _ := newController(service, 0)
	_, _, apiErr := c.Put(ctx, "mock", &apiChannel.ChannelUpdate{})
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func Test_impl_Delete(t *testing.T) {
	c, _ := newController(memory.NewChannels(), 0)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders"})
	assert.Nil(t, apiErr)

	assert.Nil(t, c.Delete(ctx, "orders"))
	apiErr = c.Delete(ctx, "orders")
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func Test_impl_List(t *testing.T) {
	c, _ := newController(memory.NewChannels(), 0)
	empty, apiErr := c.List(ctx)
	assert.Nil(t, apiErr)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for _, name := range []channel.Name{"b", "a"} {
		_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: name})
		assert.Nil(t, apiErr)
	}
	all, apiErr := c.List(ctx)
	assert.Nil(t, apiErr)
	assert.Len(t, all, 2)
	assert.Equal(t, channel.Name("a"), all[0].Name)

	failing := &channel.MockChannelsService{
		AllOverride: func() ([]channel.Channel, error) {
			return nil, errors.New("down")
		},
	}
	c, _ = newController(failing, 0)
	_, apiErr = c.List(ctx)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func Test_impl_InsertReadKeys(t *testing.T) {
	c, _ := newController(memory.NewChannels(), 0)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders"})
	assert.Nil(t, apiErr)

	payload := content.New([]byte("hello"), "text/plain", "en")
	inserted, apiErr := c.Insert(ctx, "orders", &payload)
	assert.Nil(t, apiErr)
	assert.Equal(t, t0, inserted.WrittenAt)

	read, apiErr := c.Read(ctx, "orders", inserted.Key)
	assert.Nil(t, apiErr)
	assert.Equal(t, []byte("hello"), read.Data)
	assert.Equal(t, "text/plain", *read.ContentType)

	keys, apiErr := c.Keys(ctx, "orders", "2016-04-21-17-22")
	assert.Nil(t, apiErr)
	assert.Equal(t, []string{inserted.Key}, keys.Keys)

	keys, apiErr = c.Keys(ctx, "orders", "2016-04-21-17-23")
	assert.Nil(t, apiErr)
	assert.Empty(t, keys.Keys)
}

func Test_impl_Insert_errors(t *testing.T) {
	c, s := newController(memory.NewChannels(), 16)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders"})
	assert.Nil(t, apiErr)

	big := content.New(make([]byte, 17), "", "")
	_, apiErr = c.Insert(ctx, "orders", &big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.StatusCode)

	small := content.New([]byte("hi"), "", "")
	_, apiErr = c.Insert(ctx, "missing", &small)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	s.counters.FailWith = errors.New("counters down")
	_, apiErr = c.Insert(ctx, "orders", &small)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	s.counters.FailWith = nil
	s.tree.FailWith = errors.New("tree down")
	_, apiErr = c.Insert(ctx, "orders", &small)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func Test_impl_Read_errors(t *testing.T) {
	c, _ := newController(memory.NewChannels(), 0)
	_, apiErr := c.Create(ctx, &apiChannel.NewChannel{Name: "orders"})
	assert.Nil(t, apiErr)

	_, apiErr = c.Read(ctx, "orders", "not-a-key")
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	missing, _ := content.KeyAt(t0, 9)
	_, apiErr = c.Read(ctx, "orders", missing.String())
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func Test_impl_Keys_badMinute(t *testing.T) {
	c, _ := newController(&channel.MockChannelsService{}, 0)
	_, apiErr := c.Keys(ctx, "mock", "yesterday")
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}
