package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/metadata"
)

// Channels is a channel.Service kept in a map. Versions are bumped on every
// update so optimistic locking behaves like the Elasticsearch registry.
type Channels struct {
	mu       sync.RWMutex
	channels map[channel.Name]channel.Channel
	getUTC   func() time.Time
}

func NewChannels() *Channels {
	return &Channels{
		channels: make(map[channel.Name]channel.Channel),
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *Channels) Create(ctx context.Context, newChannel *channel.NewChannel) (*channel.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.channels[newChannel.Name]; exists {
		return nil, channel.AlreadyExists{Name: newChannel.Name}
	}
	now := c.getUTC()
	created := channel.Channel{
		Name:      newChannel.Name,
		TTLMillis: copyTTL(newChannel.TTLMillis),
		Owner:     copyOwner(newChannel.Owner),
		Metadata: metadata.Metadata{
			CreatedAt:  metadata.CreatedAt(now),
			ModifiedAt: metadata.ModifiedAt(now),
			Version:    metadata.Version{SeqNum: 0, PrimaryTerm: 1},
		},
	}
	c.channels[created.Name] = created
	return &created, nil
}

func (c *Channels) Get(ctx context.Context, name channel.Name) (*channel.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	existing, ok := c.channels[name]
	if !ok {
		return nil, channel.NotFound{Name: name}
	}
	return &existing, nil
}

func (c *Channels) Update(ctx context.Context, update *channel.Channel) (*channel.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, ok := c.channels[update.Name]
	if !ok {
		return nil, channel.NotFound{Name: update.Name}
	}
	if existing.Metadata.Version != update.Metadata.Version {
		return nil, channel.InvalidVersion{Name: update.Name}
	}
	updated := existing
	updated.TTLMillis = copyTTL(update.TTLMillis)
	updated.Owner = copyOwner(update.Owner)
	updated.Metadata.ModifiedAt = metadata.ModifiedAt(c.getUTC())
	updated.Metadata.Version.SeqNum++
	c.channels[updated.Name] = updated
	return &updated, nil
}

func (c *Channels) Delete(ctx context.Context, name channel.Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		return channel.NotFound{Name: name}
	}
	delete(c.channels, name)
	return nil
}

func (c *Channels) All(ctx context.Context) ([]channel.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := make([]channel.Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		all = append(all, ch)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Name < all[j].Name
	})
	return all, nil
}

func copyTTL(ttl *int64) *int64 {
	if ttl == nil {
		return nil
	}
	copied := *ttl
	return &copied
}

func copyOwner(owner *string) *string {
	if owner == nil {
		return nil
	}
	o := *owner
	return &o
}
