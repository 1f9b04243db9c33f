package channel

import (
	"time"

	"github.com/lloydmeta/datahub/internal/api/models/common"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/timeindex"
)

// A Channel that is yet to be created
type NewChannel struct {
	Name channel.Name `json:"name" binding:"required,channelName" example:"orders"`
	// How long content is kept for. Content is kept forever when absent
	TTL *common.Duration `json:"ttl,omitempty" example:"72h"`
	// Who is responsible for the Channel
	Owner *string `json:"owner,omitempty" example:"the man"`
}

// Replacement attributes for a Channel, which is created if it does not
// exist. An absent TTL removes expiry, an absent owner clears it
type ChannelUpdate struct {
	TTL   *common.Duration `json:"ttl,omitempty" example:"72h"`
	Owner *string          `json:"owner,omitempty" example:"the man"`
}

type Channel struct {
	Name     channel.Name     `json:"name" binding:"required"`
	TTL      *common.Duration `json:"ttl,omitempty"`
	Owner    *string          `json:"owner,omitempty"`
	Metadata common.Metadata  `json:"metadata" binding:"required"`
}

// The result of writing a payload to a Channel
type InsertionResult struct {
	Channel   channel.Name `json:"channel"`
	Key       string       `json:"key" example:"001461259333000-00000"`
	WrittenAt time.Time    `json:"written_at"`
}

// Keys written to a Channel during one minute
type MinuteKeys struct {
	Channel channel.Name `json:"channel"`
	Minute  string       `json:"minute" example:"2016-04-21-17-22"`
	Keys    []string     `json:"keys"`
}

// Converts an API model to the domain model
func (n *NewChannel) ToDomainNewChannel() channel.NewChannel {
	return channel.NewChannel{
		Name:      n.Name,
		TTLMillis: ttlMillis(n.TTL),
		Owner:     n.Owner,
	}
}

func (u *ChannelUpdate) ToDomainAttributes() channel.Attributes {
	return channel.Attributes{
		TTLMillis: ttlMillis(u.TTL),
		Owner:     u.Owner,
	}
}

func FromDomainChannel(c *channel.Channel) Channel {
	var ttl *common.Duration
	if c.TTLMillis != nil {
		d := common.DurationFromMillis(*c.TTLMillis)
		ttl = &d
	}
	return Channel{
		Name:     c.Name,
		TTL:      ttl,
		Owner:    c.Owner,
		Metadata: common.FromDomainMetadata(&c.Metadata),
	}
}

func FromDomainInsertionResult(name channel.Name, r *content.InsertionResult) InsertionResult {
	return InsertionResult{
		Channel:   name,
		Key:       r.Key.String(),
		WrittenAt: r.WrittenAt,
	}
}

func FromDomainKeys(name channel.Name, minute time.Time, keys []content.Key) MinuteKeys {
	return MinuteKeys{
		Channel: name,
		Minute:  timeindex.BucketHash(minute),
		Keys:    content.KeyStrings(keys),
	}
}

func ttlMillis(d *common.Duration) *int64 {
	if d == nil {
		return nil
	}
	millis := d.Millis()
	return &millis
}
