package channel

import (
	"math"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/metadata"
)

const dayMillis = int64(24 * time.Hour / time.Millisecond)

// Channel is a named stream of content that is retained independently
type Channel struct {
	Name      Name
	TTLMillis *int64
	Owner     *string
	Metadata  metadata.Metadata
}

func (c *Channel) CreatedAt() time.Time {
	return time.Time(c.Metadata.CreatedAt)
}

// NewChannel is what callers provide when creating a Channel
type NewChannel struct {
	Name      Name
	TTLMillis *int64
	Owner     *string
}

// Attributes are the parts of a Channel that can be replaced after creation
type Attributes struct {
	TTLMillis *int64
	Owner     *string
}

// Apply replaces the attributes of c with a
func (a Attributes) Apply(c *Channel) {
	c.TTLMillis = a.TTLMillis
	c.Owner = a.Owner
}

// RetentionDays is the number of whole days content must be kept for to honour
// the TTL. The extra day makes sure partial days never expire data early.
//
// Returns false if the channel has no TTL.
func (c *Channel) RetentionDays() (int, bool) {
	if c.TTLMillis == nil {
		return 0, false
	}
	days := int64(math.Ceil(float64(*c.TTLMillis) / float64(dayMillis)))
	return int(days) + 1, true
}

// Prefix is the blob store namespace of the channel
func (c *Channel) Prefix() string {
	return string(c.Name) + "/"
}
