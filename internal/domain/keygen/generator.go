// keygen hands out content keys that are ordered across every node writing to
// a channel.
package keygen

import (
	"context"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/counter"
)

// Generator produces the next Key for a channel
type Generator interface {
	// NewKey returns a key strictly after every key previously issued for the
	// channel, except after a sequence wraparound at an unchanged timestamp.
	//
	// Errors are always content.KeyGenerationErr; no key is issued on error.
	NewKey(ctx context.Context, channel string) (content.Key, error)
}

func LastWriteCounterName(channel string) string {
	return "CHANNEL_NAME_DATE:" + channel
}

func SequenceCounterName(channel string) string {
	return "CHANNEL_NAME_SEQ:" + channel
}

// ClusterGenerator keeps a last-write timestamp register and a sequence
// counter per channel in a cluster-wide counter.Service, and only touches
// them while holding the channel lock.
type ClusterGenerator struct {
	counters counter.Service
	locks    *channellock.Executor
	getUTC   func() time.Time // for mocking
}

func NewClusterGenerator(counters counter.Service, locks *channellock.Executor) *ClusterGenerator {
	return &ClusterGenerator{
		counters: counters,
		locks:    locks,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// For testing
func (g *ClusterGenerator) SetUTCGetter(getter func() time.Time) {
	g.getUTC = getter
}

func (g *ClusterGenerator) NewKey(ctx context.Context, channel string) (content.Key, error) {
	var key content.Key
	err := g.locks.Execute(ctx, channel, func(ctx context.Context) error {
		millis, err := g.keyMillis(ctx, channel)
		if err != nil {
			return err
		}
		sequence, err := g.keySequence(ctx, channel)
		if err != nil {
			return err
		}
		key, err = content.NewKey(millis, sequence)
		return err
	})
	if err != nil {
		return content.Key{}, content.KeyGenerationErr{Channel: channel, Underlying: err}
	}
	return key, nil
}

// The key timestamp never goes backwards, even if this node's clock is behind
// the node that wrote last.
func (g *ClusterGenerator) keyMillis(ctx context.Context, channel string) (int64, error) {
	lastWrite := g.counters.Counter(LastWriteCounterName(channel))
	lastMillis, err := lastWrite.Get(ctx)
	if err != nil {
		return 0, err
	}
	nowMillis := g.getUTC().UnixNano() / int64(time.Millisecond)
	keyMillis := lastMillis
	if nowMillis > lastMillis {
		keyMillis = nowMillis
	}
	if err := lastWrite.Set(ctx, keyMillis); err != nil {
		return 0, err
	}
	return keyMillis, nil
}

// At the maximum, the counter is reset to 0 and the caller gets the maximum.
// The next caller then gets 0 again even if the timestamp has not moved.
func (g *ClusterGenerator) keySequence(ctx context.Context, channel string) (int64, error) {
	sequence := g.counters.Counter(SequenceCounterName(channel))
	reset, err := sequence.CompareAndSet(ctx, content.MaxSequence, 0)
	if err != nil {
		return 0, err
	}
	if reset {
		return content.MaxSequence, nil
	}
	next, err := sequence.GetAndIncrement(ctx)
	if err != nil {
		return 0, err
	}
	if next > content.MaxSequence {
		return wrapOvershoot(ctx, sequence, next)
	}
	return next, nil
}

// Callers holding only a process local lock, or a distributed lock that
// expired mid operation, can both miss the reset and push the counter past
// the maximum. The overshoot is folded back into range so that the channel
// keeps accepting writes.
func wrapOvershoot(ctx context.Context, sequence counter.Counter, issued int64) (int64, error) {
	span := content.MaxSequence + 1
	if _, err := sequence.CompareAndSet(ctx, issued+1, (issued+1)%span); err != nil {
		return 0, err
	}
	return issued % span, nil
}
