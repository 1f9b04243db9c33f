package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/coordination"
	"github.com/lloydmeta/datahub/internal/domain/timeindex"
)

// How many channels are consolidated at the same time
const consolidationParallelism = 4

// ConsolidationResult summarises one consolidation pass
type ConsolidationResult struct {
	Channels int
	Buckets  int
	Keys     int
}

func (r *ConsolidationResult) add(buckets int, keys int) {
	r.Buckets += buckets
	r.Keys += keys
}

// Consolidate writes the consolidated index for every minute bucket in
// [stable - lookback, stable] of every channel, where stable is the most
// recent minute that can no longer receive writes as of now.
//
// Buckets with no live entries are skipped. A failure on one channel is
// logged and does not stop the others; only cancellation of ctx is returned.
func (h *Hub) Consolidate(ctx context.Context, now time.Time, lookback time.Duration) (*ConsolidationResult, error) {
	channels, err := h.channels.All(ctx)
	if err != nil {
		return nil, err
	}
	stable := timeindex.StableMinute(now)
	buckets := timeindex.Buckets(stable.Add(-lookback), stable)

	result := ConsolidationResult{Channels: len(channels)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(consolidationParallelism)
	for _, c := range channels {
		name := c.Name
		g.Go(func() error {
			bucketCount, keyCount, err := h.consolidateChannel(gctx, name, buckets)
			mu.Lock()
			result.add(bucketCount, keyCount)
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()
	log.Debug().
		Int("channels", result.Channels).
		Int("buckets", result.Buckets).
		Int("keys", result.Keys).
		Msg("Consolidated time indices")
	return &result, err
}

func (h *Hub) consolidateChannel(ctx context.Context, name channel.Name, buckets []string) (bucketCount int, keyCount int, err error) {
	for _, hash := range buckets {
		if ctx.Err() != nil {
			return bucketCount, keyCount, ctx.Err()
		}
		keys, err := h.engine.LiveKeys(ctx, string(name), hash)
		if err != nil {
			var noNode coordination.NoNode
			if !errors.As(err, &noNode) {
				log.Warn().Err(err).Str("channel", string(name)).Str("bucket", hash).Msg("Unable to read live keys")
			}
			continue
		}
		if len(keys) == 0 {
			continue
		}
		h.engine.WriteConsolidatedIndex(ctx, string(name), hash, keys)
		bucketCount++
		keyCount += len(keys)
	}
	return bucketCount, keyCount, nil
}
