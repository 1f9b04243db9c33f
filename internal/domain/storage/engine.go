// storage is the content storage engine: it gives every write a key, stores
// the payload in the blob store and records it in the time index.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/blob"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/coordination"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/domain/timeindex"
)

const (
	typeField     = "type"
	languageField = "language"
	noneSentinel  = "none"

	jsonContentType = "application/json"

	deletePageSize = 1000
)

// Engine writes content to a blob.Store, indexes it in a coordination.Tree
// and reads it back by key or by minute bucket.
//
// The blob write and the index write are not transactional. A failure between
// the two leaves either an unindexed blob or an index entry with no blob;
// range reads tolerate both.
type Engine struct {
	keys    keygen.Generator
	blobs   blob.Store
	tree    coordination.Tree
	metrics Metrics
	getUTC  func() time.Time // for mocking
}

func NewEngine(keys keygen.Generator, blobs blob.Store, tree coordination.Tree, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Engine{
		keys:    keys,
		blobs:   blobs,
		tree:    tree,
		metrics: metrics,
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// For testing
func (e *Engine) SetUTCGetter(getter func() time.Time) {
	e.getUTC = getter
}

// Initialize makes sure the blob container exists, creating it if the probe
// fails. Safe to call on every start.
func (e *Engine) Initialize(ctx context.Context) error {
	container := e.blobs.Container()
	if err := e.blobs.ProbeContainer(ctx); err == nil {
		log.Info().Str("container", container).Msg("Blob container exists")
		return nil
	} else {
		log.Info().Err(err).Str("container", container).Msg("Blob container probe failed, creating")
	}
	if err := e.blobs.CreateContainer(ctx); err != nil {
		return err
	}
	log.Info().Str("container", container).Msg("Created blob container")
	return nil
}

// Write stores c under a newly generated key and indexes it under the minute
// it was written in.
//
// A content.KeyGenerationErr means nothing was written. A content.WriteErr
// means the key was issued but the blob or the index entry may be missing;
// retry with a new key, never with the same one.
func (e *Engine) Write(ctx context.Context, channelName string, c *content.Content) (result *content.InsertionResult, err error) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveWrite(channelName, time.Since(start), err)
	}()

	key, err := e.keys.NewKey(ctx, channelName)
	if err != nil {
		log.Error().Err(err).Str("channel", channelName).Msg("Failed to generate key")
		return nil, err
	}
	writtenAt := e.getUTC()
	if err := e.writeContent(ctx, channelName, key, c); err != nil {
		log.Warn().Err(err).Str("channel", channelName).Str("key", key.String()).Msg("Failed to write content")
		return nil, content.WriteErr{Channel: channelName, Key: key, Target: "blob", Underlying: err}
	}
	indexPath := timeindex.KeyPath(channelName, writtenAt, key)
	if err := e.tree.CreatePersistent(ctx, indexPath); err != nil {
		log.Warn().Err(err).Str("path", indexPath).Msg("Unable to create index entry")
		return nil, content.WriteErr{Channel: channelName, Key: key, Target: "index", Underlying: err}
	}
	return &content.InsertionResult{Key: key, WrittenAt: writtenAt}, nil
}

func (e *Engine) writeContent(ctx context.Context, channelName string, key content.Key, c *content.Content) error {
	metadata := blob.Metadata{
		User: map[string]string{
			typeField:     noneSentinel,
			languageField: noneSentinel,
		},
	}
	if c.ContentType != nil {
		metadata.ContentType = *c.ContentType
		metadata.User[typeField] = *c.ContentType
	}
	if c.ContentLanguage != nil {
		metadata.User[languageField] = *c.ContentLanguage
	}
	return e.blobs.Put(ctx, ContentPath(channelName, key), c.Data, metadata)
}

// Read returns the content stored under key. Store faults are logged and
// reported the same way as missing content: found is false.
func (e *Engine) Read(ctx context.Context, channelName string, key content.Key) (c *content.Content, found bool) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveRead(channelName, time.Since(start), found)
	}()

	obj, err := e.blobs.Get(ctx, ContentPath(channelName, key))
	if err != nil {
		var notFound blob.NotFound
		if errors.As(err, &notFound) {
			log.Debug().Str("channel", channelName).Str("key", key.String()).Msg("No content for key")
		} else {
			log.Info().Err(err).Str("channel", channelName).Str("key", key.String()).Msg("Unable to get content")
		}
		return nil, false
	}
	lastModified := obj.LastModified
	read := content.Content{
		Data:            obj.Data,
		ContentType:     userField(obj, typeField, channelName, key),
		ContentLanguage: userField(obj, languageField, channelName, key),
		Key:             &key,
		LastModified:    &lastModified,
	}
	return &read, true
}

func userField(obj *blob.Object, field string, channelName string, key content.Key) *string {
	value, ok := obj.Metadata.User[field]
	if !ok {
		log.Warn().Str("channel", channelName).Str("key", key.String()).Str("field", field).Msg("Stored content is missing metadata field")
		return nil
	}
	if value == noneSentinel {
		return nil
	}
	return &value
}

// GetKeys returns the keys written in the minute bucket containing t, sorted.
//
// The consolidated index object is preferred; if it is missing or unreadable
// the live coordination tree index is used. If neither can be read the result
// is empty: this never fails.
func (e *Engine) GetKeys(ctx context.Context, channelName string, t time.Time) []content.Key {
	hash := timeindex.BucketHash(t)
	if keys, err := e.ConsolidatedKeys(ctx, channelName, hash); err == nil {
		e.metrics.ObserveKeysLookup(channelName, ConsolidatedSource)
		return keys
	} else {
		log.Info().Err(err).Str("channel", channelName).Str("bucket", hash).Msg("Unable to find consolidated keys")
	}
	if keys, err := e.LiveKeys(ctx, channelName, hash); err == nil {
		e.metrics.ObserveKeysLookup(channelName, LiveSource)
		return keys
	} else {
		log.Info().Err(err).Str("channel", channelName).Str("bucket", hash).Msg("Unable to find live keys")
	}
	e.metrics.ObserveKeysLookup(channelName, NoSource)
	return []content.Key{}
}

// ConsolidatedKeys reads the consolidated index object for a bucket
func (e *Engine) ConsolidatedKeys(ctx context.Context, channelName string, bucketHash string) ([]content.Key, error) {
	obj, err := e.blobs.Get(ctx, IndexPath(channelName, bucketHash))
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(obj.Data, &ids); err != nil {
		return nil, err
	}
	return content.ParseKeys(ids)
}

// LiveKeys enumerates the coordination tree entries for a bucket
func (e *Engine) LiveKeys(ctx context.Context, channelName string, bucketHash string) ([]content.Key, error) {
	ids, err := e.tree.Children(ctx, timeindex.BucketPath(channelName, bucketHash))
	if err != nil {
		return nil, err
	}
	return content.ParseKeys(ids)
}

// WriteConsolidatedIndex stores keys as the consolidated index of a bucket.
// Failures are logged and otherwise ignored, since the live index stays
// correct without it.
func (e *Engine) WriteConsolidatedIndex(ctx context.Context, channelName string, bucketHash string, keys []content.Key) {
	sorted := make([]content.Key, len(keys))
	copy(sorted, keys)
	sorted = content.SortKeys(sorted)
	asBytes, err := json.Marshal(content.KeyStrings(sorted))
	if err == nil {
		err = e.blobs.Put(ctx, IndexPath(channelName, bucketHash), asBytes, blob.Metadata{ContentType: jsonContentType})
	}
	if err != nil {
		log.Warn().Err(err).Str("channel", channelName).Str("bucket", bucketHash).Int("keys", len(sorted)).Msg("Unable to create consolidated index")
	}
	e.metrics.ObserveConsolidation(channelName, len(sorted), err)
}

// InitializeChannel prepares storage for a new channel
func (e *Engine) InitializeChannel(ctx context.Context, c *channel.Channel) error {
	return e.ApplyRetention(ctx, c)
}

// UpdateChannel applies configuration changes to storage
func (e *Engine) UpdateChannel(ctx context.Context, c *channel.Channel) error {
	return e.ApplyRetention(ctx, c)
}

// ApplyRetention installs the retention rule for a channel with a TTL,
// replacing any previous rule for the same prefix.
//
// This is a read-modify-write of the container-wide rule set without any
// lock: concurrent updates for different channels are last-writer-wins and
// can drop one another.
func (e *Engine) ApplyRetention(ctx context.Context, c *channel.Channel) error {
	days, ok := c.RetentionDays()
	if !ok {
		return nil
	}
	rules, err := e.blobs.GetRetentionRules(ctx)
	if err != nil {
		return err
	}
	log.Info().Str("channel", string(c.Name)).Int("rules", len(rules)).Msg("Found retention rules")
	prefix := c.Prefix()
	updated := make([]blob.RetentionRule, 0, len(rules)+1)
	for _, rule := range rules {
		if rule.Prefix == prefix {
			log.Info().Str("prefix", rule.Prefix).Msg("Removing retention rule")
			continue
		}
		updated = append(updated, rule)
	}
	updated = append(updated, blob.RetentionRule{
		ID:             string(c.Name),
		Prefix:         prefix,
		ExpirationDays: days,
		Enabled:        true,
	})
	return e.blobs.SetRetentionRules(ctx, updated)
}

// Delete starts removing every blob of the channel in the background and
// returns straight away.
func (e *Engine) Delete(channelName string) {
	go e.deleteChannel(context.Background(), channelName)
}

// The live index goes first so that a channel recreated under the same name
// never lists keys that point at deleted content.
func (e *Engine) deleteChannel(ctx context.Context, channelName string) {
	if err := e.tree.DeleteRecursive(ctx, timeindex.ChannelPath(channelName)); err != nil {
		log.Error().Err(err).Str("channel", channelName).Msg("Failed to delete live time index")
		return
	}
	prefix := channelName + "/"
	deleted := 0
	for {
		paths, err := e.blobs.List(ctx, prefix, deletePageSize)
		if err != nil {
			log.Error().Err(err).Str("channel", channelName).Int("deleted", deleted).Msg("Failed to list content for deletion")
			return
		}
		if len(paths) == 0 {
			break
		}
		for _, p := range paths {
			if err := e.blobs.Delete(ctx, p); err != nil {
				log.Error().Err(err).Str("channel", channelName).Str("path", p).Msg("Failed to delete content")
				return
			}
			deleted++
		}
	}
	log.Info().Str("channel", channelName).Int("deleted", deleted).Msg("Deleted channel content")
}

// ParseKey turns a canonical key string back into a Key
func (e *Engine) ParseKey(id string) (content.Key, error) {
	return content.ParseKey(id)
}

func ContentPath(channelName string, key content.Key) string {
	return channelName + "/content/" + key.String()
}

func IndexPath(channelName string, bucketHash string) string {
	return channelName + "/index/" + bucketHash
}
