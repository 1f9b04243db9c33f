// blob is a blob.Store on a Google Cloud Storage bucket. Retention rules map
// onto bucket lifecycle Delete rules.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/lloydmeta/datahub/internal/config"
	"github.com/lloydmeta/datahub/internal/domain/blob"
)

// NewClient returns a storage.Client based on the given conf
func NewClient(ctx context.Context, conf config.Storage) (*storage.Client, error) {
	var opts []option.ClientOption
	if conf.Endpoint != nil {
		opts = append(opts, option.WithEndpoint(*conf.Endpoint))
	}
	if conf.WithoutAuthentication {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, GcsErr{Underlying: err}
	}
	return client, nil
}

type GcsStore struct {
	client    *storage.Client
	bucket    string
	projectID string
	location  string
}

func NewStore(client *storage.Client, bucket string, projectID string, location string) *GcsStore {
	return &GcsStore{
		client:    client,
		bucket:    bucket,
		projectID: projectID,
		location:  location,
	}
}

func (g *GcsStore) Container() string {
	return g.bucket
}

func (g *GcsStore) handle() *storage.BucketHandle {
	return g.client.Bucket(g.bucket)
}

func (g *GcsStore) Put(ctx context.Context, path string, data []byte, metadata blob.Metadata) error {
	w := g.handle().Object(path).NewWriter(ctx)
	w.ContentType = metadata.ContentType
	w.Metadata = metadata.User
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return GcsErr{Underlying: err}
	}
	if err := w.Close(); err != nil {
		return GcsErr{Underlying: err}
	}
	return nil
}

func (g *GcsStore) Get(ctx context.Context, path string) (*blob.Object, error) {
	obj := g.handle().Object(path)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, g.wrapNotFound(path, err)
	}
	// read the same generation the metadata came from
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, g.wrapNotFound(path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, GcsErr{Underlying: err}
	}
	user := attrs.Metadata
	if user == nil {
		user = map[string]string{}
	}
	return &blob.Object{
		Data: data,
		Metadata: blob.Metadata{
			ContentType: attrs.ContentType,
			User:        user,
		},
		LastModified: attrs.Updated.UTC(),
	}, nil
}

func (g *GcsStore) List(ctx context.Context, prefix string, max int) ([]string, error) {
	query := storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, GcsErr{Underlying: err}
	}
	it := g.handle().Objects(ctx, &query)
	var paths []string
	for max < 0 || len(paths) < max {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, GcsErr{Underlying: err}
		}
		paths = append(paths, attrs.Name)
	}
	return paths, nil
}

// Delete is a no-op for paths that do not exist
func (g *GcsStore) Delete(ctx context.Context, path string) error {
	err := g.handle().Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return GcsErr{Underlying: err}
	}
	return nil
}

// ProbeContainer lists at most one object, which fails when the bucket is
// missing or not readable with our credentials
func (g *GcsStore) ProbeContainer(ctx context.Context) error {
	it := g.handle().Objects(ctx, &storage.Query{})
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return GcsErr{Underlying: err}
	}
	return nil
}

func (g *GcsStore) CreateContainer(ctx context.Context) error {
	err := g.handle().Create(ctx, g.projectID, &storage.BucketAttrs{Location: g.location})
	if err != nil {
		return GcsErr{Underlying: err}
	}
	return nil
}

// GetRetentionRules returns the lifecycle rules that are prefix scoped
// deletions. Anything else configured on the bucket is not reported, and is
// kept as is by SetRetentionRules.
func (g *GcsStore) GetRetentionRules(ctx context.Context) ([]blob.RetentionRule, error) {
	attrs, err := g.handle().Attrs(ctx)
	if err != nil {
		return nil, GcsErr{Underlying: err}
	}
	owned, _ := partitionRules(attrs.Lifecycle.Rules)
	return owned, nil
}

// SetRetentionRules replaces the prefix scoped deletion rules. The update is
// conditional on the bucket metageneration read just before it, so it fails
// rather than overwrite a concurrent change.
func (g *GcsStore) SetRetentionRules(ctx context.Context, rules []blob.RetentionRule) error {
	attrs, err := g.handle().Attrs(ctx)
	if err != nil {
		return GcsErr{Underlying: err}
	}
	_, foreign := partitionRules(attrs.Lifecycle.Rules)
	lifecycleRules := foreign
	for _, rule := range rules {
		if !rule.Enabled {
			// GCS has no disabled rules
			continue
		}
		lifecycleRules = append(lifecycleRules, toLifecycleRule(rule))
	}
	update := storage.BucketAttrsToUpdate{
		Lifecycle: &storage.Lifecycle{Rules: lifecycleRules},
	}
	_, err = g.handle().
		If(storage.BucketConditions{MetagenerationMatch: attrs.MetaGeneration}).
		Update(ctx, update)
	if err != nil {
		return GcsErr{Underlying: err}
	}
	log.Info().Str("bucket", g.bucket).Int("rules", len(lifecycleRules)).Msg("Updated bucket lifecycle")
	return nil
}

func (g *GcsStore) wrapNotFound(path string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return blob.NotFound{Container: g.bucket, Path: path}
	}
	return GcsErr{Underlying: err}
}

// partitionRules splits lifecycle rules into the ones that express a
// RetentionRule and everything else
func partitionRules(rules []storage.LifecycleRule) (owned []blob.RetentionRule, foreign []storage.LifecycleRule) {
	owned = []blob.RetentionRule{}
	for _, rule := range rules {
		if retention, ok := fromLifecycleRule(rule); ok {
			owned = append(owned, retention)
		} else {
			foreign = append(foreign, rule)
		}
	}
	return owned, foreign
}

func fromLifecycleRule(rule storage.LifecycleRule) (blob.RetentionRule, bool) {
	if rule.Action.Type != storage.DeleteAction {
		return blob.RetentionRule{}, false
	}
	if len(rule.Condition.MatchesPrefix) != 1 || rule.Condition.AgeInDays <= 0 {
		return blob.RetentionRule{}, false
	}
	prefix := rule.Condition.MatchesPrefix[0]
	return blob.RetentionRule{
		ID:             strings.TrimSuffix(prefix, "/"),
		Prefix:         prefix,
		ExpirationDays: int(rule.Condition.AgeInDays),
		Enabled:        true,
	}, true
}

func toLifecycleRule(rule blob.RetentionRule) storage.LifecycleRule {
	return storage.LifecycleRule{
		Action: storage.LifecycleAction{Type: storage.DeleteAction},
		Condition: storage.LifecycleCondition{
			AgeInDays:     int64(rule.ExpirationDays),
			MatchesPrefix: []string{rule.Prefix},
		},
	}
}

type GcsErr struct {
	Underlying error
}

func (e GcsErr) Error() string {
	return fmt.Sprintf("Error from Google Cloud Storage: %v", e.Underlying)
}

func (e GcsErr) Unwrap() error {
	return e.Underlying
}
