package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lloydmeta/datahub/internal/domain/blob"
)

// BlobStore is a blob.Store held in memory. Retention rules are recorded but
// never enforced.
type BlobStore struct {
	container string
	mu        sync.RWMutex
	exists    bool
	objects   map[string]blob.Object
	rules     []blob.RetentionRule
	getUTC    func() time.Time

	// FailWith, if set, is returned by every object operation
	FailWith error
}

func NewBlobStore(container string) *BlobStore {
	return &BlobStore{
		container: container,
		objects:   make(map[string]blob.Object),
		getUTC: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *BlobStore) Container() string {
	return s.container
}

func (s *BlobStore) Put(ctx context.Context, path string, data []byte, metadata blob.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	user := make(map[string]string, len(metadata.User))
	for k, v := range metadata.User {
		user[k] = v
	}
	s.objects[path] = blob.Object{
		Data:         copied,
		Metadata:     blob.Metadata{ContentType: metadata.ContentType, User: user},
		LastModified: s.getUTC(),
	}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, path string) (*blob.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	obj, ok := s.objects[path]
	if !ok {
		return nil, blob.NotFound{Container: s.container, Path: path}
	}
	return &obj, nil
}

func (s *BlobStore) List(ctx context.Context, prefix string, max int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	var paths []string
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	if max >= 0 && len(paths) > max {
		paths = paths[:max]
	}
	return paths, nil
}

func (s *BlobStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	delete(s.objects, path)
	return nil
}

func (s *BlobStore) ProbeContainer(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.exists {
		return blob.NotFound{Container: s.container}
	}
	return nil
}

func (s *BlobStore) CreateContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	return nil
}

func (s *BlobStore) GetRetentionRules(ctx context.Context) ([]blob.RetentionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]blob.RetentionRule, len(s.rules))
	copy(rules, s.rules)
	return rules, nil
}

func (s *BlobStore) SetRetentionRules(ctx context.Context, rules []blob.RetentionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make([]blob.RetentionRule, len(rules))
	copy(s.rules, rules)
	return nil
}

// For testing
func (s *BlobStore) SetUTCGetter(getter func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getUTC = getter
}

// Paths returns every stored path, sorted
func (s *BlobStore) Paths() []string {
	paths, _ := s.List(context.Background(), "", -1)
	return paths
}
