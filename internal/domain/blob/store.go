// blob describes the durable blob store content is kept in.
package blob

import (
	"context"
	"fmt"
	"time"
)

// Metadata is stored alongside each object
type Metadata struct {
	ContentType string
	User        map[string]string
}

type Object struct {
	Data         []byte
	Metadata     Metadata
	LastModified time.Time
}

// RetentionRule expires every object under Prefix once it is older than
// ExpirationDays
type RetentionRule struct {
	ID             string
	Prefix         string
	ExpirationDays int
	Enabled        bool
}

// Store is a container of objects addressed by path.
type Store interface {
	// Container is the name of the backing container (bucket)
	Container() string

	Put(ctx context.Context, path string, data []byte, metadata Metadata) error

	// Get returns NotFound if there is no object at path
	Get(ctx context.Context, path string) (*Object, error)

	// List returns up to max object paths that start with prefix
	List(ctx context.Context, prefix string, max int) ([]string, error)

	Delete(ctx context.Context, path string) error

	// ProbeContainer is a cheap existence check: any error means the
	// container should be treated as missing.
	ProbeContainer(ctx context.Context) error

	CreateContainer(ctx context.Context) error

	GetRetentionRules(ctx context.Context) ([]RetentionRule, error)

	// SetRetentionRules replaces the whole rule set
	SetRetentionRules(ctx context.Context, rules []RetentionRule) error
}

// NotFound is returned when there is no object at a path
type NotFound struct {
	Container string
	Path      string
}

func (e NotFound) Error() string {
	return fmt.Sprintf("No object [%s] in [%s]", e.Path, e.Container)
}
