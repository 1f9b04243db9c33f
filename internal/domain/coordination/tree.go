// coordination describes the tree-structured, strongly consistent store that
// holds the live time index.
package coordination

import (
	"context"
	"fmt"
)

// Tree is a hierarchy of named nodes addressed by slash separated paths
type Tree interface {
	// CreatePersistent creates the node at path and any missing parents.
	// Creating a node that already exists is not an error.
	CreatePersistent(ctx context.Context, path string) error

	// Children returns the names (not full paths) of the node's direct
	// children, in no particular order. Returns NoNode if path does not exist.
	Children(ctx context.Context, path string) ([]string, error)

	// DeleteRecursive removes the node at path and everything below it.
	// Deleting a path that does not exist is not an error.
	DeleteRecursive(ctx context.Context, path string) error
}

// NoNode is returned when a path does not exist in the tree
type NoNode struct {
	Path string
}

func (e NoNode) Error() string {
	return fmt.Sprintf("No node at [%s]", e.Path)
}
