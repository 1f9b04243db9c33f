package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/lloydmeta/datahub/internal/domain/coordination"
)

// Tree is a coordination.Tree kept in a map of node path to child names
type Tree struct {
	mu    sync.RWMutex
	nodes map[string]map[string]struct{}

	// FailWith, if set, is returned by every operation
	FailWith error
}

func NewTree() *Tree {
	return &Tree{nodes: map[string]map[string]struct{}{"/": {}}}
}

func (t *Tree) CreatePersistent(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWith != nil {
		return t.FailWith
	}
	parent := "/"
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		t.nodes[parent][segment] = struct{}{}
		child := strings.TrimSuffix(parent, "/") + "/" + segment
		if _, ok := t.nodes[child]; !ok {
			t.nodes[child] = make(map[string]struct{})
		}
		parent = child
	}
	return nil
}

func (t *Tree) Children(ctx context.Context, path string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.FailWith != nil {
		return nil, t.FailWith
	}
	children, ok := t.nodes[path]
	if !ok {
		return nil, coordination.NoNode{Path: path}
	}
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	return names, nil
}

func (t *Tree) DeleteRecursive(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailWith != nil {
		return t.FailWith
	}
	path = "/" + strings.Trim(path, "/")
	if path == "/" {
		t.nodes = map[string]map[string]struct{}{"/": {}}
		return nil
	}
	for node := range t.nodes {
		if node == path || strings.HasPrefix(node, path+"/") {
			delete(t.nodes, node)
		}
	}
	parent := path[:strings.LastIndex(path, "/")]
	if parent == "" {
		parent = "/"
	}
	if siblings, ok := t.nodes[parent]; ok {
		delete(siblings, path[strings.LastIndex(path, "/")+1:])
	}
	return nil
}
