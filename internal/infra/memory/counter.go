package memory

import (
	"context"
	"sync"

	"github.com/lloydmeta/datahub/internal/domain/counter"
)

// Counters is a counter.Service whose counters live in this process
type Counters struct {
	mu     sync.Mutex
	values map[string]int64

	// FailWith, if set, is returned by every counter operation
	FailWith error
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]int64)}
}

func (c *Counters) Counter(name string) counter.Counter {
	return &memCounter{parent: c, name: name}
}

// Value peeks at a counter without going through the interface
func (c *Counters) Value(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

type memCounter struct {
	parent *Counters
	name   string
}

func (m *memCounter) Get(ctx context.Context) (int64, error) {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	if m.parent.FailWith != nil {
		return 0, m.parent.FailWith
	}
	return m.parent.values[m.name], nil
}

func (m *memCounter) Set(ctx context.Context, value int64) error {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	if m.parent.FailWith != nil {
		return m.parent.FailWith
	}
	m.parent.values[m.name] = value
	return nil
}

func (m *memCounter) GetAndIncrement(ctx context.Context) (int64, error) {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	if m.parent.FailWith != nil {
		return 0, m.parent.FailWith
	}
	previous := m.parent.values[m.name]
	m.parent.values[m.name] = previous + 1
	return previous, nil
}

func (m *memCounter) CompareAndSet(ctx context.Context, expected int64, update int64) (bool, error) {
	m.parent.mu.Lock()
	defer m.parent.mu.Unlock()
	if m.parent.FailWith != nil {
		return false, m.parent.FailWith
	}
	if m.parent.values[m.name] != expected {
		return false, nil
	}
	m.parent.values[m.name] = update
	return true, nil
}
