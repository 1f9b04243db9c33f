package channellock

import (
	"context"
	"sync"
)

// LocalFactory hands out in-process mutexes. Suitable for single node
// deployments, or when counters are the only cluster-wide state.
type LocalFactory struct{}

func (LocalFactory) NewLock(channel string) Lock {
	return &localLock{}
}

type localLock struct {
	mu sync.Mutex
}

// Lock is not cancellable: the context is ignored.
func (l *localLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	return nil
}

func (l *localLock) Unlock(ctx context.Context) error {
	l.mu.Unlock()
	return nil
}
