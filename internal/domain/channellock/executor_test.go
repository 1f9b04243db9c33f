package channellock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var ctx = context.Background()

type countingFactory struct {
	created uint32
	mu      sync.Mutex
	locks   []Lock
}

func (f *countingFactory) NewLock(channel string) Lock {
	atomic.AddUint32(&f.created, 1)
	l := &localLock{}
	f.mu.Lock()
	f.locks = append(f.locks, l)
	f.mu.Unlock()
	return l
}

func TestExecutor_Execute_returnsOpError(t *testing.T) {
	e := NewExecutor(LocalFactory{})
	expected := errors.New("boom")
	err := e.Execute(ctx, "orders", func(ctx context.Context) error {
		return expected
	})
	assert.Equal(t, expected, err)

	// the lock was released, so this doesn't deadlock
	err = e.Execute(ctx, "orders", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestExecutor_Execute_releasesOnPanic(t *testing.T) {
	e := NewExecutor(LocalFactory{})
	assert.Panics(t, func() {
		_ = e.Execute(ctx, "orders", func(ctx context.Context) error {
			panic("oops")
		})
	})
	done := make(chan struct{})
	go func() {
		_ = e.Execute(ctx, "orders", func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		assert.Fail(t, "lock was not released after panic")
	}
}

func TestExecutor_Execute_distinctChannelsDoNotContend(t *testing.T) {
	e := NewExecutor(LocalFactory{})
	holdingA := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		_ = e.Execute(ctx, "a", func(ctx context.Context) error {
			close(holdingA)
			<-releaseA
			return nil
		})
	}()
	<-holdingA

	ranB := make(chan struct{})
	go func() {
		_ = e.Execute(ctx, "b", func(ctx context.Context) error {
			close(ranB)
			return nil
		})
	}()
	select {
	case <-ranB:
	case <-time.After(5 * time.Second):
		assert.Fail(t, "channel b was blocked by channel a")
	}
	close(releaseA)
}

func TestExecutor_Execute_sameChannelIsExclusive(t *testing.T) {
	e := NewExecutor(LocalFactory{})
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Execute(ctx, "orders", func(ctx context.Context) error {
				now := atomic.AddInt32(&inside, 1)
				for {
					seen := atomic.LoadInt32(&maxInside)
					if now <= seen || atomic.CompareAndSwapInt32(&maxInside, seen, now) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside)
}

func TestExecutor_lockFor_firstWriterWins(t *testing.T) {
	factory := &countingFactory{}
	e := NewExecutor(factory)

	var wg sync.WaitGroup
	seen := make([]Lock, 20)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = e.lockFor("orders")
		}(i)
	}
	wg.Wait()
	for _, l := range seen {
		assert.Same(t, seen[0], l)
	}
	assert.True(t, atomic.LoadUint32(&factory.created) >= 1)

	// cached from now on
	before := atomic.LoadUint32(&factory.created)
	assert.Same(t, seen[0], e.lockFor("orders"))
	assert.Equal(t, before, atomic.LoadUint32(&factory.created))
}

type failingLock struct {
	lockErr   error
	unlockErr error
}

func (f failingLock) Lock(ctx context.Context) error   { return f.lockErr }
func (f failingLock) Unlock(ctx context.Context) error { return f.unlockErr }

type failingFactory struct {
	lock failingLock
}

func (f failingFactory) NewLock(channel string) Lock {
	return f.lock
}

func TestExecutor_Execute_lockErrors(t *testing.T) {
	t.Run("lock failure skips op", func(t *testing.T) {
		e := NewExecutor(failingFactory{lock: failingLock{lockErr: errors.New("unreachable")}})
		ran := false
		err := e.Execute(ctx, "orders", func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.False(t, ran)
		var lockErr LockErr
		assert.True(t, errors.As(err, &lockErr))
		assert.Equal(t, "orders", lockErr.Channel)
	})
	t.Run("unlock failure is reported", func(t *testing.T) {
		e := NewExecutor(failingFactory{lock: failingLock{unlockErr: errors.New("expired")}})
		err := e.Execute(ctx, "orders", func(ctx context.Context) error {
			return nil
		})
		assert.IsType(t, LockErr{}, err)
	})
}
