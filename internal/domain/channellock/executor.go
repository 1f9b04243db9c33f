// channellock serialises operations that belong to the same channel, without
// serialising unrelated channels.
package channellock

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Lock is a mutual exclusion primitive for a single channel. Implementations
// may be process-local or cluster-wide.
type Lock interface {
	// Lock blocks until the lock is held
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// Factory builds a new Lock for a channel. It is only called the first time a
// channel is seen by an Executor.
type Factory interface {
	NewLock(channel string) Lock
}

// Executor runs operations while holding the lock for a channel.
//
// Locks are created lazily and cached for the lifetime of the Executor; if two
// callers race to create the lock for a new channel, the first one stored wins
// and both use it.
type Executor struct {
	factory Factory
	locks   sync.Map // channel name -> Lock
}

func NewExecutor(factory Factory) *Executor {
	return &Executor{factory: factory}
}

// Execute runs op with exclusive ownership of the channel's lock. The lock is
// released before Execute returns, including when op returns an error or
// panics.
func (e *Executor) Execute(ctx context.Context, channel string, op func(ctx context.Context) error) (err error) {
	lock := e.lockFor(channel)
	if err := lock.Lock(ctx); err != nil {
		return LockErr{Channel: channel, Underlying: err}
	}
	defer func() {
		if unlockErr := lock.Unlock(ctx); unlockErr != nil {
			log.Error().Err(unlockErr).Str("channel", channel).Msg("Failed to release channel lock")
			if err == nil {
				err = LockErr{Channel: channel, Underlying: unlockErr}
			}
		}
	}()
	return op(ctx)
}

func (e *Executor) lockFor(channel string) Lock {
	if existing, ok := e.locks.Load(channel); ok {
		return existing.(Lock)
	}
	actual, _ := e.locks.LoadOrStore(channel, e.factory.NewLock(channel))
	return actual.(Lock)
}

// LockErr is returned when a channel lock could not be acquired or released
type LockErr struct {
	Channel    string
	Underlying error
}

func (e LockErr) Error() string {
	return fmt.Sprintf("Channel lock error for [%s]: %v", e.Channel, e.Underlying)
}

func (e LockErr) Unwrap() error {
	return e.Underlying
}
