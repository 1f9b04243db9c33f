package channel

import (
	"context"
	"fmt"
)

// Service persists channel configuration.
type Service interface {
	// Create persists a new Channel. Returns AlreadyExists if the name is taken.
	Create(ctx context.Context, newChannel *NewChannel) (*Channel, error)

	// Get returns NotFound if there is no such Channel
	Get(ctx context.Context, name Name) (*Channel, error)

	// Update persists changes to an existing Channel, using the version in its
	// metadata for optimistic locking. Returns InvalidVersion on conflicts.
	Update(ctx context.Context, channel *Channel) (*Channel, error)

	// Delete removes the Channel configuration. Returns NotFound if there is
	// no such Channel.
	Delete(ctx context.Context, name Name) error

	// All returns every Channel
	All(ctx context.Context) ([]Channel, error)
}

// <-- Domain Errors

// NotFound is returned when there is no Channel by the given name
type NotFound struct {
	Name Name
}

func (e NotFound) Error() string {
	return fmt.Sprintf("Could not find channel [%v]", e.Name)
}

// AlreadyExists is returned when creating a Channel whose name is taken
type AlreadyExists struct {
	Name Name
}

func (e AlreadyExists) Error() string {
	return fmt.Sprintf("Channel [%v] already exists", e.Name)
}

// InvalidVersion is returned when the version is stale
type InvalidVersion struct {
	Name Name
}

func (e InvalidVersion) Error() string {
	return fmt.Sprintf("Version provided did not match persisted version for channel [%v]", e.Name)
}

// InvalidPersistedData is returned when stored data cannot be read back
type InvalidPersistedData struct {
	PersistedData interface{}
}

func (e InvalidPersistedData) Error() string {
	return fmt.Sprintf("Invalid persisted data [%v]", e.PersistedData)
}

//     Errors -->
