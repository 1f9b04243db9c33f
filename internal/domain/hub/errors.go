package hub

import (
	"fmt"

	"github.com/lloydmeta/datahub/internal/domain/channel"
)

// StorageSetupErr is returned when a channel's configuration was persisted but
// its storage could not be set up to match
type StorageSetupErr struct {
	Name       channel.Name
	Underlying error
}

func (e StorageSetupErr) Error() string {
	return fmt.Sprintf("Failed to set up storage for channel [%v]: %v", e.Name, e.Underlying)
}

func (e StorageSetupErr) Unwrap() error {
	return e.Underlying
}
