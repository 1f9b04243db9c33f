// hub ties the channel registry to content storage. It is what the API layer
// and the background jobs talk to.
package hub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/storage"
)

// Hub manages channels and the content written to them
type Hub struct {
	channels        channel.Service
	engine          *storage.Engine
	maxPayloadBytes int64
}

// New returns a Hub. A maxPayloadBytes of 0 or less means payloads are not
// size checked.
func New(channels channel.Service, engine *storage.Engine, maxPayloadBytes int64) *Hub {
	return &Hub{
		channels:        channels,
		engine:          engine,
		maxPayloadBytes: maxPayloadBytes,
	}
}

// MaxPayloadBytes is the largest payload Insert accepts
func (h *Hub) MaxPayloadBytes() int64 {
	return h.maxPayloadBytes
}

// CreateChannel registers a channel and then sets up its storage. If storage
// setup fails the channel stays registered and the error is returned, so the
// caller can retry with UpdateChannel.
func (h *Hub) CreateChannel(ctx context.Context, newChannel *channel.NewChannel) (*channel.Channel, error) {
	created, err := h.channels.Create(ctx, newChannel)
	if err != nil {
		return nil, err
	}
	if err := h.engine.InitializeChannel(ctx, created); err != nil {
		log.Error().Err(err).Str("channel", string(created.Name)).Msg("Failed to initialize channel storage")
		return nil, StorageSetupErr{Name: created.Name, Underlying: err}
	}
	return created, nil
}

func (h *Hub) GetChannel(ctx context.Context, name channel.Name) (*channel.Channel, error) {
	return h.channels.Get(ctx, name)
}

func (h *Hub) AllChannels(ctx context.Context) ([]channel.Channel, error) {
	return h.channels.All(ctx)
}

// PutChannel creates the channel if it does not exist yet, otherwise replaces
// its attributes. The bool is true when the channel was created.
func (h *Hub) PutChannel(ctx context.Context, name channel.Name, attributes channel.Attributes) (*channel.Channel, bool, error) {
	_, err := h.channels.Get(ctx, name)
	var notFound channel.NotFound
	switch {
	case errors.As(err, &notFound):
		created, err := h.CreateChannel(ctx, &channel.NewChannel{
			Name:      name,
			TTLMillis: attributes.TTLMillis,
			Owner:     attributes.Owner,
		})
		var alreadyExists channel.AlreadyExists
		if !errors.As(err, &alreadyExists) {
			return created, err == nil, err
		}
		// lost a race with another creator
	case err != nil:
		return nil, false, err
	}
	updated, err := h.UpdateChannel(ctx, name, attributes)
	return updated, false, err
}

// UpdateChannel replaces the attributes of a channel and reapplies its
// retention
func (h *Hub) UpdateChannel(ctx context.Context, name channel.Name, attributes channel.Attributes) (*channel.Channel, error) {
	existing, err := h.channels.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	attributes.Apply(existing)
	updated, err := h.channels.Update(ctx, existing)
	if err != nil {
		return nil, err
	}
	if err := h.engine.UpdateChannel(ctx, updated); err != nil {
		log.Error().Err(err).Str("channel", string(updated.Name)).Msg("Failed to update channel storage")
		return nil, StorageSetupErr{Name: updated.Name, Underlying: err}
	}
	return updated, nil
}

// DeleteChannel unregisters a channel and starts removing its content in the
// background.
func (h *Hub) DeleteChannel(ctx context.Context, name channel.Name) error {
	if err := h.channels.Delete(ctx, name); err != nil {
		return err
	}
	h.engine.Delete(string(name))
	return nil
}

// Insert writes content to an existing channel
func (h *Hub) Insert(ctx context.Context, name channel.Name, c *content.Content) (*content.InsertionResult, error) {
	size := int64(len(c.Data))
	if h.maxPayloadBytes > 0 && size > h.maxPayloadBytes {
		return nil, content.TooLarge{Channel: string(name), Size: size, MaxBytes: h.maxPayloadBytes}
	}
	if _, err := h.channels.Get(ctx, name); err != nil {
		return nil, err
	}
	return h.engine.Write(ctx, string(name), c)
}

// Get reads one item. Returns content.NotFound when there is nothing readable
// under the key.
func (h *Hub) Get(ctx context.Context, name channel.Name, key content.Key) (*content.Content, error) {
	if _, err := h.channels.Get(ctx, name); err != nil {
		return nil, err
	}
	c, found := h.engine.Read(ctx, string(name), key)
	if !found {
		return nil, content.NotFound{Channel: string(name), Key: key}
	}
	return c, nil
}

// Keys lists the keys written to a channel during the minute containing t
func (h *Hub) Keys(ctx context.Context, name channel.Name, t time.Time) ([]content.Key, error) {
	if _, err := h.channels.Get(ctx, name); err != nil {
		return nil, err
	}
	return h.engine.GetKeys(ctx, string(name), t), nil
}
