package channel

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apiChannel "github.com/lloydmeta/datahub/internal/api/models/channel"
	"github.com/lloydmeta/datahub/internal/api/models/common"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/content"
	"github.com/lloydmeta/datahub/internal/domain/hub"
	"github.com/lloydmeta/datahub/internal/domain/timeindex"
)

type Controller interface {

	// Create creates a Channel and sets up its storage
	Create(ctx context.Context, newChannel *apiChannel.NewChannel) (*apiChannel.Channel, *common.ApiError)

	// Get returns a Channel by name
	Get(ctx context.Context, name channel.Name) (*apiChannel.Channel, *common.ApiError)

	// Put creates a Channel, or replaces the attributes of an existing one.
	// The bool is true when the Channel was created
	Put(ctx context.Context, name channel.Name, update *apiChannel.ChannelUpdate) (*apiChannel.Channel, bool, *common.ApiError)

	// Delete removes a Channel and, eventually, its content
	Delete(ctx context.Context, name channel.Name) *common.ApiError

	// List returns all Channels
	List(ctx context.Context) ([]apiChannel.Channel, *common.ApiError)

	// Insert writes a payload to a Channel
	Insert(ctx context.Context, name channel.Name, payload *content.Content) (*apiChannel.InsertionResult, *common.ApiError)

	// Read returns a previously written payload
	Read(ctx context.Context, name channel.Name, rawKey string) (*content.Content, *common.ApiError)

	// Keys lists the keys written during a minute, given as a bucket hash
	Keys(ctx context.Context, name channel.Name, rawMinute string) (*apiChannel.MinuteKeys, *common.ApiError)
}

type impl struct {
	hub *hub.Hub
}

func New(h *hub.Hub) Controller {
	return &impl{
		hub: h,
	}
}

func (c *impl) Create(ctx context.Context, newChannel *apiChannel.NewChannel) (*apiChannel.Channel, *common.ApiError) {
	domainNewChannel := newChannel.ToDomainNewChannel()
	created, err := c.hub.CreateChannel(ctx, &domainNewChannel)
	if err != nil {
		return nil, handleErr(err)
	}
	result := apiChannel.FromDomainChannel(created)
	return &result, nil
}

func (c *impl) Get(ctx context.Context, name channel.Name) (*apiChannel.Channel, *common.ApiError) {
	if apiErr := validateName(name); apiErr != nil {
		return nil, apiErr
	}
	found, err := c.hub.GetChannel(ctx, name)
	if err != nil {
		return nil, handleErr(err)
	}
	result := apiChannel.FromDomainChannel(found)
	return &result, nil
}

func (c *impl) Put(ctx context.Context, name channel.Name, update *apiChannel.ChannelUpdate) (*apiChannel.Channel, bool, *common.ApiError) {
	if apiErr := validateName(name); apiErr != nil {
		return nil, false, apiErr
	}
	put, created, err := c.hub.PutChannel(ctx, name, update.ToDomainAttributes())
	if err != nil {
		return nil, false, handleErr(err)
	}
	result := apiChannel.FromDomainChannel(put)
	return &result, created, nil
}

func (c *impl) Delete(ctx context.Context, name channel.Name) *common.ApiError {
	if apiErr := validateName(name); apiErr != nil {
		return apiErr
	}
	if err := c.hub.DeleteChannel(ctx, name); err != nil {
		return handleErr(err)
	}
	return nil
}

func (c *impl) List(ctx context.Context) ([]apiChannel.Channel, *common.ApiError) {
	all, err := c.hub.AllChannels(ctx)
	if err != nil {
		return nil, handleErr(err)
	}
	result := make([]apiChannel.Channel, 0, len(all))
	for i := range all {
		result = append(result, apiChannel.FromDomainChannel(&all[i]))
	}
	return result, nil
}

func (c *impl) Insert(ctx context.Context, name channel.Name, payload *content.Content) (*apiChannel.InsertionResult, *common.ApiError) {
	if apiErr := validateName(name); apiErr != nil {
		return nil, apiErr
	}
	inserted, err := c.hub.Insert(ctx, name, payload)
	if err != nil {
		return nil, handleErr(err)
	}
	result := apiChannel.FromDomainInsertionResult(name, inserted)
	return &result, nil
}

func (c *impl) Read(ctx context.Context, name channel.Name, rawKey string) (*content.Content, *common.ApiError) {
	if apiErr := validateName(name); apiErr != nil {
		return nil, apiErr
	}
	key, err := content.ParseKey(rawKey)
	if err != nil {
		return nil, handleErr(err)
	}
	found, err := c.hub.Get(ctx, name, key)
	if err != nil {
		return nil, handleErr(err)
	}
	return found, nil
}

func (c *impl) Keys(ctx context.Context, name channel.Name, rawMinute string) (*apiChannel.MinuteKeys, *common.ApiError) {
	if apiErr := validateName(name); apiErr != nil {
		return nil, apiErr
	}
	minute, err := timeindex.ParseBucketHash(rawMinute)
	if err != nil {
		return nil, badRequest("Invalid minute [" + rawMinute + "], expected yyyy-MM-dd-HH-mm")
	}
	keys, err := c.hub.Keys(ctx, name, minute)
	if err != nil {
		return nil, handleErr(err)
	}
	result := apiChannel.FromDomainKeys(name, minute, keys)
	return &result, nil
}

func validateName(name channel.Name) *common.ApiError {
	if _, err := channel.NameFromString(string(name)); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func handleErr(err error) *common.ApiError {
	var invalidName *channel.InvalidName
	var keyGenerationErr content.KeyGenerationErr
	switch v := err.(type) {
	case channel.NotFound:
		return withStatus(http.StatusNotFound, v)
	case channel.AlreadyExists:
		return withStatus(http.StatusConflict, v)
	case channel.InvalidVersion:
		return withStatus(http.StatusConflict, v)
	case content.NotFound:
		return withStatus(http.StatusNotFound, v)
	case content.MalformedKey:
		return withStatus(http.StatusBadRequest, v)
	case content.TooLarge:
		return withStatus(http.StatusRequestEntityTooLarge, v)
	}
	switch {
	case errors.As(err, &invalidName):
		return withStatus(http.StatusBadRequest, err)
	case errors.As(err, &keyGenerationErr):
		return withStatus(http.StatusServiceUnavailable, err)
	default:
		return unhandledErr(err)
	}
}

func badRequest(message string) *common.ApiError {
	return &common.ApiError{
		StatusCode: http.StatusBadRequest,
		Body: common.Body{
			Message: message,
		},
	}
}

func withStatus(status int, err error) *common.ApiError {
	return &common.ApiError{
		StatusCode: status,
		Body: common.Body{
			Message: err.Error(),
		},
	}
}

func unhandledErr(e error) *common.ApiError {
	log.Error().Err(e).Msg("Unhandled error")
	return &common.ApiError{
		StatusCode: http.StatusInternalServerError,
		Body: common.Body{
			Message: "Something went wrong :(",
		},
	}
}
