package validation

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog/log"
	"gopkg.in/go-playground/validator.v9"

	"github.com/lloydmeta/datahub/internal/domain/channel"
)

func SetUpValidators() {
	log.Info().Msg("Setting up custom validators")
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := v.RegisterValidation(ChannelNameValidatorTag, ChannelNameValidator); err != nil {
			log.Fatal().Err(err).Msg("Failed to set up Channel name validator")
		}
	}
}

var ChannelNameValidatorTag = "channelName"
var ChannelNameValidator validator.Func = func(fl validator.FieldLevel) bool {
	channelName, ok := fl.Field().Interface().(channel.Name)
	if ok {
		if _, err := channel.NameFromString(string(channelName)); err != nil {
			return false
		}
	}
	return true
}
