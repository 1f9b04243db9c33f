package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/go-playground/validator.v9"

	"github.com/lloydmeta/datahub/internal/domain/channel"
)

func TestChannelNameValidator(t *testing.T) {
	validate := validator.New()
	_ = validate.RegisterValidation(ChannelNameValidatorTag, ChannelNameValidator)
	type args struct {
		name channel.Name
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "must not have illegal chars",
			args: args{
				"channel?name",
			},
			wantErr: true,
		},
		{
			name: "must not have '/'",
			args: args{
				"channel/name",
			},
			wantErr: true,
		},
		{
			name: "must not start with _",
			args: args{
				"_channel",
			},
			wantErr: true,
		},
		{
			name: "must be lower case",
			args: args{
				"Orders",
			},
			wantErr: true,
		},
		{
			name: "must not be empty",
			args: args{
				"",
			},
			wantErr: true,
		},
		{
			name: "ok",
			args: args{
				"orders-2016.v1",
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Var(tt.args.name, ChannelNameValidatorTag)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
