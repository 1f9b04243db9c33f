package server

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/lloydmeta/datahub/internal/domain/storage"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/index"
)

// Setup abstracts away:
//
// 1. Setting up the environment for running Datahub
// 2. Checking that things are set up
type Setup interface {

	// Check returns an error if all the necessary setup is not complete
	Check(ctx context.Context) error

	// RunIfNeeded attempts to run the subroutines necessary, no more no less
	RunIfNeeded(ctx context.Context) error
}

// templates is the part of index.TemplatesSetup that Setup needs
type templates interface {
	Check(ctx context.Context) error
	Run(ctx context.Context) error
}

type impl struct {
	templateSetup templates // nil when Elasticsearch is not used
	engine        *storage.Engine
}

// NewSetup returns a Setup implementation. templateSetup may be nil, in which
// case only the blob container is looked after.
func NewSetup(templateSetup *index.TemplatesSetup, engine *storage.Engine) Setup {
	i := impl{engine: engine}
	if templateSetup != nil {
		i.templateSetup = templateSetup
	}
	return &i
}

func (i *impl) Check(ctx context.Context) error {
	if i.templateSetup != nil {
		if err := i.templateSetup.Check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (i *impl) RunIfNeeded(ctx context.Context) error {
	if i.templateSetup != nil {
		if err := i.templateSetup.Check(ctx); err != nil {
			var notInstalled index.TemplatesNotInstalled
			if !errors.As(err, &notInstalled) {
				log.Error().Err(err).Msg("Could not check index templates")
				return err
			}
			log.Info().Strs("missing", notInstalled.NotInstalled).Msg("Setting up Index templates")
			if err := i.templateSetup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to install index templates")
				return err
			}
		}
	}

	if err := i.engine.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to initialize blob storage")
		return err
	}

	log.Info().Msg("Setup complete")
	return nil
}
