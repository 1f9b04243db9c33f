package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lloydmeta/datahub/internal/config"
	"github.com/lloydmeta/datahub/internal/domain/blob"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/index"
	gcsBlob "github.com/lloydmeta/datahub/internal/infra/gcs/blob"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Run datahub setup",
	Long:  "Runs various setup routines for Datahub. Includes Index Templates and the content bucket (when using GCS)",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if usesElasticsearch(&appConfig) {
			esClient, err := common.NewClient(appConfig.Elasticsearch)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not setup Elasticsearch client")
			}
			log.Info().Msg("Setting up Index templates")
			templatesSetup := index.DefaultTemplateSetup(esClient)
			if err := templatesSetup.Run(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to install index templates")
			}
		}

		if appConfig.Storage.Driver == config.GcsStorage {
			client, err := gcsBlob.NewClient(ctx, appConfig.Storage)
			if err != nil {
				log.Fatal().Err(err).Msg("Could not setup GCS client")
			}
			defer client.Close()
			store := gcsBlob.NewStore(client, appConfig.Storage.BucketName(appConfig.Environment), appConfig.Storage.ProjectID, appConfig.Storage.Location)
			if err := ensureContainer(ctx, store); err != nil {
				log.Fatal().Err(err).Msg("Failed to create content bucket")
			}
		}
		log.Info().Msg("Setup complete.")
	},
}

func usesElasticsearch(appConfig *config.App) bool {
	return appConfig.Coordination.Driver == config.ElasticsearchCoordination ||
		appConfig.Counters.Driver == config.ElasticsearchCounters
}

func ensureContainer(ctx context.Context, store blob.Store) error {
	if err := store.ProbeContainer(ctx); err == nil {
		log.Info().Str("bucket", store.Container()).Msg("Content bucket exists")
		return nil
	}
	log.Info().Str("bucket", store.Container()).Msg("Creating content bucket")
	return store.CreateContainer(ctx)
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
