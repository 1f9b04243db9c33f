// +build integration

// This package runs the GCS blob store against a fake-gcs-server container
package integration_tests

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/ory/dockertest"

	"github.com/lloydmeta/datahub/internal/config"
	gcsBlob "github.com/lloydmeta/datahub/internal/infra/gcs/blob"
)

var gcsClient *storage.Client

var ctx = context.Background()

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	options := dockertest.RunOptions{
		Repository: "fsouza/fake-gcs-server",
		Tag:        "1.47",
		Cmd:        []string{"-scheme", "http"},
	}
	resource, err := pool.RunWithOptions(&options)
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}
	host := fmt.Sprintf("localhost:%s", resource.GetPort("4443/tcp"))
	if err := os.Setenv("STORAGE_EMULATOR_HOST", host); err != nil {
		log.Fatalf("Could not point the client at the emulator: %s", err)
	}

	if err := pool.Retry(func() error {
		resp, err := http.Get(fmt.Sprintf("http://%s/storage/v1/b", host))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status [%d]", resp.StatusCode)
		}
		return nil
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	gcsClient, err = gcsBlob.NewClient(ctx, config.Storage{WithoutAuthentication: true})
	if err != nil {
		log.Fatalf("Could not create GCS client: %s", err)
	}

	code := m.Run()

	_ = gcsClient.Close()
	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}
