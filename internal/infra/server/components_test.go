package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/datahub/internal/config"
	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/hub"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/domain/storage"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/index"
	"github.com/lloydmeta/datahub/internal/infra/memory"
	"github.com/lloydmeta/datahub/internal/infra/server/binding/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var ctx = context.Background()

func memoryConfig() config.App {
	return config.App{
		BindAddress:     "localhost:0",
		ShutdownTimeout: time.Second,
		Environment:     "test",
		Storage: config.Storage{
			Driver:       config.MemoryStorage,
			BucketPrefix: "datahub",
		},
		Coordination: config.Coordination{Driver: config.MemoryCoordination},
		Counters:     config.Counters{Driver: config.MemoryCounters},
		Locks:        config.Locks{Driver: config.LocalLocks},
		Content:      config.Content{MaxPayloadBytes: 1024},
		Consolidation: config.Consolidation{
			Enabled:  true,
			Schedule: "@every 1m",
			Lookback: 10 * time.Minute,
		},
	}
}

func TestNewComponents_memory(t *testing.T) {
	appConfig := memoryConfig()
	components, err := NewComponents(&appConfig)
	assert.NoError(t, err)
	assert.NotNil(t, components.scheduler)
	assert.NoError(t, components.setup.RunIfNeeded(ctx))
	assert.NoError(t, components.setup.Check(ctx))

	components.leaderLock.Start()
	assert.True(t, components.leaderLock.IsLeader())
	assert.NoError(t, components.scheduler.Start())
	components.Shutdown()
	assert.False(t, components.leaderLock.IsLeader())
}

func TestNewComponents_consolidationDisabled(t *testing.T) {
	appConfig := memoryConfig()
	appConfig.Consolidation.Enabled = false
	components, err := NewComponents(&appConfig)
	assert.NoError(t, err)
	assert.Nil(t, components.scheduler)
}

func TestNewComponents_configErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.App)
		wantErr error
	}{
		{
			name: "unknown storage driver",
			mutate: func(c *config.App) {
				c.Storage.Driver = "s3"
			},
			wantErr: UnknownDriver{Concern: "storage", Driver: "s3"},
		},
		{
			name: "unknown coordination driver",
			mutate: func(c *config.App) {
				c.Coordination.Driver = "zookeeper"
			},
			wantErr: UnknownDriver{Concern: "coordination", Driver: "zookeeper"},
		},
		{
			name: "unknown counters driver",
			mutate: func(c *config.App) {
				c.Counters.Driver = "hazelcast"
			},
			wantErr: UnknownDriver{Concern: "counters", Driver: "hazelcast"},
		},
		{
			name: "unknown locks driver",
			mutate: func(c *config.App) {
				c.Locks.Driver = "hazelcast"
			},
			wantErr: UnknownDriver{Concern: "locks", Driver: "hazelcast"},
		},
		{
			name: "redis counters without redis config",
			mutate: func(c *config.App) {
				c.Counters.Driver = config.RedisCounters
			},
			wantErr: MissingConfig{Section: "redis"},
		},
		{
			name: "redis locks without redis config",
			mutate: func(c *config.App) {
				c.Locks.Driver = config.RedisLocks
			},
			wantErr: MissingConfig{Section: "redis"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appConfig := memoryConfig()
			tt.mutate(&appConfig)
			_, err := NewComponents(&appConfig)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func newTestGinEngine(auth *config.Auth) *gin.Engine {
	appConfig := memoryConfig()
	appConfig.Auth = auth
	keys := keygen.NewClusterGenerator(memory.NewCounters(), channellock.NewExecutor(channellock.LocalFactory{}))
	engine := storage.NewEngine(keys, memory.NewBlobStore("datahub-test"), memory.NewTree(), nil)
	h := hub.New(memory.NewChannels(), engine, appConfig.Content.MaxPayloadBytes)
	validation.SetUpValidators()
	return NewGinEngine(&appConfig, h, prometheus.NewRegistry())
}

func TestNewGinEngine_health(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	newTestGinEngine(nil).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNewGinEngine_metricsCountRequests(t *testing.T) {
	ginEngine := newTestGinEngine(nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/channel", strings.NewReader(`{"name":"orders"}`))
	ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/metrics", nil)
	ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `datahub_api_requests_total{method="POST",route="/channel",status="201"} 1`)
}

func TestNewGinEngine_noRoute(t *testing.T) {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/nope", nil)
	newTestGinEngine(nil).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewGinEngine_basicAuth(t *testing.T) {
	ginEngine := newTestGinEngine(&config.Auth{
		BasicAuth: []config.BasicAuthUser{{Name: "user", Password: "passw0rd"}},
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/channel", nil)
	ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/channel", nil)
	req.SetBasicAuth("user", "passw0rd")
	ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/health", nil)
	ginEngine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

type fakeTemplates struct {
	checkErr error
	runErr   error
	runCalls int
}

func (f *fakeTemplates) Check(ctx context.Context) error {
	return f.checkErr
}

func (f *fakeTemplates) Run(ctx context.Context) error {
	f.runCalls++
	if f.runErr == nil {
		f.checkErr = nil
	}
	return f.runErr
}

func newSetup(templates *fakeTemplates, blobs *memory.BlobStore) Setup {
	keys := keygen.NewClusterGenerator(memory.NewCounters(), channellock.NewExecutor(channellock.LocalFactory{}))
	return &impl{
		templateSetup: templates,
		engine:        storage.NewEngine(keys, blobs, memory.NewTree(), nil),
	}
}

func TestSetup_RunIfNeeded(t *testing.T) {
	tests := []struct {
		name         string
		templates    *fakeTemplates
		wantErr      bool
		wantRunCalls int
	}{
		{
			name:      "already set up",
			templates: &fakeTemplates{},
		},
		{
			name:         "templates missing",
			templates:    &fakeTemplates{checkErr: index.TemplatesNotInstalled{NotInstalled: []string{"x"}}},
			wantRunCalls: 1,
		},
		{
			name: "templates missing and install fails",
			templates: &fakeTemplates{
				checkErr: index.TemplatesNotInstalled{NotInstalled: []string{"x"}},
				runErr:   errors.New("nope"),
			},
			wantErr:      true,
			wantRunCalls: 1,
		},
		{
			name:      "check fails",
			templates: &fakeTemplates{checkErr: errors.New("es down")},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := memory.NewBlobStore("datahub-test")
			setup := newSetup(tt.templates, blobs)
			err := setup.RunIfNeeded(ctx)
			assert.Equal(t, tt.wantRunCalls, tt.templates.runCalls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.NoError(t, blobs.ProbeContainer(ctx))
				assert.NoError(t, setup.Check(ctx))
			}
		})
	}
}

func TestSetup_withoutElasticsearch(t *testing.T) {
	blobs := memory.NewBlobStore("datahub-test")
	keys := keygen.NewClusterGenerator(memory.NewCounters(), channellock.NewExecutor(channellock.LocalFactory{}))
	setup := NewSetup(nil, storage.NewEngine(keys, blobs, memory.NewTree(), nil))
	assert.NoError(t, setup.Check(ctx))
	assert.Error(t, blobs.ProbeContainer(ctx))
	assert.NoError(t, setup.RunIfNeeded(ctx))
	assert.NoError(t, blobs.ProbeContainer(ctx))
}
