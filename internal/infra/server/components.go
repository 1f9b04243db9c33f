package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.elastic.co/apm/module/apmgin"

	channelController "github.com/lloydmeta/datahub/internal/api/controllers/channel"
	"github.com/lloydmeta/datahub/internal/config"
	"github.com/lloydmeta/datahub/internal/domain/blob"
	"github.com/lloydmeta/datahub/internal/domain/channel"
	"github.com/lloydmeta/datahub/internal/domain/channellock"
	"github.com/lloydmeta/datahub/internal/domain/coordination"
	"github.com/lloydmeta/datahub/internal/domain/counter"
	"github.com/lloydmeta/datahub/internal/domain/hub"
	"github.com/lloydmeta/datahub/internal/domain/keygen"
	"github.com/lloydmeta/datahub/internal/domain/leader"
	"github.com/lloydmeta/datahub/internal/domain/storage"
	domainTracing "github.com/lloydmeta/datahub/internal/domain/tracing"
	"github.com/lloydmeta/datahub/internal/infra/apm/tracing"
	"github.com/lloydmeta/datahub/internal/infra/cron/consolidation"
	esChannel "github.com/lloydmeta/datahub/internal/infra/elasticsearch/channel"
	esCommon "github.com/lloydmeta/datahub/internal/infra/elasticsearch/common"
	esCounter "github.com/lloydmeta/datahub/internal/infra/elasticsearch/counter"
	"github.com/lloydmeta/datahub/internal/infra/elasticsearch/index"
	esLeader "github.com/lloydmeta/datahub/internal/infra/elasticsearch/leader"
	esTree "github.com/lloydmeta/datahub/internal/infra/elasticsearch/tree"
	gcsBlob "github.com/lloydmeta/datahub/internal/infra/gcs/blob"
	"github.com/lloydmeta/datahub/internal/infra/memory"
	"github.com/lloydmeta/datahub/internal/infra/metrics"
	redisCommon "github.com/lloydmeta/datahub/internal/infra/redis/common"
	redisCounter "github.com/lloydmeta/datahub/internal/infra/redis/counter"
	redisLock "github.com/lloydmeta/datahub/internal/infra/redis/lock"
	"github.com/lloydmeta/datahub/internal/infra/server/binding/validation"
	"github.com/lloydmeta/datahub/internal/infra/server/routing"
	"github.com/lloydmeta/datahub/internal/infra/server/routing/channels"
)

const leaderLockDocId = "datahub-consolidation-leader"

// Components is the running application: the HTTP server plus the background
// jobs and the clients they share
type Components struct {
	config     *config.App
	setup      Setup
	httpServer *http.Server
	leaderLock leader.Lock
	scheduler  *consolidation.Scheduler
	closers    []func() error
}

// backends are the cluster collaborators chosen by config
type backends struct {
	channels   channel.Service
	tree       coordination.Tree
	counters   counter.Service
	locks      channellock.Factory
	blobs      blob.Store
	leaderLock leader.Lock
	templates  *index.TemplatesSetup
	closers    []func() error
}

// NewComponents wires everything up according to the config, but does not
// start anything
func NewComponents(appConfig *config.App) (*Components, error) {
	ctx := context.Background()
	tracer := tracing.NewTracer()

	b, err := newBackends(ctx, appConfig, tracer)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keys := keygen.NewClusterGenerator(b.counters, channellock.NewExecutor(b.locks))
	engine := storage.NewEngine(keys, b.blobs, b.tree, metrics.NewEngine(registry))
	h := hub.New(b.channels, engine, appConfig.Content.MaxPayloadBytes)

	validation.SetUpValidators()
	ginEngine := NewGinEngine(appConfig, h, registry)

	var scheduler *consolidation.Scheduler
	if appConfig.Consolidation.Enabled {
		scheduler = consolidation.NewScheduler(h, b.leaderLock, tracer, appConfig.Consolidation.Schedule, appConfig.Consolidation.Lookback)
	}

	return &Components{
		config: appConfig,
		setup:  NewSetup(b.templates, engine),
		httpServer: &http.Server{
			Addr:    appConfig.BindAddress,
			Handler: ginEngine,
		},
		leaderLock: b.leaderLock,
		scheduler:  scheduler,
		closers:    b.closers,
	}, nil
}

// NewGinEngine returns the HTTP handler for the whole API
func NewGinEngine(appConfig *config.App, h *hub.Hub, registry *prometheus.Registry) *gin.Engine {
	ginEngine := gin.New()
	ginEngine.Use(
		logger.SetLogger(logger.Config{
			Logger:   &log.Logger,
			UTC:      true,
			SkipPath: []string{"/health", "/metrics"},
		}),
		gin.Recovery(),
		apmgin.Middleware(ginEngine),
		metrics.NewHTTP(registry).Middleware(),
		gzip.Gzip(gzip.DefaultCompression),
	)
	ginEngine.NoRoute(routing.NoRoute)
	ginEngine.NoMethod(routing.NoMethod)

	ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	ginEngine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	topLevelGroup := routing.NewTopLevelRoutesGroup(appConfig.Auth, ginEngine)
	channelsHandler := channels.RoutesHandler{
		Controller:      channelController.New(h),
		MaxPayloadBytes: appConfig.Content.MaxPayloadBytes,
	}
	channelsHandler.RegisterRoutes(topLevelGroup)
	return ginEngine
}

func newBackends(ctx context.Context, appConfig *config.App, tracer domainTracing.Tracer) (*backends, error) {
	b := backends{}

	var esClient *elasticsearch.Client
	getEsClient := func() (*elasticsearch.Client, error) {
		if esClient == nil {
			client, err := esCommon.NewClient(appConfig.Elasticsearch)
			if err != nil {
				return nil, err
			}
			esClient = client
			templates := index.DefaultTemplateSetup(client)
			b.templates = &templates
		}
		return esClient, nil
	}

	var redisClient *redis.Client
	getRedisClient := func() (*redis.Client, error) {
		if redisClient == nil {
			if appConfig.Redis == nil {
				return nil, MissingConfig{Section: "redis"}
			}
			redisClient = redisCommon.NewClient(*appConfig.Redis)
			b.closers = append(b.closers, redisClient.Close)
		}
		return redisClient, nil
	}

	switch appConfig.Coordination.Driver {
	case config.ElasticsearchCoordination:
		client, err := getEsClient()
		if err != nil {
			return nil, err
		}
		b.channels = esChannel.NewService(client, appConfig.Channels.ScrollSize, appConfig.Channels.ScrollTtl)
		b.tree = esTree.NewTree(client, appConfig.Coordination.ChildrenPageSize)
		b.leaderLock = esLeader.NewLeaderLock(
			leaderLockDocId,
			client,
			appConfig.LeaderLock.CheckInterval,
			appConfig.LeaderLock.ReportLagTolerance,
			tracer,
		)
	case config.MemoryCoordination:
		log.Warn().Msg("Using in-memory coordination, only run a single node")
		b.channels = memory.NewChannels()
		b.tree = memory.NewTree()
		b.leaderLock = &memory.SoloLeader{}
	default:
		return nil, UnknownDriver{Concern: "coordination", Driver: string(appConfig.Coordination.Driver)}
	}

	switch appConfig.Counters.Driver {
	case config.RedisCounters:
		client, err := getRedisClient()
		if err != nil {
			return nil, err
		}
		b.counters = redisCounter.NewService(client)
	case config.ElasticsearchCounters:
		client, err := getEsClient()
		if err != nil {
			return nil, err
		}
		b.counters = esCounter.NewService(client, appConfig.Counters.ConflictRetryTimes)
	case config.MemoryCounters:
		b.counters = memory.NewCounters()
	default:
		return nil, UnknownDriver{Concern: "counters", Driver: string(appConfig.Counters.Driver)}
	}

	switch appConfig.Locks.Driver {
	case config.RedisLocks:
		client, err := getRedisClient()
		if err != nil {
			return nil, err
		}
		b.locks = redisLock.NewFactory(client, appConfig.Locks.TTL, appConfig.Locks.RetryWait)
	case config.LocalLocks:
		b.locks = channellock.LocalFactory{}
	default:
		return nil, UnknownDriver{Concern: "locks", Driver: string(appConfig.Locks.Driver)}
	}

	bucket := appConfig.Storage.BucketName(appConfig.Environment)
	switch appConfig.Storage.Driver {
	case config.GcsStorage:
		client, err := gcsBlob.NewClient(ctx, appConfig.Storage)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.blobs = gcsBlob.NewStore(client, bucket, appConfig.Storage.ProjectID, appConfig.Storage.Location)
	case config.MemoryStorage:
		b.blobs = memory.NewBlobStore(bucket)
	default:
		return nil, UnknownDriver{Concern: "storage", Driver: string(appConfig.Storage.Driver)}
	}
	return &b, nil
}

// Run runs the server and background jobs until SIGINT or SIGTERM, then
// shuts everything down
func (c *Components) Run() {
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), time.Minute)
	if err := c.setup.RunIfNeeded(setupCtx); err != nil {
		cancelSetup()
		log.Fatal().Err(err).Msg("Setup failed")
	}
	cancelSetup()

	c.leaderLock.Start()
	if c.scheduler != nil {
		if err := c.scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start index consolidation")
		}
	}

	go func() {
		log.Info().Str("address", c.httpServer.Addr).Msg("Starting server")
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")
	c.Shutdown()
}

// Shutdown stops accepting requests, then stops the background jobs
func (c *Components) Shutdown() {
	timeout := c.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server did not shut down cleanly")
	}
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	c.leaderLock.Stop()
	for _, closer := range c.closers {
		if err := closer(); err != nil {
			log.Warn().Err(err).Msg("Failed to close client")
		}
	}
	log.Info().Msg("Shut down complete")
}

type UnknownDriver struct {
	Concern string
	Driver  string
}

func (e UnknownDriver) Error() string {
	return fmt.Sprintf("Unknown %s driver [%s]", e.Concern, e.Driver)
}

type MissingConfig struct {
	Section string
}

func (e MissingConfig) Error() string {
	return fmt.Sprintf("Missing [%s] config section", e.Section)
}
