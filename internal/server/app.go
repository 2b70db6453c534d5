// Package server wires the item store to its storage, cache, search queue,
// event sinks, file storage and metrics, and runs the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/refstore/internal/logging"
	"github.com/dmitrijs2005/refstore/internal/server/auth"
	"github.com/dmitrijs2005/refstore/internal/server/cache"
	"github.com/dmitrijs2005/refstore/internal/server/config"
	"github.com/dmitrijs2005/refstore/internal/server/creators"
	"github.com/dmitrijs2005/refstore/internal/server/events"
	"github.com/dmitrijs2005/refstore/internal/server/files"
	"github.com/dmitrijs2005/refstore/internal/server/ids"
	"github.com/dmitrijs2005/refstore/internal/server/interning"
	"github.com/dmitrijs2005/refstore/internal/server/items"
	"github.com/dmitrijs2005/refstore/internal/server/metrics"
	"github.com/dmitrijs2005/refstore/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/refstore/internal/server/schema"
	"github.com/dmitrijs2005/refstore/internal/server/search"
	"github.com/dmitrijs2005/refstore/internal/server/shards"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	redisPrefix       = "refstore:"
	memoryCacheSize   = 10000
	shutdownTimeout   = 5 * time.Second
	creatorCacheRatio = 4
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	master   *sql.DB
	repos    *repomanager.PostgresRepositoryManager
	shards   *shards.Resolver
	ids      *ids.Allocator
	redis    *redis.Client
	registry *prometheus.Registry
	deps     items.Deps
}

// openDB is a seam for testing sql.Open.
var openDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	master, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{
		config:   c,
		logger:   logger,
		master:   master,
		repos:    &repomanager.PostgresRepositoryManager{},
		registry: prometheus.NewRegistry(),
	}
	app.shards = shards.NewResolver(master, app.repos)
	app.ids = ids.NewAllocator(master, app.repos)

	if err := app.initDeps(); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) initDeps() error {
	c := app.config

	var (
		store cache.Cache
		queue search.Queue
		sinks = events.Hooks{events.LogSink{Logger: app.logger}}
	)
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
		store = cache.NewRedis(app.redis, redisPrefix+"cache:")
		queue = search.NewRedisQueue(app.redis, redisPrefix+"search")
		sinks = append(sinks, events.NewRedisPublisher(app.redis, redisPrefix+"events"))
	} else {
		mem, err := cache.NewMemory(memoryCacheSize)
		if err != nil {
			return err
		}
		store = mem
		queue = search.NewMemoryQueue()
	}

	recorder, err := metrics.NewPrometheus(c.MetricsNamespace, app.registry)
	if err != nil {
		return fmt.Errorf("metrics init error: %w", err)
	}

	app.deps = items.Deps{
		Schema: schema.Default(),
		Shards: app.shards,
		Repos:  app.repos,
		IDs:    app.ids,
		Values: interning.New(app.repos, store, c.CacheTTL, c.MaxValueLength, app.logger),
		Files: files.NewPresigner(files.Settings{
			Region:       c.S3Region,
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
			TTL:          c.PresignTTL,
		}),
		Cache:         store,
		CacheTTL:      c.CacheTTL,
		Search:        queue,
		Events:        sinks,
		Edit:          auth.TokenChecker{},
		Metrics:       recorder,
		Logger:        app.logger,
		DataBatchSize: c.DataBatchSize,
	}
	return nil
}

// Items returns a request-scoped item store with its own canonical item and
// creator copies.
func (app *App) Items() (*items.Store, error) {
	registry, err := creators.NewRegistry(app.shards, app.repos, app.ids, app.config.ItemCacheSize*creatorCacheRatio)
	if err != nil {
		return nil, err
	}
	deps := app.deps
	deps.Creators = items.CreatorLookup(func(ctx context.Context, libraryID, id int64) (items.CreatorRef, error) {
		c, err := registry.Get(ctx, libraryID, id)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	return items.NewStore(deps, app.config.ItemCacheSize)
}

// Authorize verifies a bearer token and returns ctx carrying its claims, so
// saves made with that ctx pass the edit check for the token's libraries.
func (app *App) Authorize(ctx context.Context, token string) (context.Context, error) {
	claims, err := auth.ParseToken(token, []byte(app.config.SecretKey))
	if err != nil {
		return ctx, err
	}
	return auth.WithClaims(ctx, claims), nil
}

// Migrate brings the master database and then every shard up to date.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repos.RunMasterMigrations(ctx, app.master); err != nil {
		return fmt.Errorf("master migrations: %w", err)
	}
	return app.shards.Each(ctx, func(ctx context.Context, shardID int, db *sql.DB) error {
		app.logger.Info(ctx, "migrating shard", "shard_id", shardID)
		return app.repos.RunShardMigrations(ctx, db)
	})
}

func (app *App) Close() error {
	var errs []error
	if err := app.shards.Close(); err != nil {
		errs = append(errs, err)
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := app.master.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	return mux
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: app.metricsHandler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "metrics server shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "metrics server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.Close(); err != nil {
		app.logger.Error(context.Background(), "close", "error", err)
	}
}
