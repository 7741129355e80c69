package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/storm-asset-linker/internal/config"
	"github.com/couchcryptid/storm-asset-linker/internal/database"
	"github.com/couchcryptid/storm-asset-linker/internal/linker"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/performance"
	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
	"github.com/couchcryptid/storm-asset-linker/internal/timeseries"
)

// app holds the process-wide collaborators shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	cache   *timeseries.RedisKV
	closers []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg),
		metrics: observability.NewMetrics(),
	}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openStore migrates the schema and connects a pool.
func (a *app) openStore(ctx context.Context) (*store.Store, *pgxpool.Pool, error) {
	if err := database.RunMigrations(a.cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := database.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return store.New(pool, a.metrics), pool, nil
}

// seriesLoader builds the time-series loader, optionally fronted by Redis.
func (a *app) seriesLoader(ctx context.Context) (*timeseries.Loader, error) {
	var src timeseries.Source
	switch a.cfg.TimeseriesSource {
	case config.SourceS3:
		s3src, err := timeseries.NewS3Source(ctx, a.cfg.AWSRegion, a.cfg.S3Bucket, a.cfg.S3Prefix, a.metrics)
		if err != nil {
			return nil, err
		}
		src = s3src
	default:
		src = timeseries.NewDirSource(a.cfg.TimeseriesDir)
	}

	if a.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Error("close redis client", "error", err)
			}
		})
		a.cache = timeseries.NewRedisKV(client)
		src = timeseries.NewCachedSource(src, a.cache, a.cfg.RedisTTL, a.logger)
	}
	return timeseries.NewLoader(src, a.cfg.StreamFilter), nil
}

type runnerOptions struct {
	events          pipeline.EventSource
	store           pipeline.RunStore
	skipPerformance bool
}

func (a *app) newRunner(ctx context.Context, o runnerOptions) (*pipeline.Runner, error) {
	distances, err := config.LoadDistances(a.cfg.DistanceConfigFile)
	if err != nil {
		return nil, err
	}
	categories, err := config.LoadMasterCategories(a.cfg.MasterCategoryFile)
	if err != nil {
		return nil, err
	}
	lk, err := linker.New(distances, categories, a.cfg.LinkWorkers, a.logger)
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Linker:       lk,
		Assets:       pipeline.AssetFile(a.cfg.AssetMetadataFile),
		Events:       o.events,
		Comparator:   performance.NewComparator(a.cfg.WindowDays),
		Store:        o.store,
		OutputDir:    a.cfg.OutputDir,
		DayWindow:    a.cfg.ExportWindowDays,
		FetchWorkers: a.cfg.FetchWorkers,
		Metrics:      a.metrics,
		Logger:       a.logger,
	}
	if !o.skipPerformance {
		loader, err := a.seriesLoader(ctx)
		if err != nil {
			return nil, err
		}
		opts.Series = loader
	}
	return pipeline.New(opts), nil
}
