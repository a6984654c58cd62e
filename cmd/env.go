package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobfeed/internal/aggregate"
	"github.com/sells-group/jobfeed/internal/cache"
	"github.com/sells-group/jobfeed/internal/classify"
	"github.com/sells-group/jobfeed/internal/config"
	"github.com/sells-group/jobfeed/internal/dedup"
	"github.com/sells-group/jobfeed/internal/pipeline"
	"github.com/sells-group/jobfeed/internal/probe"
	"github.com/sells-group/jobfeed/internal/registry"
	"github.com/sells-group/jobfeed/internal/sanitize"
	"github.com/sells-group/jobfeed/internal/status"
	"github.com/sells-group/jobfeed/internal/store"
	"github.com/sells-group/jobfeed/internal/validate"
)

// appEnv holds everything the commands share. Callers should defer
// env.Close().
type appEnv struct {
	Store      store.Store
	Cache      *cache.Cache
	Aggregates *aggregate.Service
	Checker    *status.Checker
	Pipeline   *pipeline.Pipeline
}

// Close releases the store and cache connections.
func (e *appEnv) Close() {
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "jobfeed.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &c.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// initCache picks Redis when a URL is configured and falls back to process
// memory when Redis is unreachable.
func initCache(ctx context.Context, c config.CacheConfig) *cache.Cache {
	if c.RedisURL == "" {
		return cache.New(cache.NewMemoryBackend(), c.Version)
	}
	backend, err := cache.NewRedisBackend(ctx, c.RedisURL)
	if err != nil {
		zap.L().Warn("redis unavailable, using in-memory cache", zap.Error(err))
		return cache.New(cache.NewMemoryBackend(), c.Version)
	}
	return cache.New(backend, c.Version)
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}
	reg, err := registry.Load(path)
	if err != nil {
		return nil, eris.Wrap(err, "load category registry")
	}
	return reg, nil
}

// initEnv validates cfg for mode, opens and migrates the store, and wires
// the pipeline, status checker and cached read side.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st, Cache: initCache(ctx, cfg.Cache)}
	env.Aggregates = aggregate.New(st, env.Cache, cfg.Aggregate)

	prober := probe.NewHTTPProber(cfg.Probe)
	env.Checker = status.NewChecker(st, prober, cfg.Status).
		WithInvalidator(env.Aggregates).
		WithAlerter(status.NewAlerter(cfg.Alert))

	env.Pipeline, err = pipeline.New(st, pipeline.Deps{
		Validator:    validate.New(cfg.Validation),
		Sanitizer:    sanitize.New(cfg.Sanitize),
		Classifier:   classify.New(reg, cfg.Classifier),
		Deduplicator: dedup.New(cfg.Dedup),
		Invalidator:  env.Aggregates,
		Checker:      env.Checker,
	}, cfg.Pipeline)
	if err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("cache_version", env.Cache.Version()),
		zap.Int("categories", reg.Len()),
	)
	return env, nil
}
