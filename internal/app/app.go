// Package app wires configuration into the running component graph shared
// by cmd/server and cmd/warmer.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-analytics/internal/cache"
	"github.com/ignite/outreach-analytics/internal/config"
	"github.com/ignite/outreach-analytics/internal/health"
	"github.com/ignite/outreach-analytics/internal/orchestrator"
	"github.com/ignite/outreach-analytics/internal/pkg/distlock"
	"github.com/ignite/outreach-analytics/internal/pkg/httpretry"
	"github.com/ignite/outreach-analytics/internal/pkg/logger"
	"github.com/ignite/outreach-analytics/internal/pkg/metrics"
	"github.com/ignite/outreach-analytics/internal/repository/dynamo"
	"github.com/ignite/outreach-analytics/internal/repository/postgres"
	"github.com/ignite/outreach-analytics/internal/repository/remote"
	"github.com/ignite/outreach-analytics/internal/service/analytics"
	"github.com/ignite/outreach-analytics/internal/warming"
)

// App holds every long-lived component. Optional connections are nil when
// not configured.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Metrics *metrics.Collector

	DB    *sql.DB
	Redis *redis.Client

	Store     cache.Store
	Loader    *cache.Loader
	Pool      *orchestrator.Pool
	Monitor   *health.Monitor
	Service   *analytics.Service
	Scheduler *warming.Scheduler
}

// New opens connections and builds the component graph.
func New(ctx context.Context, cfg *config.Config, name string) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}
	a := &App{Config: cfg, Log: logger.Default().With("service", name)}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	store, err := a.store()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	a.Monitor = health.New(cfg.Health, health.WithLogger(a.Log), health.WithMetrics(a.Metrics))
	a.Pool = orchestrator.New(cfg.Analytics.Orchestrator(),
		orchestrator.WithLogger(a.Log), orchestrator.WithMetrics(a.Metrics))
	a.Loader = cache.NewLoader(store, cfg.Cache.TTLPolicy(time.Now),
		cache.WithLogger(a.Log),
		cache.WithMetrics(a.Metrics),
		cache.OnStoreResult(a.Monitor.ReportCache),
		cache.WithFlightTimeout(a.Pool.Config().ComputationTimeout),
	)

	src, err := a.source(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = analytics.NewService(src, a.Loader, a.Pool, a.Monitor, analytics.WithLogger(a.Log))

	strategy, err := a.strategy(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scheduler, err = warming.New(a.Service, strategy,
		warming.WithLogger(a.Log),
		warming.WithMetrics(a.Metrics),
		warming.WithInvalidator(a.Loader),
		warming.WithLocks(func(key string) distlock.DistLock {
			return distlock.NewLock(a.Redis, a.DB, key, cfg.Warming.LockTTL())
		}),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pctx); err != nil {
			db.Close()
			return fmt.Errorf("ping database: %w", err)
		}
		a.DB = db
		a.Log.Info("database connected")
	}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.Log.Info("redis configured", "addr", opts.Addr)
	}
	return nil
}

func (a *App) store() (cache.Store, error) {
	switch a.Config.Cache.Backend {
	case "redis":
		if a.Redis == nil {
			return nil, errors.New("cache backend redis needs redis.url")
		}
		return cache.NewRedisStore(a.Redis), nil
	case "memory":
		return cache.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", a.Config.Cache.Backend)
}

func (a *App) source(ctx context.Context) (analytics.CounterSource, error) {
	cfg := a.Config
	var src analytics.CounterSource
	switch cfg.Source.Type {
	case "postgres":
		if a.DB == nil {
			return nil, errors.New("counter source postgres needs database.url")
		}
		src = postgres.NewCounterRepo(a.DB)
	case "dynamodb":
		repo, err := dynamo.NewFromConfig(ctx, cfg.AWS, cfg.Source.DynamoTable)
		if err != nil {
			return nil, err
		}
		src = repo
	case "http":
		if cfg.Source.BaseURL == "" {
			return nil, errors.New("counter source http needs source.base_url")
		}
		doer := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Source.Timeout()}, cfg.Source.MaxRetries,
			httpretry.WithLogger(a.Log))
		src = remote.NewCounterClient(cfg.Source.BaseURL, cfg.Source.Token, doer)
	default:
		return nil, fmt.Errorf("unknown counter source %q", cfg.Source.Type)
	}
	a.Log.Info("counter source configured", "type", cfg.Source.Type, "breaker", cfg.Breaker.Enabled)

	if cfg.Breaker.Enabled {
		src = analytics.NewBreakerSource(src, cfg.Breaker, a.Log)
	}
	return src, nil
}

// strategy returns the configured warming strategy. A disabled warming
// section yields a disabled strategy so change signals still invalidate.
func (a *App) strategy(ctx context.Context) (warming.Strategy, error) {
	w := a.Config.Warming
	if !w.Enabled {
		return warming.Strategy{}, nil
	}
	if w.StrategyURI == "" {
		return w.Strategy, nil
	}
	st, err := warming.LoadStrategy(ctx, w.StrategyURI, a.Config.AWS)
	if err != nil {
		return warming.Strategy{}, fmt.Errorf("load warming strategy: %w", err)
	}
	a.Log.Info("warming strategy loaded", "uri", w.StrategyURI, "schedules", len(st.Schedules))
	return st, nil
}

// ReloadStrategy re-reads the warming strategy and swaps it in.
func (a *App) ReloadStrategy(ctx context.Context) error {
	st, err := a.strategy(ctx)
	if err != nil {
		return err
	}
	return a.Scheduler.Reload(ctx, st)
}

// StartBackground launches cache health probing, memory sweeping, the
// warming cron and the change-signal listener. Everything stops with ctx.
func (a *App) StartBackground(ctx context.Context) error {
	go a.Monitor.Watch(ctx, a.Store, 15*time.Second)

	if ms, ok := a.Store.(*cache.MemoryStore); ok {
		go ms.StartSweeper(ctx, time.Duration(a.Config.Cache.SweepIntervalSeconds)*time.Second)
	}

	if a.Config.Warming.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			return err
		}
		if a.Config.Warming.RunOnStart {
			go a.Scheduler.RunSchedule(ctx)
		}
	}

	switch a.Config.Warming.Signals {
	case "redis":
		if a.Redis == nil {
			return errors.New("warming signals redis needs redis.url")
		}
		sub := warming.NewRedisSubscriber(a.Redis, a.Scheduler, a.Log)
		go a.runListener(ctx, "redis", sub.Run)
	case "postgres":
		if a.Config.Database.URL == "" {
			return errors.New("warming signals postgres needs database.url")
		}
		l := warming.NewPGListener(a.Config.Database.URL, a.Scheduler, a.Log)
		go a.runListener(ctx, "postgres", l.Run)
	case "none":
	default:
		return fmt.Errorf("unknown warming signals %q", a.Config.Warming.Signals)
	}
	return nil
}

// runListener restarts a listener that fails until ctx is done.
func (a *App) runListener(ctx context.Context, name string, run func(context.Context) error) {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		a.Log.Warn("change listener stopped, restarting", "source", name, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// MetricsHandler returns the Prometheus handler, or nil with metrics off.
func (a *App) MetricsHandler() http.Handler {
	if a.Metrics == nil {
		return nil
	}
	return a.Metrics.Handler()
}

// Close stops the scheduler and releases connections.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
