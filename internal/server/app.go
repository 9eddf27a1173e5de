// Package server assembles authd from its configuration and runs the HTTP
// API, the background sweep and the configuration watcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/SandraRGdev/wp-api-codeia-sub001/auth"
	"github.com/SandraRGdev/wp-api-codeia-sub001/cache"
	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
	"github.com/SandraRGdev/wp-api-codeia-sub001/config"
	"github.com/SandraRGdev/wp-api-codeia-sub001/health"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/ratelimit"
	"github.com/SandraRGdev/wp-api-codeia-sub001/resilience"
	"github.com/SandraRGdev/wp-api-codeia-sub001/secret"
	"github.com/SandraRGdev/wp-api-codeia-sub001/store"
)

// Options are process-level settings that do not come from the file.
type Options struct {
	// ConfigPath enables hot reload of the policy when set.
	ConfigPath string
	Resolver   *secret.Resolver

	// Clock is optional and used by tests.
	Clock clock.Clock
}

// App is an assembled authd instance.
type App struct {
	config  *config.Config
	options Options

	observer observe.Observer
	logger   observe.Logger
	registry *promclient.Registry

	service *auth.Service
	store   store.Store
	memory  *ratelimit.MemoryLimiter
	health  *health.Aggregator
	handler http.Handler

	closeMu sync.Mutex
	closers []func() error
}

// New builds every component named in cfg. On error, everything built so
// far is released.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{config: cfg, options: opts, registry: promclient.NewRegistry()}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) (err error) {
	cfg := a.config
	opts := a.options

	obsConfig := cfg.Observability
	obsConfig.Metrics.Registerer = a.registry
	a.observer, err = observe.NewObserver(ctx, obsConfig)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	a.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.observer.Shutdown(shutdownCtx)
	})
	a.logger = a.observer.Logger()
	ins, err := observe.NewInstrumentation(a.observer)
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}

	var rdb *redis.Client
	if cfg.Storage.Backend == "redis" || cfg.RateLimiting.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		a.onClose(rdb.Close)
	}

	backend, err := a.openStore(ctx, rdb)
	if err != nil {
		return err
	}
	st, err := a.decorateStore(backend)
	if err != nil {
		return err
	}
	a.store = st

	limiter := a.buildLimiter(rdb, ins)

	keys, generated, err := cfg.SigningKeys()
	if err != nil {
		return fmt.Errorf("signing keys: %w", err)
	}
	if generated {
		a.logger.Warn(ctx, "no signing key configured; using an ephemeral key, tokens will not survive a restart",
			observe.F("algorithm", keys.Algorithm()))
	}

	a.service, err = auth.NewService(cfg.AuthConfig(), auth.Deps{
		Store:           st,
		Keys:            keys,
		Limiter:         limiter,
		Clock:           opts.Clock,
		Instrumentation: ins,
	})
	if err != nil {
		return err
	}

	a.health = health.NewAggregator(health.AggregatorConfig{})
	a.health.Register(health.NewPingChecker("store:"+cfg.Storage.Backend, backend, health.PingConfig{
		DegradedAfter: cfg.Storage.Timeout.D() / 2,
	}))
	if rdb != nil && cfg.Storage.Backend != "redis" {
		a.health.Register(health.NewPingChecker("ratelimit:redis", redisPinger{rdb}, health.PingConfig{}))
	}

	a.handler = a.routes()
	return nil
}

func (a *App) onClose(fn func() error) {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases backends in reverse order of creation.
func (a *App) Close() error {
	a.closeMu.Lock()
	closers := a.closers
	a.closers = nil
	a.closeMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, rdb *redis.Client) (store.Store, error) {
	cfg := a.config
	switch cfg.Storage.Backend {
	case "redis":
		// The client is closed by App; the store does not own it here.
		return store.NewRedis(rdb, store.RedisConfig{
			Prefix:    cfg.Storage.Redis.Prefix,
			Retention: cfg.JWT.RetentionGrace.D(),
			Clock:     a.options.Clock,
		}), nil
	case "postgres":
		db, err := store.OpenPostgres(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.onClose(db.Close)
		if cfg.Storage.Postgres.Migrate {
			if err := store.RunMigrations(ctx, db); err != nil {
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
			a.logger.Info(ctx, "postgres migrations applied")
		}
		return store.NewPostgres(db), nil
	default:
		return store.NewMemory(), nil
	}
}

// decorateStore adds the resilience guard to remote backends and the
// revocation cache.
func (a *App) decorateStore(backend store.Store) (store.Store, error) {
	cfg := a.config
	st := backend
	if cfg.Storage.Backend != "memory" {
		st = store.NewGuarded(st, resilience.GuardConfig{Timeout: cfg.Storage.Timeout.D()})
	}

	policy := cache.Policy{DefaultTTL: cfg.Cache.RevocationTTL.D(), MaxTTL: cfg.Cache.RevocationTTL.D()}
	// The guard makes up to two attempts of Storage.Timeout each.
	cached := store.CachedConfig{LookupTimeout: 2 * cfg.Storage.Timeout.D()}
	switch cfg.Cache.Backend {
	case "memory":
		return store.NewCached(st, cache.NewMemoryCache(policy, a.options.Clock), cached), nil
	case "ristretto":
		rc, err := cache.NewRistrettoCache(cache.RistrettoConfig{MaxCost: cfg.Cache.MaxCost, Policy: policy})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.onClose(func() error { rc.Close(); return nil })
		return store.NewCached(st, rc, cached), nil
	default:
		return st, nil
	}
}

func (a *App) buildLimiter(rdb *redis.Client, ins *observe.Instrumentation) *ratelimit.Layered {
	rl := a.config.RateLimiting
	ban := ratelimit.BanPolicy{Threshold: rl.BanThreshold, Duration: rl.BanDuration.D()}

	var limiter ratelimit.Limiter
	if rl.Backend == "redis" {
		limiter = ratelimit.NewRedisLimiter(rdb, ratelimit.RedisConfig{
			Prefix: a.config.Storage.Redis.Prefix + ":rl",
			Ban:    ban,
			Clock:  a.options.Clock,
		})
	} else {
		a.memory = ratelimit.NewMemoryLimiter(ban, a.options.Clock)
		limiter = a.memory
	}
	return ratelimit.NewLayered(limiter, ratelimit.LayeredConfig{
		FailOpen: rl.FailOpen,
		Logger:   ins.Logger.With(observe.F("component", "ratelimit")),
		Metrics:  ins.Metrics,
	})
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	newAPI(a.service, a.store, a.logger).register(mux)
	health.RegisterHandlers(mux, a.health)
	if a.config.Observability.Metrics.Enabled && a.config.Observability.Metrics.Exporter == "prometheus" {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.handler }

// Service returns the auth service.
func (a *App) Service() *auth.Service { return a.service }

// Run serves until ctx is done, then shuts down gracefully and releases
// every backend.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.config.Server.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info(ctx, "authd listening", observe.F("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout.D())
		defer cancel()
		a.logger.Info(shutdownCtx, "authd shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if interval := a.config.Server.SweepInterval.D(); interval > 0 {
		g.Go(func() error {
			a.sweepLoop(ctx, interval)
			return nil
		})
	}
	if a.options.ConfigPath != "" {
		w, err := config.NewWatcher(config.WatcherConfig{
			Path:     a.options.ConfigPath,
			Resolver: a.options.Resolver,
			OnChange: a.applyReload,
			Logger:   a.logger,
		})
		if err != nil {
			a.logger.Warn(ctx, "config hot reload disabled", observe.F("error", err))
		} else {
			g.Go(func() error { return w.Watch(ctx) })
		}
	}
	return g.Wait()
}

func (a *App) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// sweep deletes expired token records and idle in-process limiter windows.
func (a *App) sweep(ctx context.Context) {
	n, err := a.service.Sweep(ctx)
	if err != nil {
		// Service has logged the cause.
		return
	}
	pruned := 0
	if a.memory != nil {
		pruned = a.memory.Prune()
	}
	a.logger.Debug(ctx, "sweep completed", observe.F("tokens_deleted", n), observe.F("windows_pruned", pruned))
}

// applyReload swaps in the reloaded role policy. Other settings need a
// restart.
func (a *App) applyReload(cfg *config.Config) {
	a.service.SetPolicy(auth.NewPolicyEngine(cfg.PolicyConfig()))
	a.logger.Info(context.Background(), "role policy reloaded",
		observe.F("default_deny", cfg.Permissions.DefaultDeny),
		observe.F("role_overrides", len(cfg.Permissions.RoleOverrides)))
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
