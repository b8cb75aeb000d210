// Package app wires the notekeep auth server runtime: config, logging,
// storage, throttling, metrics and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"notekeep/cmd/identity"
	authapi "notekeep/cmd/internal/auth/api"
	"notekeep/cmd/internal/auth/flow"
	"notekeep/cmd/internal/auth/session"
	"notekeep/cmd/internal/ratelimit"
	"notekeep/cmd/security/password"
	"notekeep/cmd/security/token"
)

// App owns the HTTP server and every backing resource it was built with.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	registry *prometheus.Registry
	handler  http.Handler
}

// New constructs a fully wired App from config. Backing services that are
// configured must be reachable; unconfigured ones fall back to in-process
// implementations.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	hasher, err := token.NewHasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return nil, fmt.Errorf("token hasher: %w", err)
	}
	if err := ValidateSecurityConfig(cfg, sessCfg, hasher); err != nil {
		return nil, err
	}
	if !hasher.Keyed() {
		log.Warn("security.token_hmac.disabled", "hint", "set NOTEKEEP_TOKEN_HMAC_KEY")
	}

	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewManager(sessCfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, err := a.openStore(ctx, hasher)
	if err != nil {
		return nil, err
	}

	limiter, err := a.openLimiter(ctx)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	ctl, err := flow.New(store, passwords, tokens,
		flow.WithLogger(log),
		flow.WithLimiter(limiter),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	authMetrics, err := authapi.NewMetrics(a.registry)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	auth, err := authapi.NewHandler(log, ctl, authapi.LoadConfigFromEnv(cfg.Production()), authapi.WithMetrics(authMetrics))
	if err != nil {
		a.closeResources()
		return nil, err
	}

	httpMetrics, err := NewHTTPMetrics(a.registry)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, a.registry, a.readinessChecks(), auth)

	a.handler = WithSecurityHeaders(
		WithCORS(
			WithRequestID(
				WithRequestLogging(mux, log, httpMetrics),
			),
			cfg, log,
		),
	)
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) openStore(ctx context.Context, hasher token.Hasher) (identity.Store, error) {
	if a.cfg.DatabaseURL == "" {
		if a.cfg.Production() {
			return nil, errors.New("production requires NOTEKEEP_DATABASE_URL")
		}
		a.log.Info("db.disabled.inmemory_store")
		return identity.NewInMemoryStore(hasher), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.dbPool = pool

	if a.cfg.DBAutoMigrate {
		if err := identity.EnsureSchema(ctx, pool, a.cfg.DBSchema); err != nil {
			a.closeResources()
			return nil, fmt.Errorf("database schema: %w", err)
		}
	}

	store, err := identity.NewPostgresStore(pool,
		identity.WithSchema(a.cfg.DBSchema),
		identity.WithTokenHasher(hasher),
	)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", store.Schema())
	return store, nil
}

func (a *App) openLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{
		MaxFailures: a.cfg.LoginMaxFailures,
		Window:      a.cfg.LoginWindow,
	}

	if a.cfg.RedisURL == "" {
		a.log.Info("ratelimit.memory")
		return ratelimit.NewMemoryLimiter(rlCfg), nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.redis = client

	a.log.Info("ratelimit.redis", "addr", opts.Addr)
	return ratelimit.NewRedisLimiter(client, rlCfg), nil
}

func (a *App) readinessChecks() map[string]pinger {
	checks := map[string]pinger{}
	if pool := a.dbPool; pool != nil {
		checks["db"] = func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) }
	}
	if client := a.redis; client != nil {
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts
// down gracefully and releases backing resources.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}
	defer a.closeResources()

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"env", a.cfg.Env,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
