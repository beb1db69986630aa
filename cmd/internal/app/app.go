// Package app wires the sessiond runtime: config, logging, stores, the
// session lifecycle service, the expiry reaper, and the operational
// HTTP surface (health, readiness, metrics).
//
// It is intentionally small and deterministic to keep behavior
// predictable across the three store modes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/HabGLH/ecommerce/cmd/identity"
	"github.com/HabGLH/ecommerce/cmd/internal/auth/session"
)

// App is the sessiond runtime. It owns the store resources and the HTTP
// server; the session.Service it wires is what an embedding request
// layer would call.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client

	store  session.Store
	svc    *session.Service
	reaper *session.Reaper

	registry *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := session.NewMetrics(registry)

	a := &App{cfg: cfg, log: log, registry: registry}
	if err := a.openStores(context.Background()); err != nil {
		return nil, err
	}

	issuer, err := session.NewJWTIssuer(sessCfg)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	var users identity.Lookup
	if a.pool != nil {
		users, err = identity.NewPostgresLookup(a.pool)
		if err != nil {
			a.closeStores()
			return nil, err
		}
	} else {
		log.Warn("identity.lookup.inmemory", "reason", "no database configured")
		users = identity.NewMemoryLookup()
	}

	svc, err := session.NewService(sessCfg, a.store, users, issuer, session.WithMetrics(metrics))
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.svc = svc
	a.reaper = session.NewReaper(a.store, cfg.ReaperInterval, log, metrics)

	return a, nil
}

// SessionService exposes the wired lifecycle service for embedding.
func (a *App) SessionService() *session.Service { return a.svc }

// openStores decides between Postgres, Redis, and in-memory session
// persistence. Redis wins for session records when both backends are
// configured; Postgres is still opened for the identity lookup.
func (a *App) openStores(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.pool = pool
	}

	if a.cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			a.closeStores()
			return err
		}
		a.rdb = rdb
	}

	switch {
	case a.rdb != nil:
		a.log.Info("sessions.store.redis")
		a.store = session.NewRedisStore(a.rdb, a.cfg.RedisPrefix)
	case a.pool != nil:
		a.log.Info("sessions.store.postgres")
		a.store = session.NewPostgresStore(a.pool)
	default:
		a.log.Info("sessions.store.inmemory")
		a.store = session.NewMemoryStore()
	}

	return nil
}

func (a *App) closeStores() {
	if a.rdb != nil {
		_ = a.rdb.Close()
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Run starts the reaper and the HTTP server and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.rdb, a.registry)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go a.reaper.Run(reaperCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeStores()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeStores()
		return err
	}

	stopReaper()
	a.closeStores()

	a.log.Info("server.stopped")
	return nil
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
