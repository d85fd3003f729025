package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/authz"
	"github.com/wardenhq/warden/pkg/cache"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/contextkeys"
	"github.com/wardenhq/warden/pkg/httputil"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := authz.RunMigrations(ctx, db); err != nil {
		return err
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store := authz.NewPostgresStore(db).WithMetrics(metrics)

	initialized, err := authz.Initialized(ctx, store)
	if err != nil {
		return err
	}
	if !initialized {
		logger.Info("seeding default authorization data")
		if err := authz.Bootstrap(ctx, store); err != nil {
			return err
		}
	}

	decisionCache, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return err
	}

	recorder, err := audit.NewDBRecorder(db)
	if err != nil {
		return err
	}

	engine := authz.NewEngine(store, authz.EngineConfig{
		Cache:    decisionCache,
		Recorder: recorder,
		Logger:   logger,
		Metrics:  metrics,
		CacheTTL: cfg.Cache.TTL,
	})

	resolver, err := buildResolver(cfg)
	if err != nil {
		return err
	}

	pruner := audit.NewPruner(recorder, audit.RetentionPolicy{RetentionDays: cfg.Audit.RetentionDays}, logger)
	if err := pruner.Start(); err != nil {
		return err
	}
	defer pruner.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
	}).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	identified := router.PathPrefix("/").Subrouter()
	identified.Use(identityMiddleware(resolver))
	authz.NewHandlers(engine, recorder).RegisterRoutes(identified)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", server.Addr).Info("warden listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildCache(ctx context.Context, cfg *config.Config, logger *observability.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisCache, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		logger.WithField("addr", cfg.Cache.RedisAddr).Info("using redis decision cache")
		return redisCache, nil
	default:
		logger.Info("using in-process decision cache")
		return cache.NewMemory(), nil
	}
}

func buildResolver(cfg *config.Config) (authz.IdentityResolver, error) {
	if cfg.Identity.Mode == config.IdentityModeJWT {
		return identity.NewJWTResolver(identity.JWTConfig{
			Secret:    []byte(cfg.Identity.JWTSecret),
			Issuer:    cfg.Identity.JWTIssuer,
			Audience:  cfg.Identity.JWTAudience,
			CacheTTL:  time.Minute,
			CacheSize: 4096,
		})
	}
	return identity.NewHeaderResolver(cfg.Identity.Header), nil
}

// identityMiddleware attaches the resolved user to the request context
// so grant handlers can attribute mutations. Unresolved requests pass
// through; per-route authorization decides what anonymity may do.
func identityMiddleware(resolver authz.IdentityResolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := resolver.Resolve(r); err == nil && userID != "" {
				r = r.WithContext(contextkeys.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
