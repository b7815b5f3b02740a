package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/cache"
	"dapurpos/backend/internal/config"
	"dapurpos/backend/internal/httpapi"
	"dapurpos/backend/internal/inventory"
	"dapurpos/backend/internal/lock"
	"dapurpos/backend/internal/service"
	"dapurpos/backend/internal/store"
	"dapurpos/backend/internal/store/memory"
	pgstore "dapurpos/backend/internal/store/postgres"
)

const redisLockPrefix = "dapurpos:lock:ingredient:"

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.WithError(err).Fatal("schema migration failed")
			}
			logger.Info("schema: migrated")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	var redisClient *redis.Client
	redisReady := false
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, redisClient.Close)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable")
		} else {
			redisReady = true
		}
	}

	reportCache := cache.ValuationCache(cache.NoopValuationCache{})
	if redisReady {
		reportCache = cache.NewRedisValuationCache(redisClient)
		logger.Info("report cache: redis")
	} else {
		logger.Info("report cache: noop")
	}

	locker, backend, err := selectLocker(cfg, redisClient, redisReady, logger)
	if err != nil {
		logger.WithError(err).Fatal("lock backend unavailable")
	}
	logger.WithField("backend", backend).Info("ingredient locks ready")

	coordinator := inventory.NewCoordinator(repo, locker,
		inventory.WithLockTimeout(cfg.LockTimeout),
		inventory.WithLogger(logger),
	)
	svc := service.New(repo, coordinator,
		service.WithReportCache(reportCache, cfg.ReportCacheTTL),
		service.WithLogger(logger),
	)
	auth := httpapi.NewAuthenticator(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err := bootstrapAdmin(ctx, cfg, auth, logger); err != nil {
		logger.WithError(err).Fatal("bootstrap admin failed")
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("inventory backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("close error")
		}
	}

	logger.Info("server stopped")
}

// selectLocker picks the ingredient lock backend. "auto" uses Redis when it
// answered the startup ping and falls back to in-process locks otherwise;
// "redis" refuses to start without it.
func selectLocker(cfg config.Config, client *redis.Client, redisReady bool, logger logrus.FieldLogger) (lock.Locker, string, error) {
	switch cfg.LockBackend {
	case config.LockBackendMemory:
		return lock.NewKeyed(), config.LockBackendMemory, nil
	case config.LockBackendRedis:
		if client == nil || !redisReady {
			return nil, "", fmt.Errorf("LOCK_BACKEND=redis but redis at %q is not reachable", cfg.RedisAddr)
		}
		return lock.NewRedis(client, redisLockPrefix, cfg.LockTTL, 0, logger), config.LockBackendRedis, nil
	}
	if client != nil && redisReady {
		return lock.NewRedis(client, redisLockPrefix, cfg.LockTTL, 0, logger), config.LockBackendRedis, nil
	}
	return lock.NewKeyed(), config.LockBackendMemory, nil
}

// bootstrapAdmin gives a fresh database its first admin when
// BOOTSTRAP_ADMIN_PASSWORD is set.
func bootstrapAdmin(ctx context.Context, cfg config.Config, auth *httpapi.Authenticator, logger logrus.FieldLogger) error {
	if cfg.BootstrapAdminPassword == "" {
		return nil
	}
	created, err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
	if err != nil {
		return err
	}
	if created {
		logger.WithField("username", cfg.BootstrapAdminUsername).Info("bootstrap admin created")
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name the frontend origin when running against postgres")
	}
	return nil
}
