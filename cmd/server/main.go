package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"costledger/backend/internal/cache"
	"costledger/backend/internal/config"
	"costledger/backend/internal/costing"
	"costledger/backend/internal/httpapi"
	"costledger/backend/internal/lock"
	"costledger/backend/internal/logger"
	"costledger/backend/internal/service"
	"costledger/backend/internal/store"
	"costledger/backend/internal/store/memory"
	pgstore "costledger/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("repository unavailable", zap.Error(err))
	}

	quotes, locker, redisClose := openRedis(ctx, cfg, zlog)
	if redisClose != nil {
		closers = append(closers, redisClose)
	}

	svc := service.New(repo, costing.NewEngine(cfg.CurrencyScale), service.Options{
		Locker:        locker,
		Quotes:        quotes,
		QuoteTTL:      cfg.QuoteCacheTTL,
		RetryAttempts: cfg.TxRetryAttempts,
		RetryBackoff:  cfg.TxRetryBackoff,
		Logger:        zlog.Named("service"),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, zlog.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("cost ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Error("close error", zap.Error(err))
		}
	}

	zlog.Info("server stopped")
}

// openRepository refuses to fall back to memory when DATABASE_URL is set.
func openRepository(ctx context.Context, cfg config.Config, zlog *zap.Logger) (store.Repository, []func() error, error) {
	if cfg.DatabaseURL == "" {
		zlog.Info("repository: in-memory (seeded demo-tenant)")
		return memory.NewSeeded(), nil, nil
	}

	if cfg.AutoMigrate {
		if err := pgstore.Migrate(cfg.DatabaseURL, zlog.Named("migrate")); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.DBLockTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	zlog.Info("repository: postgres", zap.Bool("auto_migrate", cfg.AutoMigrate))
	return pg, []func() error{pg.Close}, nil
}

// openRedis returns the quote cache and locker. Without a reachable Redis the
// server runs single-instance with process-local locks and no quote cache.
func openRedis(ctx context.Context, cfg config.Config, zlog *zap.Logger) (cache.QuoteCache, lock.Locker, func() error) {
	local := lock.NewLocal(cfg.LockWait)
	if cfg.RedisAddr == "" {
		zlog.Info("cache: noop, locks: local")
		return cache.NoopQuoteCache{}, local, nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := client.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis unavailable, using noop cache and local locks", zap.Error(err))
		_ = client.Close()
		return cache.NoopQuoteCache{}, local, nil
	}

	zlog.Info("cache: redis, locks: redis", zap.String("addr", cfg.RedisAddr))
	return cache.NewRedisQuoteCache(client), lock.NewRedis(client, cfg.LockTTL, cfg.LockWait, zlog.Named("lock")), client.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" && cfg.DatabaseURL != "" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin when a database is configured")
	}
	return nil
}
