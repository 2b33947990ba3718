package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"costledger/backend/internal/cache"
	"costledger/backend/internal/config"
	"costledger/backend/internal/lock"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsWildcardOriginWithDatabase(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AllowedOrigin: "*",
		DatabaseURL:   "postgres://ledger@localhost/ledger",
	})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "http://localhost:5173"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestOpenRepositoryDefaultsToMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if repo == nil || len(closers) != 0 {
		t.Fatalf("expected in-memory repository without closers")
	}
}

func TestOpenRedisWithoutAddressUsesLocalLocks(t *testing.T) {
	quotes, locker, closeFn := openRedis(context.Background(), config.Config{}, zap.NewNop())
	if _, ok := quotes.(cache.NoopQuoteCache); !ok {
		t.Fatalf("expected noop quote cache, got %T", quotes)
	}
	if _, ok := locker.(*lock.Local); !ok {
		t.Fatalf("expected local locker, got %T", locker)
	}
	if closeFn != nil {
		t.Fatalf("expected no closer")
	}
}
