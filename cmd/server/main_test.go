package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dapurpos/backend/internal/config"
	"dapurpos/backend/internal/domain"
	"dapurpos/backend/internal/httpapi"
	"dapurpos/backend/internal/lock"
	"dapurpos/backend/internal/store/memory"
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
		DatabaseURL:   "postgres://localhost/dapurpos",
	})
	if err == nil {
		t.Fatalf("expected wildcard origin to be rejected with a database")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AllowedOrigin: "http://127.0.0.1:3000",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestSelectLocker(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	locker, backend, err := selectLocker(config.Config{LockBackend: config.LockBackendAuto}, nil, false, logger)
	if err != nil || backend != config.LockBackendMemory {
		t.Fatalf("auto without redis: got %q, %v", backend, err)
	}
	if _, ok := locker.(*lock.Keyed); !ok {
		t.Fatalf("expected in-process locker, got %T", locker)
	}

	locker, backend, err = selectLocker(config.Config{LockBackend: config.LockBackendAuto}, client, true, logger)
	if err != nil || backend != config.LockBackendRedis {
		t.Fatalf("auto with redis: got %q, %v", backend, err)
	}
	if _, ok := locker.(*lock.Redis); !ok {
		t.Fatalf("expected redis locker, got %T", locker)
	}

	if _, _, err := selectLocker(config.Config{LockBackend: config.LockBackendRedis}, client, false, logger); err == nil {
		t.Fatalf("expected redis backend to fail when redis is down")
	}

	_, backend, err = selectLocker(config.Config{LockBackend: config.LockBackendMemory}, client, true, logger)
	if err != nil || backend != config.LockBackendMemory {
		t.Fatalf("memory backend: got %q, %v", backend, err)
	}
}

func TestBootstrapAdminOnEmptyDirectory(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx := context.Background()
	repo := memory.New()
	auth := httpapi.NewAuthenticator("0123456789abcdef0123456789abcdef", time.Hour, repo)

	if err := bootstrapAdmin(ctx, config.Config{}, auth, logger); err != nil {
		t.Fatalf("without a password bootstrap must be skipped, got %v", err)
	}
	if users, _ := repo.ListUsers(ctx); len(users) != 0 {
		t.Fatalf("expected no users, got %d", len(users))
	}

	cfg := config.Config{BootstrapAdminUsername: "owner", BootstrapAdminPassword: "owner-pass-123"}
	if err := bootstrapAdmin(ctx, cfg, auth, logger); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	resp, err := auth.Login(ctx, domain.LoginRequest{Username: "owner", Password: "owner-pass-123"})
	if err != nil || resp.Role != domain.RoleAdmin {
		t.Fatalf("bootstrap admin login: %+v, %v", resp, err)
	}
}
