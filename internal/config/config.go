package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LockBackendAuto   = "auto"
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	AutoMigrate            bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	LockBackend            string
	LockTimeout            time.Duration
	LockTTL                time.Duration
	ReportCacheTTL         time.Duration
	AuthSecret             string
	AccessTokenTTLMinutes  int
	// BootstrapAdmin* create the first admin when the user table has none.
	BootstrapAdminUsername string
	BootstrapAdminPassword string
	LogLevel               string
	LogFormat              string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	autoMigrate, err := strconv.ParseBool(getEnv("AUTO_MIGRATE", "false"))
	if err != nil {
		autoMigrate = false
	}

	lockBackend := strings.ToLower(strings.TrimSpace(getEnv("LOCK_BACKEND", LockBackendAuto)))
	switch lockBackend {
	case LockBackendAuto, LockBackendMemory, LockBackendRedis:
	default:
		lockBackend = LockBackendAuto
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		AutoMigrate:            autoMigrate,
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		LockBackend:            lockBackend,
		LockTimeout:            time.Duration(positiveInt("LOCK_TIMEOUT_MS", 5000)) * time.Millisecond,
		LockTTL:                time.Duration(positiveInt("LOCK_TTL_SECONDS", 30)) * time.Second,
		ReportCacheTTL:         time.Duration(positiveInt("REPORT_CACHE_TTL_SECONDS", 60)) * time.Second,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		BootstrapAdminUsername: getEnv("BOOTSTRAP_ADMIN_USERNAME", "admin"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		LogFormat:              getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}
