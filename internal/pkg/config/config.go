// Package config assembles the typed runtime configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuelReschke/HotspotSync/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
)

// Database holds the policy store connection settings
type Database struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// RouterAgent holds the router control-plane client settings
type RouterAgent struct {
	URL     string
	Token   string
	Timeout time.Duration
	Rate    float64
	Burst   int
}

// Retry holds the failure ledger settings
type Retry struct {
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	Retention     time.Duration
	BatchSize     int
}

// Scheduler holds the in-process ticker settings
type Scheduler struct {
	Enabled         bool
	CycleInterval   time.Duration
	RetryInterval   time.Duration
	VerifyInterval  time.Duration
	CleanupInterval time.Duration
}

// Config is the full runtime configuration
type Config struct {
	AppHost       string
	AppPort       string
	AdminUser     string
	AdminPassword string
	WorkerCount   int
	Database      Database
	RouterAgent   RouterAgent
	Retry         Retry
	Scheduler     Scheduler
}

// Load reads the configuration from the environment. Malformed optional
// values fall back to their defaults with a warning; missing required
// values are an error.
func Load() (*Config, error) {
	cfg := &Config{
		AppHost:       env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort:       env.GetEnv("APP_PORT", "8080"),
		AdminUser:     env.GetEnv("ADMIN_USER", "admin"),
		AdminPassword: env.GetEnv("ADMIN_PASSWORD", ""),
		WorkerCount:   intVar("WORKER_COUNT", 5),
		Database: Database{
			Driver:   env.GetEnv("DB_DRIVER", "mysql"),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", ""),
		},
		RouterAgent: RouterAgent{
			URL:     env.GetEnv("ROUTER_AGENT_URL", ""),
			Token:   env.GetEnv("ROUTER_AGENT_TOKEN", ""),
			Timeout: durationVar("ROUTER_AGENT_TIMEOUT", 10*time.Second),
			Rate:    floatVar("ROUTER_AGENT_RATE", 20),
			Burst:   intVar("ROUTER_AGENT_BURST", 5),
		},
		Retry: Retry{
			MaxRetries:    intVar("RETRY_MAX_RETRIES", 3),
			BackoffBase:   durationVar("RETRY_BACKOFF_BASE", time.Minute),
			BackoffFactor: floatVar("RETRY_BACKOFF_FACTOR", 2),
			BackoffMax:    durationVar("RETRY_BACKOFF_MAX", time.Hour),
			Retention:     time.Duration(intVar("FAILURE_RETENTION_DAYS", 30)) * 24 * time.Hour,
			BatchSize:     intVar("RETRY_BATCH_SIZE", 100),
		},
		Scheduler: Scheduler{
			Enabled:         env.GetEnv("SCHEDULER_ENABLED", "true") == "true",
			CycleInterval:   durationVar("CYCLE_INTERVAL", 5*time.Minute),
			RetryInterval:   durationVar("RETRY_INTERVAL", 2*time.Minute),
			VerifyInterval:  durationVar("VERIFY_INTERVAL", 15*time.Minute),
			CleanupInterval: durationVar("CLEANUP_INTERVAL", 24*time.Hour),
		},
	}

	switch cfg.Database.Driver {
	case "mysql":
		cfg.Database.Port = env.GetEnv("DB_PORT", "3306")
	case "postgres":
		cfg.Database.Port = env.GetEnv("DB_PORT", "5432")
	default:
		return nil, fmt.Errorf("DB_DRIVER %q is not supported (mysql, postgres)", cfg.Database.Driver)
	}

	if cfg.Database.Name == "" {
		return nil, errors.New("DB_NAME is required")
	}
	if cfg.RouterAgent.URL == "" {
		return nil, errors.New("ROUTER_AGENT_URL is required")
	}
	if cfg.WorkerCount < 1 {
		log.Warnf("[Config] WORKER_COUNT %d is below 1, using 1", cfg.WorkerCount)
		cfg.WorkerCount = 1
	}
	if cfg.Retry.BackoffFactor < 1 {
		log.Warnf("[Config] RETRY_BACKOFF_FACTOR %.2f is below 1, using 2", cfg.Retry.BackoffFactor)
		cfg.Retry.BackoffFactor = 2
	}
	return cfg, nil
}

func durationVar(key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Warnf("[Config] Invalid duration %s=%q, using %s", key, raw, def)
		return def
	}
	return d
}

func intVar(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("[Config] Invalid integer %s=%q, using %d", key, raw, def)
		return def
	}
	return n
}

func floatVar(key string, def float64) float64 {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Warnf("[Config] Invalid number %s=%q, using %g", key, raw, def)
		return def
	}
	return f
}
