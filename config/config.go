// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Engine EngineConfig
	Redis  RedisConfig
	Audit  AuditConfig
}

type ServerConfig struct {
	AppEnv             string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Path string
}

type EngineConfig struct {
	AllowNegativeStock bool
}

// RedisConfig enables the distributed locker when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type AuditConfig struct {
	Interval time.Duration // zero disables the scheduler
}

// IsProduction reports whether APP_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "prod" || c.Server.AppEnv == "production"
}

// LoadEnv reads .env files (if present) and then the process environment.
// Variables already set in the environment win over .env values.
func LoadEnv(files ...string) *Config {
	_ = godotenv.Load(files...)

	return &Config{
		Server: ServerConfig{
			AppEnv:             getEnv("APP_ENV", "dev"),
			Port:               getEnvInt("HTTP_PORT", 8080),
			CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		DB: DBConfig{
			Path: getEnv("DB_PATH", "ledger.db"),
		},
		Engine: EngineConfig{
			AllowNegativeStock: getEnvBool("ALLOW_NEGATIVE_STOCK", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  time.Duration(getEnvInt("LOCK_TTL_SECONDS", 10)) * time.Second,
		},
		Audit: AuditConfig{
			Interval: time.Duration(getEnvInt("AUDIT_INTERVAL_MINUTES", 60)) * time.Minute,
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}
