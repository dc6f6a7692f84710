// Package config defines runtime configuration for the chat binaries, with
// defaults and environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"time"
)

// Cache backend names accepted by CacheBackend.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// DefaultPort is the port the server listens on when none is given.
const DefaultPort = 5555

// Config holds the tuneables for one server or client process.
type Config struct {
	// Port is the server listen port, or the port the client dials.
	Port int
	// Host is the server host the client dials.
	Host string
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string
	// CacheBackend selects the resolver cache: "memory" or "redis".
	CacheBackend string
	// RedisAddr is the Redis address used when CacheBackend is "redis".
	RedisAddr string
	// ResolveTTL is how long resolved host addresses stay cached.
	ResolveTTL time.Duration
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Port:         DefaultPort,
		Host:         "localhost",
		LogLevel:     "info",
		CacheBackend: CacheBackendMemory,
		RedisAddr:    "localhost:6379",
		ResolveTTL:   5 * time.Minute,
	}
}

// FromEnv returns the default Config overridden by CHATRELAY_* environment
// variables. Unset or unparsable variables keep their defaults.
func FromEnv() Config {
	cfg := Default()

	if port := os.Getenv("CHATRELAY_PORT"); port != "" {
		cfg.Port = parseInt(port, cfg.Port)
	}

	if host := os.Getenv("CHATRELAY_HOST"); host != "" {
		cfg.Host = host
	}

	if level := os.Getenv("CHATRELAY_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if backend := os.Getenv("CHATRELAY_CACHE_BACKEND"); backend != "" {
		cfg.CacheBackend = backend
	}

	if addr := os.Getenv("CHATRELAY_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}

	if ttl := os.Getenv("CHATRELAY_RESOLVE_TTL_SECONDS"); ttl != "" {
		cfg.ResolveTTL = parseSeconds(ttl, cfg.ResolveTTL)
	}

	return cfg
}

func parseInt(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
