package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	AllowedOrigins  []string
	DefaultPageSize int
	MaxPageSize     int
	NotifyQueueSize int
	ShutdownTimeout time.Duration
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8084"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		RedisAddr:       getenv("REDIS_ADDR", ""),
		RedisPassword:   getenv("REDIS_PASSWORD", ""),
		JWTSecret:       getenv("JWT_SECRET", "dev-secret"),
		JWTIssuer:       getenv("JWT_ISSUER", "campus-chat"),
		AccessTokenTTL:  getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		AllowedOrigins:  getenvList("ALLOWED_ORIGINS", []string{"*"}),
		DefaultPageSize: getenvInt("DEFAULT_PAGE_SIZE", 30),
		MaxPageSize:     getenvInt("MAX_PAGE_SIZE", 100),
		NotifyQueueSize: getenvInt("NOTIFY_QUEUE_SIZE", 256),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
