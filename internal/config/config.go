package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string // "sqlite" or "mysql"
	DBDSN    string
	DBEcho   bool

	// AI providers
	AnthropicAPIKey    string
	AnthropicBaseURL   string
	DefaultClaudeModel string
	GoogleAPIKey       string
	GeminiBaseURL      string
	DefaultGeminiModel string
	ProviderTimeout    time.Duration

	// Sessions
	SessionExpiry time.Duration
	PurgeInterval time.Duration

	// redis (optional, guards the purge sweep across replicas)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ (optional, async message mode)
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int

	MetricsNamespace string
}

func Load() Config {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if driver == "" {
		driver = "sqlite"
	}

	// DSN demo:
	// mysql:  app:apppass@tcp(127.0.0.1:3306)/prompt_service?charset=utf8mb4&parseTime=true&loc=UTC
	// sqlite: file:prompt_service.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		if driver == "mysql" {
			dsn = "app:apppass@tcp(127.0.0.1:3306)/prompt_service?charset=utf8mb4&parseTime=true&loc=UTC"
		} else {
			dsn = "file:prompt_service.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
	}

	return Config{
		HTTPAddr: envOr("HTTP_ADDR", ":8000"),

		DBDriver: driver,
		DBDSN:    dsn,
		DBEcho:   strings.EqualFold(os.Getenv("DB_ECHO"), "true"),

		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:   envOr("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		DefaultClaudeModel: envOr("DEFAULT_CLAUDE_MODEL", "claude-3-sonnet-20240229"),
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		GeminiBaseURL:      envOr("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		DefaultGeminiModel: envOr("DEFAULT_GEMINI_MODEL", "gemini-pro"),
		ProviderTimeout:    time.Duration(envInt("PROVIDER_TIMEOUT_SECONDS", 90)) * time.Second,

		SessionExpiry: time.Duration(envInt("SESSION_EXPIRY_HOURS", 24)) * time.Hour,
		PurgeInterval: time.Duration(envInt("PURGE_INTERVAL_MINUTES", 60)) * time.Minute,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       envOr("RABBIT_QUEUE", "chat_jobs"),
		WorkerConcurrency: workerConcurrency(),

		MetricsNamespace: envOr("METRICS_NAMESPACE", "prompt_service"),
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// envInt falls back to def when the variable is unset, unparsable or not positive.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return def
	}
	if n == 0 && key != "REDIS_DB" {
		return def
	}
	return n
}

func workerConcurrency() int {
	n := envInt("WORKER_CONCURRENCY", 2)
	if n > 50 {
		return 50
	}
	return n
}
