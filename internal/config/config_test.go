package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"HTTP_ADDR", "DB_DRIVER", "DB_DSN", "DB_ECHO", "DEFAULT_CLAUDE_MODEL", "DEFAULT_GEMINI_MODEL",
		"PROVIDER_TIMEOUT_SECONDS", "SESSION_EXPIRY_HOURS", "PURGE_INTERVAL_MINUTES", "REDIS_DB",
		"RABBIT_QUEUE", "WORKER_CONCURRENCY", "METRICS_NAMESPACE",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.HTTPAddr != ":8000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("DBDriver = %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" {
		t.Fatalf("expected default sqlite dsn")
	}
	if cfg.DefaultClaudeModel != "claude-3-sonnet-20240229" || cfg.DefaultGeminiModel != "gemini-pro" {
		t.Fatalf("unexpected default models: %q %q", cfg.DefaultClaudeModel, cfg.DefaultGeminiModel)
	}
	if cfg.SessionExpiry != 24*time.Hour {
		t.Fatalf("SessionExpiry = %s", cfg.SessionExpiry)
	}
	if cfg.PurgeInterval != time.Hour {
		t.Fatalf("PurgeInterval = %s", cfg.PurgeInterval)
	}
	if cfg.ProviderTimeout != 90*time.Second {
		t.Fatalf("ProviderTimeout = %s", cfg.ProviderTimeout)
	}
	if cfg.RabbitQueue != "chat_jobs" || cfg.WorkerConcurrency != 2 {
		t.Fatalf("unexpected rabbit defaults: %q %d", cfg.RabbitQueue, cfg.WorkerConcurrency)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "MySQL")
	t.Setenv("DB_DSN", "")
	t.Setenv("DB_ECHO", "TRUE")
	t.Setenv("SESSION_EXPIRY_HOURS", "6")
	t.Setenv("PURGE_INTERVAL_MINUTES", "5")
	t.Setenv("REDIS_DB", "0")
	t.Setenv("WORKER_CONCURRENCY", "500")

	cfg := Load()
	if cfg.DBDriver != "mysql" {
		t.Fatalf("DBDriver = %q", cfg.DBDriver)
	}
	if cfg.DBDSN == "" || cfg.DBDSN[:3] != "app" {
		t.Fatalf("expected mysql default dsn, got %q", cfg.DBDSN)
	}
	if !cfg.DBEcho {
		t.Fatalf("expected DBEcho")
	}
	if cfg.SessionExpiry != 6*time.Hour || cfg.PurgeInterval != 5*time.Minute {
		t.Fatalf("unexpected durations: %s %s", cfg.SessionExpiry, cfg.PurgeInterval)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("RedisDB = %d", cfg.RedisDB)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("WorkerConcurrency should be capped at 50, got %d", cfg.WorkerConcurrency)
	}
}

func TestLoadIgnoresBadNumbers(t *testing.T) {
	t.Setenv("SESSION_EXPIRY_HOURS", "soon")
	t.Setenv("WORKER_CONCURRENCY", "-3")

	cfg := Load()
	if cfg.SessionExpiry != 24*time.Hour {
		t.Fatalf("SessionExpiry = %s", cfg.SessionExpiry)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Fatalf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
}
