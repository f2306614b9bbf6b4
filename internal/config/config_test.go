package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GEMINI_CHAT_MODEL", "gemini-env")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "8080"
logLevel: "info"
geminiAPIKey: "file-key"
jwtSecret: "test-secret"
redisAddr: "localhost:6379"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.GeminiAPIKey != "env-key" {
		t.Fatalf("geminiAPIKey = %q, want env-key", cfg.GeminiAPIKey)
	}
	if cfg.ChatModel != "gemini-env" {
		t.Fatalf("chatModel = %q, want gemini-env", cfg.ChatModel)
	}
	if cfg.RateLimitPerMinute != 5 {
		t.Fatalf("rateLimitPerMinute = %d, want 5", cfg.RateLimitPerMinute)
	}
	if cfg.ImageModel == "" {
		t.Fatalf("imageModel default missing")
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want default 8080", cfg.Port)
	}
	if cfg.QueueStream != "juju:generate" {
		t.Fatalf("queueStream = %q", cfg.QueueStream)
	}
}

func TestValidateConfigRejectsMissingSecret(t *testing.T) {
	cfg := FileConfig{
		Port:               "8080",
		GeminiAPIKey:       "key",
		ChatModel:          "m1",
		ImageModel:         "m2",
		SessionTTLMinutes:  60,
		QueueConcurrency:   2,
		RateLimitPerMinute: 10,
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing jwtSecret")
	}
}

func TestValidateConfigRejectsPartialMinio(t *testing.T) {
	cfg := FileConfig{
		Port:               "8080",
		GeminiAPIKey:       "key",
		JWTSecret:          "s",
		ChatModel:          "m1",
		ImageModel:         "m2",
		SessionTTLMinutes:  60,
		QueueConcurrency:   2,
		RateLimitPerMinute: 10,
		MinioEndpoint:      "localhost:9000",
	}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for minio endpoint without keys")
	}
}
