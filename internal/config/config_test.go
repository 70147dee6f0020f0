package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "CURRENCY")
	unsetEnvWithCleanup(t, "CAPTURE_DEMO_MODE")
	unsetEnvWithCleanup(t, "CAPTURE_TIMEOUT_SECONDS")
	unsetEnvWithCleanup(t, "SETTLE_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "REDIS_RATE_LIMIT_PREFIX")
	unsetEnvWithCleanup(t, "CARD_EXPIRY_SWEEP_SCHEDULE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.Currency != "usd" {
		t.Fatalf("expected default currency usd, got %q", cfg.Currency)
	}
	if cfg.CaptureDemoMode {
		t.Fatal("demo mode must default to off")
	}
	if cfg.CaptureTimeoutSeconds != 30 {
		t.Fatalf("expected default capture timeout 30s, got %d", cfg.CaptureTimeoutSeconds)
	}
	if cfg.SettleRateLimitPerMinute != 10 {
		t.Fatalf("expected default settle rate limit 10, got %d", cfg.SettleRateLimitPerMinute)
	}
	if cfg.RedisRateLimitPrefix != "bpay:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.CardExpirySweepSchedule != "@hourly" {
		t.Fatalf("expected default sweep schedule @hourly, got %q", cfg.CardExpirySweepSchedule)
	}
}

func TestLoadConfigPortOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8085")
	setEnvWithCleanup(t, "PORT", "9000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9000" {
		t.Fatalf("expected PORT to win over SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfigNormalizesCurrency(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CURRENCY", "  USD ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Currency != "usd" {
		t.Fatalf("expected currency lowercased and trimmed, got %q", cfg.Currency)
	}
}

func TestLoadConfigCoercesBadNumbers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CAPTURE_TIMEOUT_SECONDS", "-5")
	setEnvWithCleanup(t, "SETTLE_RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CaptureTimeoutSeconds != 30 {
		t.Fatalf("expected negative timeout coerced to default, got %d", cfg.CaptureTimeoutSeconds)
	}
	if cfg.SettleRateLimitPerMinute != 10 {
		t.Fatalf("expected zero rate limit coerced to default, got %d", cfg.SettleRateLimitPerMinute)
	}
}

func TestLoadConfigDemoMode(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "CAPTURE_DEMO_MODE", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.CaptureDemoMode {
		t.Fatal("expected demo mode enabled from env")
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
