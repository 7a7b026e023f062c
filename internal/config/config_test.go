package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test. Viper treats empty variables as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOOKING_CONFIG_FILE",
		"BOOKING_GRPC_HOST", "GRPC_HOST",
		"BOOKING_GRPC_PORT", "GRPC_PORT", "PORT",
		"BOOKING_GRPC_ADDR", "GRPC_ADDR",
		"BOOKING_GRPC_REQUEST_TIMEOUT",
		"BOOKING_STORE_DRIVER", "BOOKING_STORE_SEED_FILE",
		"BOOKING_DATABASE_URL", "DATABASE_URL",
		"BOOKING_DATABASE_MAX_OPEN_CONNS", "BOOKING_DATABASE_MAX_IDLE_CONNS",
		"BOOKING_DATABASE_CONN_MAX_LIFETIME", "BOOKING_DATABASE_CONN_MAX_IDLE_TIME",
		"BOOKING_TIMEZONE", "BOOKING_SLOT_LOCK_RETRIES", "BOOKING_LOCK_TIMEOUT",
		"BOOKING_REDIS_ENABLED", "BOOKING_REDIS_ADDR", "REDIS_ADDR",
		"BOOKING_REDIS_PASSWORD", "REDIS_PASSWORD", "BOOKING_REDIS_DB", "BOOKING_REDIS_TTL",
		"BOOKING_OTEL_ENABLED", "OTEL_ENABLED",
		"BOOKING_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"BOOKING_OTEL_SAMPLE_RATIO", "OTEL_SAMPLING_RATIO",
		"BOOKING_SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT",
		"BOOKING_LOG_LEVEL", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GRPCAddr != "0.0.0.0:50051" {
		t.Fatalf("GRPCAddr = %q", cfg.GRPCAddr)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q", cfg.StoreDriver)
	}
	if cfg.Location.String() != "Europe/Sofia" {
		t.Fatalf("Location = %q", cfg.Location)
	}
	if cfg.SlotLockRetries != 1 || cfg.LockTimeout != 5*time.Second {
		t.Fatalf("retries/lock timeout = %d/%v", cfg.SlotLockRetries, cfg.LockTimeout)
	}
	if cfg.RedisEnabled || cfg.RedisTTL != 5*time.Minute {
		t.Fatalf("redis = %v/%v", cfg.RedisEnabled, cfg.RedisTTL)
	}
	if cfg.OTelEnabled || cfg.OTelSampleRatio != 1 {
		t.Fatalf("otel = %v/%v", cfg.OTelEnabled, cfg.OTelSampleRatio)
	}
	if cfg.ShutdownTimeout != 10*time.Second || cfg.GRPCRequestTimeout != 10*time.Second {
		t.Fatalf("timeouts = %v/%v", cfg.ShutdownTimeout, cfg.GRPCRequestTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOOKING_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("BOOKING_STORE_DRIVER", "MEMORY")
	t.Setenv("BOOKING_STORE_SEED_FILE", "seed.yaml")
	t.Setenv("BOOKING_TIMEZONE", "UTC")
	t.Setenv("BOOKING_SLOT_LOCK_RETRIES", "0")
	t.Setenv("BOOKING_LOCK_TIMEOUT", "250ms")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("BOOKING_REDIS_ENABLED", "true")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GRPCHost != "127.0.0.1" || cfg.GRPCPort != 6000 || cfg.GRPCAddr != "127.0.0.1:6000" {
		t.Fatalf("grpc = %q/%d/%q", cfg.GRPCHost, cfg.GRPCPort, cfg.GRPCAddr)
	}
	if cfg.StoreDriver != StoreDriverMemory || cfg.MemorySeedFile != "seed.yaml" {
		t.Fatalf("store = %q/%q", cfg.StoreDriver, cfg.MemorySeedFile)
	}
	if cfg.Location != time.UTC {
		t.Fatalf("Location = %v", cfg.Location)
	}
	if cfg.SlotLockRetries != 1 {
		t.Fatalf("SlotLockRetries = %d, want clamp to 1", cfg.SlotLockRetries)
	}
	if cfg.LockTimeout != 250*time.Millisecond {
		t.Fatalf("LockTimeout = %v", cfg.LockTimeout)
	}
	if !cfg.RedisEnabled || cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redis = %v/%q", cfg.RedisEnabled, cfg.RedisAddr)
	}
	if cfg.OTelSampleRatio != 0.25 {
		t.Fatalf("OTelSampleRatio = %v", cfg.OTelSampleRatio)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "booking.yaml")
	body := []byte("grpc:\n  port: 7000\nbooking:\n  slot_lock_retries: 3\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BOOKING_CONFIG_FILE", path)
	t.Setenv("BOOKING_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GRPCPort != 7000 || cfg.SlotLockRetries != 3 {
		t.Fatalf("file values = %d/%d", cfg.GRPCPort, cfg.SlotLockRetries)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want env to win over file", cfg.LogLevel)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"BOOKING_STORE_DRIVER":      "sqlite",
		"BOOKING_TIMEZONE":          "Mars/Olympus",
		"BOOKING_LOCK_TIMEOUT":      "soon",
		"BOOKING_OTEL_SAMPLE_RATIO": "2",
		"BOOKING_CONFIG_FILE":       "/nonexistent/booking.yaml",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %s=%q expected error", key, value)
			}
		})
	}
}
