package config

import (
	"os"
	"testing"
	"time"
)

var envKeys = []string{
	"LIBRARYCORE_PRODUCTION_MODE", "LIBRARYCORE_LOCAL_MODE", "LIBRARYCORE_REQUIRE_AUTH",
	"LIBRARYCORE_REQUIRE_TLS", "SERVER_PORT", "SERVER_SHUTDOWN_TIMEOUT",
	"OTEL_ENABLE", "OTEL_SERVICE_NAME", "STORAGE_BACKEND", "STORAGE_PATH",
	"STORAGE_ATOMIC_WRITES", "STORAGE_GZIP", "STORAGE_DEBOUNCE_INTERVAL",
	"STORAGE_VECTOR_DIMENSION", "STORAGE_QDRANT_ENABLED", "STORAGE_QDRANT_HOST",
	"STORAGE_QDRANT_PORT", "STORAGE_QDRANT_COLLECTION", "DUPLICATE_THRESHOLD",
	"DUPLICATE_BEHAVIOR", "LEARNING_DECAY", "LEARNING_MIN_QUERIES",
	"LIBRARIAN_DEFINITIONS_DIR", "LIBRARIAN_HOT_RELOAD", "LIBRARIAN_SELF_RESOLUTION_GAP",
	"CIRCULATION_TOPIC_COMPLEXITY_THRESHOLD", "CIRCULATION_ESCALATE_AT_THRESHOLD",
	"CIRCULATION_GLOBAL_THRESHOLD", "CIRCULATION_MAX_VOLUMES_PER_TOPIC",
	"CIRCULATION_MIN_ENTRIES_COMPENDIUM", "EMBEDDING_PROVIDER", "EMBEDDING_BASE_URL",
	"EMBEDDING_MODEL", "EMBEDDING_API_KEY", "TEXTGEN_PROVIDER", "TEXTGEN_BASE_URL",
	"TEXTGEN_MODEL", "TEXTGEN_API_KEY",
}

func saveEnv() map[string]string {
	saved := make(map[string]string, len(envKeys))
	for _, k := range envKeys {
		saved[k] = os.Getenv(k)
	}
	return saved
}

func restoreEnv(saved map[string]string) {
	for k, v := range saved {
		if v == "" {
			os.Unsetenv(k)
			continue
		}
		os.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	defer restoreEnv(saveEnv())
	for _, k := range envKeys {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Observability.EnableTelemetry {
		t.Error("Observability.EnableTelemetry = true, want false by default")
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Storage.DebounceInterval != 2*time.Second {
		t.Errorf("Storage.DebounceInterval = %v, want 2s", cfg.Storage.DebounceInterval)
	}
	if cfg.Duplicate.Behavior != "skip" {
		t.Errorf("Duplicate.Behavior = %q, want skip", cfg.Duplicate.Behavior)
	}
	if cfg.Learning.Decay != 0.95 {
		t.Errorf("Learning.Decay = %f, want 0.95", cfg.Learning.Decay)
	}
	if cfg.Librarian.SelfResolutionGap != 0.3 {
		t.Errorf("Librarian.SelfResolutionGap = %f, want 0.3", cfg.Librarian.SelfResolutionGap)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	defer restoreEnv(saveEnv())
	os.Setenv("SERVER_PORT", "7000")
	os.Setenv("STORAGE_BACKEND", "chromem")
	os.Setenv("DUPLICATE_BEHAVIOR", "warn")

	cfg := Load()

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "chromem" {
		t.Errorf("Storage.Backend = %q, want chromem", cfg.Storage.Backend)
	}
	if cfg.Duplicate.Behavior != "warn" {
		t.Errorf("Duplicate.Behavior = %q, want warn", cfg.Duplicate.Behavior)
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := Load()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}
}

func TestValidate_RejectsBadDuplicateBehavior(t *testing.T) {
	cfg := Load()
	cfg.Duplicate.Behavior = "explode"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid duplicate behavior")
	}
}

func TestValidate_RejectsBadStorageBackend(t *testing.T) {
	cfg := Load()
	cfg.Storage.Backend = "magic"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid storage backend")
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}
