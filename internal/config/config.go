// Package config provides configuration loading for the library core.
//
// Configuration is loaded from hardcoded defaults, an optional YAML file, and
// environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete library core configuration.
type Config struct {
	Production  ProductionConfig
	Server      ServerConfig
	Observability ObservabilityConfig
	Storage     StorageConfig
	Duplicate   DuplicateConfig
	Learning    LearningConfig
	Librarian   LibrarianConfig
	Circulation CirculationConfig
	Embedding   EmbeddingConfig
	TextGen     TextGenConfig
}

// StorageConfig holds StorageBackend configuration.
type StorageConfig struct {
	// Backend selects the StorageBackend implementation: "file" (default,
	// gzip + tagged binary sections), "chromem" (embedded vector-native
	// store), or "qdrant" (remote mirror, write-through only).
	Backend string `koanf:"backend"`

	// Path is the snapshot file path for the "file" backend, or the
	// directory for the "chromem" backend.
	// Default: "~/.config/librarycore/store.bin"
	Path string `koanf:"path"`

	// AtomicWrites enables temp-file + rename writes (default: true).
	AtomicWrites bool `koanf:"atomic_writes"`

	// Gzip enables gzip wrapping of the outer snapshot (default: true).
	Gzip bool `koanf:"gzip"`

	// DebounceInterval is how long Stacks waits after a mutation before
	// persisting (default: 2s).
	DebounceInterval time.Duration `koanf:"debounce_interval"`

	// VectorDimension is the expected embedding dimension. The first
	// inserted volume fixes it for the lifetime of the store.
	VectorDimension int `koanf:"vector_dimension"`

	Qdrant QdrantMirrorConfig `koanf:"qdrant"`
}

// QdrantMirrorConfig configures the optional write-through Qdrant mirror.
type QdrantMirrorConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	CollectionName string `koanf:"collection_name"`
}

// DuplicateConfig holds Stacks' duplicate-policy configuration (spec.md §4.6).
type DuplicateConfig struct {
	// Threshold in [0,1]; 0 disables duplicate detection.
	Threshold float64 `koanf:"threshold"`

	// Behavior is one of "skip", "warn", "error".
	Behavior string `koanf:"behavior"`
}

// LearningConfig holds LearningEngine defaults (spec.md §4.5).
type LearningConfig struct {
	// Decay is the exponential-moving-average decay for interest embeddings.
	Decay float64 `koanf:"decay"`

	// MinQueriesForSignal is the minimum observed-query count before
	// interest embeddings / adapted weights deviate from defaults.
	MinQueriesForSignal int `koanf:"min_queries_for_signal"`

	// DefaultWeights is the {vector, recency, frequency} ranking profile
	// used below MinQueriesForSignal.
	DefaultVectorWeight    float64 `koanf:"default_vector_weight"`
	DefaultRecencyWeight   float64 `koanf:"default_recency_weight"`
	DefaultFrequencyWeight float64 `koanf:"default_frequency_weight"`
}

// LibrarianConfig holds LibrarianRegistry configuration (spec.md §4.8).
type LibrarianConfig struct {
	// DefinitionsDir is the directory scanned at startup (and, if
	// HotReload is set, watched) for LibrarianDefinition JSON files.
	DefinitionsDir string `koanf:"definitions_dir"`

	// HotReload enables an fsnotify watch on DefinitionsDir.
	HotReload bool `koanf:"hot_reload"`

	// SelfResolutionGap is the confidence-gap threshold for bidding
	// self-resolution (default 0.3).
	SelfResolutionGap float64 `koanf:"self_resolution_gap"`
}

// CirculationConfig holds CirculationDesk thresholds (spec.md §4.9).
type CirculationConfig struct {
	TopicComplexityThreshold int `koanf:"topic_complexity_threshold"`
	EscalateAtThreshold      int `koanf:"escalate_at_threshold"`
	GlobalThreshold          int `koanf:"global_threshold"`
	MaxVolumesPerTopic       int `koanf:"max_volumes_per_topic"`
	MinEntriesForCompendium  int `koanf:"min_entries_for_compendium"`
}

// EmbeddingConfig configures the injected Embedding Provider.
type EmbeddingConfig struct {
	Provider string `koanf:"provider"` // "tei", "langchain", "fastembed"
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// TextGenConfig configures the injected Text Generation Provider.
type TextGenConfig struct {
	Provider string        `koanf:"provider"` // "anthropic", "openai"
	BaseURL  string        `koanf:"base_url"`
	Model    string        `koanf:"model"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
}

// ServerConfig holds the demo binary's HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry   bool   `koanf:"enable_telemetry"`
	ServiceName       string `koanf:"service_name"`
	OTLPEndpoint      string `koanf:"otlp_endpoint"`
	OTLPProtocol      string `koanf:"otlp_protocol"`
	OTLPInsecure      bool   `koanf:"otlp_insecure"`
	OTLPTLSSkipVerify bool   `koanf:"otlp_tls_skip_verify"`
}

// ProductionConfig holds production deployment safety checks.
type ProductionConfig struct {
	Enabled                  bool `koanf:"enabled"`
	LocalModeAcknowledged    bool `koanf:"local_mode_acknowledged"`
	RequireAuthentication    bool `koanf:"require_authentication"`
	AuthenticationConfigured bool `koanf:"authentication_configured"`
	RequireTLS               bool `koanf:"require_tls"`
}

// IsProduction returns true if running in production mode.
func (c *ProductionConfig) IsProduction() bool { return c.Enabled }

// Validate checks production configuration for security issues.
func (c *ProductionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RequireAuthentication && !c.AuthenticationConfigured {
		return fmt.Errorf("SECURITY: RequireAuthentication enabled but authentication not configured")
	}
	return nil
}

// Load loads configuration from environment variables with defaults.
//
// Quick Start - Most commonly configured env vars:
//
//   - STORAGE_PATH: Snapshot file path (default: ~/.config/librarycore/store.bin)
//   - STORAGE_BACKEND: file (default), chromem, or qdrant
//   - EMBEDDING_PROVIDER: tei (default, remote), langchain, or fastembed (local)
//   - TEXTGEN_PROVIDER: anthropic (default) or openai
//   - LIBRARYCORE_PRODUCTION_MODE: Enable production safety checks (default: false)
func Load() *Config {
	cfg := &Config{
		Production: ProductionConfig{
			Enabled:               getEnvBool("LIBRARYCORE_PRODUCTION_MODE", false),
			LocalModeAcknowledged: getEnvBool("LIBRARYCORE_LOCAL_MODE", false),
			RequireAuthentication: getEnvBool("LIBRARYCORE_REQUIRE_AUTH", false),
			RequireTLS:            getEnvBool("LIBRARYCORE_REQUIRE_TLS", false),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9191),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", false),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "librarycore"),
		},
		Storage: StorageConfig{
			Backend:          getEnvString("STORAGE_BACKEND", "file"),
			Path:             getEnvString("STORAGE_PATH", "~/.config/librarycore/store.bin"),
			AtomicWrites:     getEnvBool("STORAGE_ATOMIC_WRITES", true),
			Gzip:             getEnvBool("STORAGE_GZIP", true),
			DebounceInterval: getEnvDuration("STORAGE_DEBOUNCE_INTERVAL", 2*time.Second),
			VectorDimension:  getEnvInt("STORAGE_VECTOR_DIMENSION", 384),
			Qdrant: QdrantMirrorConfig{
				Enabled:        getEnvBool("STORAGE_QDRANT_ENABLED", false),
				Host:           getEnvString("STORAGE_QDRANT_HOST", "localhost"),
				Port:           getEnvInt("STORAGE_QDRANT_PORT", 6334),
				CollectionName: getEnvString("STORAGE_QDRANT_COLLECTION", "librarycore"),
			},
		},
		Duplicate: DuplicateConfig{
			Threshold: getEnvFloat("DUPLICATE_THRESHOLD", 0.92),
			Behavior:  getEnvString("DUPLICATE_BEHAVIOR", "skip"),
		},
		Learning: LearningConfig{
			Decay:                  getEnvFloat("LEARNING_DECAY", 0.95),
			MinQueriesForSignal:    getEnvInt("LEARNING_MIN_QUERIES", 10),
			DefaultVectorWeight:    getEnvFloat("LEARNING_DEFAULT_VECTOR_WEIGHT", 0.6),
			DefaultRecencyWeight:   getEnvFloat("LEARNING_DEFAULT_RECENCY_WEIGHT", 0.2),
			DefaultFrequencyWeight: getEnvFloat("LEARNING_DEFAULT_FREQUENCY_WEIGHT", 0.2),
		},
		Librarian: LibrarianConfig{
			DefinitionsDir:    getEnvString("LIBRARIAN_DEFINITIONS_DIR", "~/.config/librarycore/librarians"),
			HotReload:         getEnvBool("LIBRARIAN_HOT_RELOAD", true),
			SelfResolutionGap: getEnvFloat("LIBRARIAN_SELF_RESOLUTION_GAP", 0.3),
		},
		Circulation: CirculationConfig{
			TopicComplexityThreshold: getEnvInt("CIRCULATION_TOPIC_COMPLEXITY_THRESHOLD", 50),
			EscalateAtThreshold:      getEnvInt("CIRCULATION_ESCALATE_AT_THRESHOLD", 20),
			GlobalThreshold:          getEnvInt("CIRCULATION_GLOBAL_THRESHOLD", 500),
			MaxVolumesPerTopic:       getEnvInt("CIRCULATION_MAX_VOLUMES_PER_TOPIC", 200),
			MinEntriesForCompendium:  getEnvInt("CIRCULATION_MIN_ENTRIES_COMPENDIUM", 5),
		},
		Embedding: EmbeddingConfig{
			Provider: getEnvString("EMBEDDING_PROVIDER", "tei"),
			BaseURL:  getEnvString("EMBEDDING_BASE_URL", "http://localhost:8080"),
			Model:    getEnvString("EMBEDDING_MODEL", "BAAI/bge-small-en-v1.5"),
			APIKey:   getEnvString("EMBEDDING_API_KEY", ""),
			CacheDir: getEnvString("EMBEDDING_CACHE_DIR", ""),
		},
		TextGen: TextGenConfig{
			Provider: getEnvString("TEXTGEN_PROVIDER", "anthropic"),
			BaseURL:  getEnvString("TEXTGEN_BASE_URL", ""),
			Model:    getEnvString("TEXTGEN_MODEL", "claude-3-5-haiku-latest"),
			APIKey:   getEnvString("TEXTGEN_API_KEY", ""),
			Timeout:  getEnvDuration("TEXTGEN_TIMEOUT", 30*time.Second),
		},
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	switch c.Storage.Backend {
	case "file", "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported storage backend: %s (supported: file, chromem, qdrant)", c.Storage.Backend)
	}
	if err := validatePath(c.Storage.Path); err != nil {
		return fmt.Errorf("invalid STORAGE_PATH: %w", err)
	}
	if c.Storage.VectorDimension <= 0 {
		return fmt.Errorf("STORAGE_VECTOR_DIMENSION must be positive, got %d", c.Storage.VectorDimension)
	}
	if err := validateHostname(c.Storage.Qdrant.Host); err != nil {
		return fmt.Errorf("invalid STORAGE_QDRANT_HOST: %w", err)
	}

	switch c.Duplicate.Behavior {
	case "skip", "warn", "error":
	default:
		return fmt.Errorf("invalid DUPLICATE_BEHAVIOR: %q (must be skip, warn, or error)", c.Duplicate.Behavior)
	}
	if c.Duplicate.Threshold < 0 || c.Duplicate.Threshold > 1 {
		return fmt.Errorf("DUPLICATE_THRESHOLD must be in [0,1], got %f", c.Duplicate.Threshold)
	}

	if err := validatePath(c.Librarian.DefinitionsDir); err != nil {
		return fmt.Errorf("invalid LIBRARIAN_DEFINITIONS_DIR: %w", err)
	}

	if c.Embedding.BaseURL != "" {
		if err := validateURL(c.Embedding.BaseURL); err != nil {
			return fmt.Errorf("invalid EMBEDDING_BASE_URL: %w", err)
		}
	}
	if c.TextGen.BaseURL != "" {
		if err := validateURL(c.TextGen.BaseURL); err != nil {
			return fmt.Errorf("invalid TEXTGEN_BASE_URL: %w", err)
		}
	}

	if err := c.Production.Validate(); err != nil {
		return fmt.Errorf("production config validation failed: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// validateHostname checks if a hostname is safe (no command injection attempts).
func validateHostname(host string) error {
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format: %s", host)
	}
	invalidChars := []string{";", "\n", "\r", "$", "`", "|", "&", "<", ">", "(", ")"}
	for _, char := range invalidChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("invalid hostname: contains forbidden character %q", char)
		}
	}
	return nil
}

// validatePath checks if a path is safe (no path traversal).
func validatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence: %s", path)
	}
	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		origDepth := strings.Count(path, string(filepath.Separator))
		cleanDepth := strings.Count(clean, string(filepath.Separator))
		if cleanDepth < origDepth-1 {
			return fmt.Errorf("path traversal detected: %s (resolves to %s)", path, clean)
		}
	}
	return nil
}

// validateURL checks if a URL uses allowed schemes (http/https only).
func validateURL(urlStr string) error {
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return fmt.Errorf("URL must use http:// or https:// scheme, got: %s", urlStr)
	}
	return nil
}
