// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.secondbrain/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - LLM: provider selection, chat model, embedding model and dimension
//   - Storage: PostgreSQL connection (see storage.go)
//   - Knowledge: chunking and retrieval parameters
//   - Serve: HTTP listen address, CORS, upload directory
//
// Security: sensitive values (passwords, API keys) are masked in MarshalJSON
// and String. Validation is fail-fast with sentinel errors (validation.go).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// LLM provider identifiers used in Config.Provider.
const (
	ProviderAzure    = "azure"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Default knowledge parameters. Chunk size and overlap are in characters;
// the threshold is a cosine similarity (distance cutoff is 1 - threshold).
const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 200
	DefaultSearchLimit   = 5
	DefaultThreshold     = 0.7
	DefaultEmbeddingDim  = 1536
	DefaultReembedQueue  = 1024
	DefaultMaxUploadSize = 50 << 20 // 50MB
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// LLM provider and chat model configuration
	Provider    string  `mapstructure:"provider" json:"provider"` // "azure" (default), "openai", "ollama", "googleai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Provider endpoints and credentials
	AzureEndpoint   string `mapstructure:"azure_endpoint" json:"azure_endpoint"`
	AzureAPIVersion string `mapstructure:"azure_api_version" json:"azure_api_version"`
	OllamaHost      string `mapstructure:"ollama_host" json:"ollama_host"`
	APIKey          string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON

	// Embedding configuration. EmbeddingDim is the dimension of the active
	// embedding model; stored chunks whose embedding_dim differs are repaired
	// by the reembed worker.
	EmbeddingModel string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDim   int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Knowledge parameters
	ChunkSize           int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	SearchLimit         int     `mapstructure:"search_limit" json:"search_limit"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	ReembedQueueSize    int     `mapstructure:"reembed_queue_size" json:"reembed_queue_size"`
	ReconcileOnStart    bool    `mapstructure:"reconcile_on_start" json:"reconcile_on_start"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve configuration
	ListenAddr    string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins   []string `mapstructure:"cors_origins" json:"cors_origins"`
	UploadDir     string   `mapstructure:"upload_dir" json:"upload_dir"`
	MaxUploadSize int64    `mapstructure:"max_upload_size" json:"max_upload_size"`
	RateBurst     int      `mapstructure:"rate_burst" json:"rate_burst"`
	RatePerSecond float64  `mapstructure:"rate_per_second" json:"rate_per_second"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".secondbrain")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// LLM defaults (matching the Azure OpenAI deployment names we run with)
	v.SetDefault("provider", ProviderAzure)
	v.SetDefault("model_name", "gpt-4o-mini")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 2048)
	v.SetDefault("azure_api_version", "2023-12-01-preview")
	v.SetDefault("ollama_host", "http://localhost:11434")

	// Embedding defaults
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)

	// Knowledge defaults
	v.SetDefault("chunk_size", DefaultChunkSize)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("search_limit", DefaultSearchLimit)
	v.SetDefault("similarity_threshold", DefaultThreshold)
	v.SetDefault("reembed_queue_size", DefaultReembedQueue)
	v.SetDefault("reconcile_on_start", true)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "secondbrain")
	v.SetDefault("postgres_password", "secondbrain_dev_password")
	v.SetDefault("postgres_db_name", "secondbrain")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Serve defaults
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("upload_dir", filepath.Join(os.TempDir(), "secondbrain-uploads"))
	v.SetDefault("max_upload_size", int64(DefaultMaxUploadSize))
	v.SetDefault("rate_burst", 60)
	v.SetDefault("rate_per_second", 1.0)
}

// bindEnvVariables binds environment variables explicitly.
// Provider API keys share a single config key: the active provider decides
// which env var wins (AZURE_OPENAI_API_KEY > OPENAI_API_KEY > GEMINI_API_KEY
// is resolved in Load order below, last bind has lowest priority in viper).
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("provider", "SECONDBRAIN_PROVIDER", "LLM_PROVIDER")
	mustBind("model_name", "SECONDBRAIN_MODEL_NAME")
	mustBind("embedding_model", "SECONDBRAIN_EMBEDDING_MODEL")
	mustBind("embedding_dim", "SECONDBRAIN_EMBEDDING_DIM")

	mustBind("azure_endpoint", "AZURE_OPENAI_ENDPOINT")
	mustBind("azure_api_version", "AZURE_OPENAI_API_VERSION")
	mustBind("ollama_host", "OLLAMA_BASE_URL")
	mustBind("api_key", "SECONDBRAIN_API_KEY", "AZURE_OPENAI_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY")

	mustBind("listen_addr", "SECONDBRAIN_LISTEN_ADDR")
	mustBind("cors_origins", "SECONDBRAIN_CORS_ORIGINS")
	mustBind("rate_burst", "SECONDBRAIN_RATE_BURST")
	mustBind("rate_per_second", "SECONDBRAIN_RATE_PER_SECOND")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is not cryptographically secure - if logs are compromised, rotate.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked: PostgresPassword, APIKey.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// DistanceCutoff returns the cosine distance cutoff corresponding to the
// configured similarity threshold (distance < 1 - threshold keeps a result).
func (c *Config) DistanceCutoff() float64 {
	return 1.0 - c.SimilarityThreshold
}
