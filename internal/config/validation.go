package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel errors for configuration validation.
// Wrap with context using fmt.Errorf("%w: details", ErrXxx) and check
// with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the LLM provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingAzureEndpoint indicates the Azure endpoint is not configured.
	ErrMissingAzureEndpoint = errors.New("missing Azure OpenAI endpoint")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbeddingModel indicates the embedding model is empty.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// validSSLModes are the sslmode values accepted by libpq/pgx.
var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks the configuration for consistency. It is called by Load
// (fail-fast) and may be called again after programmatic mutation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderAzure:
		if strings.TrimSpace(c.AzureEndpoint) == "" {
			return fmt.Errorf("%w: set AZURE_OPENAI_ENDPOINT", ErrMissingAzureEndpoint)
		}
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: set AZURE_OPENAI_API_KEY", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
		}
	case ProviderGoogleAI:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
		}
	case ProviderOllama:
		u, err := url.Parse(c.OllamaHost)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (expected azure, openai, ollama or googleai)", ErrInvalidProvider, c.Provider)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (expected 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return ErrInvalidEmbeddingModel
	}
	// pgvector supports up to 16000 dimensions for the vector type
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 16000 {
		return fmt.Errorf("%w: %d (expected 1-16000)", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size %d", ErrInvalidChunking, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v (expected 0.0-1.0)", ErrInvalidThreshold, c.SimilarityThreshold)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return ErrInvalidPostgresDBName
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}
