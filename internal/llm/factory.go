package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/secondbrain-app/secondbrain/internal/config"
)

// Client bundles the two provider capabilities every pipeline component
// needs. Both concrete clients satisfy it.
type Client interface {
	Embedder
	StreamCompleter
}

// providerRequestsPerSecond caps outbound provider calls. Shared between
// chat and embedding traffic so a bulk ingest cannot starve chat.
const providerRequestsPerSecond = 5

// New builds the provider client selected by cfg.Provider.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Every(time.Second/providerRequestsPerSecond), providerRequestsPerSecond)

	switch cfg.Provider {
	case config.ProviderAzure, config.ProviderOpenAI, config.ProviderOllama:
		return NewOpenAIClient(cfg, limiter, logger)
	case config.ProviderGoogleAI:
		return NewGoogleAIClient(ctx, cfg, limiter, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
