package llm

import "errors"

// Sentinel errors for provider failures. Callers branch on these with
// errors.Is to decide between degraded operation (answer without context)
// and a hard failure.
var (
	// ErrEmbeddingUnavailable indicates the embedding provider could not be
	// reached or rejected the request after retries.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrGenerationFailed indicates the chat model failed to produce a
	// completion after retries.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUnsupportedProvider indicates config.Provider names a provider this
	// build does not support.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)
