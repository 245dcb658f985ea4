package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/secondbrain-app/secondbrain/internal/config"
)

// OpenAIClient implements Embedder and StreamCompleter against any
// OpenAI-compatible API: Azure OpenAI, OpenAI itself, or Ollama through
// its /v1 compatibility endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	embedModel  string
	dim         int
	temperature float32
	maxTokens   int
	retry       RetryConfig
	limiter     *rate.Limiter
	logger      *slog.Logger
}

var (
	_ Embedder        = (*OpenAIClient)(nil)
	_ StreamCompleter = (*OpenAIClient)(nil)
)

// NewOpenAIClient builds a client for cfg.Provider. Supported providers:
// azure, openai, ollama.
func NewOpenAIClient(cfg *config.Config, limiter *rate.Limiter, logger *slog.Logger) (*OpenAIClient, error) {
	var clientCfg openai.ClientConfig

	switch cfg.Provider {
	case config.ProviderAzure:
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.AzureAPIVersion != "" {
			clientCfg.APIVersion = cfg.AzureAPIVersion
		}
	case config.ProviderOpenAI:
		clientCfg = openai.DefaultConfig(cfg.APIKey)
	case config.ProviderOllama:
		// Ollama exposes an OpenAI-compatible surface under /v1 and
		// ignores the API key.
		clientCfg = openai.DefaultConfig("ollama")
		clientCfg.BaseURL = strings.TrimRight(cfg.OllamaHost, "/") + "/v1"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.ModelName,
		embedModel:  cfg.EmbeddingModel,
		dim:         cfg.EmbeddingDim,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       DefaultRetryConfig(),
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// Dimension returns the configured embedding dimension.
func (c *OpenAIClient) Dimension() int { return c.dim }

// ModelName returns the embedding model identifier.
func (c *OpenAIClient) ModelName() string { return c.embedModel }

// Embed embeds texts as a single batch request. Results are returned in
// input order regardless of the order the API responds with.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	}
	// Only third-generation OpenAI embedding models accept an explicit
	// dimensions parameter; older models and Ollama reject it.
	if strings.HasPrefix(c.embedModel, "text-embedding-3") {
		req.Dimensions = c.dim
	}

	resp, err := withRetry(ctx, c.retry, c.limiter, c.logger, "create embeddings",
		func() (openai.EmbeddingResponse, error) {
			return c.client.CreateEmbeddings(ctx, req)
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool {
		return resp.Data[i].Index < resp.Data[j].Index
	})

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Complete generates a non-streaming completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := withRetry(ctx, c.retry, c.limiter, c.logger, "chat completion",
		func() (openai.ChatCompletionResponse, error) {
			return c.client.CreateChatCompletion(ctx, c.chatRequest(messages, false))
		})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream generates a streaming completion, invoking onDelta per fragment.
// Only stream creation is retried; once tokens have been delivered a
// mid-stream failure is returned as-is because deltas cannot be replayed.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	stream, err := withRetry(ctx, c.retry, c.limiter, c.logger, "chat stream",
		func() (*openai.ChatCompletionStream, error) {
			return c.client.CreateChatCompletionStream(ctx, c.chatRequest(messages, true))
		})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return full.String(), fmt.Errorf("%w: receiving stream: %v", ErrGenerationFailed, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

func (c *OpenAIClient) chatRequest(messages []Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}
}
