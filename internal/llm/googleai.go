package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/secondbrain-app/secondbrain/internal/config"
)

// GoogleAIClient implements Embedder and StreamCompleter against the
// Gemini API via the official genai SDK.
type GoogleAIClient struct {
	client      *genai.Client
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
	_ Embedder        = (*GoogleAIClient)(nil)
	_ StreamCompleter = (*GoogleAIClient)(nil)
)

// NewGoogleAIClient builds a Gemini-backed client.
func NewGoogleAIClient(ctx context.Context, cfg *config.Config, limiter *rate.Limiter, logger *slog.Logger) (*GoogleAIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GoogleAIClient{
		client:      client,
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
func (c *GoogleAIClient) Dimension() int { return c.dim }

// ModelName returns the embedding model identifier.
func (c *GoogleAIClient) ModelName() string { return c.embedModel }

// Embed embeds texts as a single batch request, in input order.
func (c *GoogleAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(c.dim)
	resp, err := withRetry(ctx, c.retry, c.limiter, c.logger, "embed content",
		func() (*genai.EmbedContentResponse, error) {
			return c.client.Models.EmbedContent(ctx, c.embedModel, contents,
				&genai.EmbedContentConfig{OutputDimensionality: &dim})
		})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrEmbeddingUnavailable, i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Complete generates a non-streaming completion.
func (c *GoogleAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	contents, cfg := c.convert(messages)

	resp, err := withRetry(ctx, c.retry, c.limiter, c.logger, "generate content",
		func() (*genai.GenerateContentResponse, error) {
			return c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
		})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return resp.Text(), nil
}

// Stream generates a streaming completion, invoking onDelta per fragment.
// The stream iterator cannot be replayed, so mid-stream failures are not
// retried.
func (c *GoogleAIClient) Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error) {
	contents, cfg := c.convert(messages)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var full strings.Builder
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return full.String(), fmt.Errorf("%w: receiving stream: %v", ErrGenerationFailed, err)
		}
		delta := resp.Text()
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

// convert maps chat messages onto genai contents. System messages become
// the system instruction; assistant turns use the model role.
func (c *GoogleAIClient) convert(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: int32(c.maxTokens),
	}

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, cfg
}
