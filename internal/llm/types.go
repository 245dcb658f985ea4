// Package llm abstracts the chat-completion and embedding providers behind
// two small interfaces. Concrete clients exist for the OpenAI-compatible
// family (Azure OpenAI, OpenAI, Ollama via its /v1 endpoint) and for the
// Gemini API. Construction is driven by config.Provider (see factory.go).
package llm

import "context"

// Message roles. These match the wire roles of the OpenAI chat API; the
// Gemini client translates them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder converts text into embedding vectors.
//
// Embed returns one vector per input, in input order. All vectors have
// exactly Dimension() elements. A batch is all-or-nothing: on error no
// partial results are returned.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector length this embedder produces.
	Dimension() int

	// ModelName identifies the embedding model, recorded per chunk so a
	// later model switch can find stale embeddings.
	ModelName() string
}

// StreamCompleter generates chat completions.
//
// Stream invokes onDelta for each token fragment as it arrives and returns
// the accumulated full text. If onDelta returns an error, streaming stops
// and that error is returned.
type StreamCompleter interface {
	Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)

	// Complete is the non-streaming variant, used for auto-titling and
	// other short internal generations.
	Complete(ctx context.Context, messages []Message) (string, error)
}
