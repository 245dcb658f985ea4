// Package chat persists conversations and runs the retrieval-augmented
// answer pipeline: retrieve, cite, stream, persist.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/citation"
)

// Sentinel errors returned by chat operations.
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyChat       = errors.New("chat has no messages")
)

// Chat is one conversation.
type Chat struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one turn of a conversation.
type Message struct {
	ID         uuid.UUID `json:"id"`
	ChatID     uuid.UUID `json:"chat_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Answer is the completed result of one answer pipeline run.
type Answer struct {
	MessageID uuid.UUID        `json:"message_id"`
	Content   string           `json:"content"` // citation markers rewritten to links
	Citations []citation.Entry `json:"citations"`

	// Degraded is set when retrieval failed and the answer was generated
	// without knowledge context.
	Degraded bool `json:"degraded"`

	// Fallback is set when no chunk cleared the similarity threshold and
	// the context came from the relaxed nearest-neighbor query.
	Fallback bool `json:"fallback"`
}
