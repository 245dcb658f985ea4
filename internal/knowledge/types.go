// Package knowledge stores documents as embedded chunks in PostgreSQL +
// pgvector and serves similarity search over them.
package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Source type constants for knowledge documents.
const (
	// SourceTypeFile represents an uploaded file (PDF, DOCX, text).
	SourceTypeFile = "file"

	// SourceTypeNote represents a manually written or edited note.
	SourceTypeNote = "note"

	// SourceTypeConversation represents a saved chat transcript.
	SourceTypeConversation = "conversation"

	// SourceTypeURL represents content fetched from a web page.
	SourceTypeURL = "url"
)

// Sentinel errors returned by Store operations.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrChunkNotFound    = errors.New("chunk not found")
)

// Document is the metadata row for an ingested source. Content lives in
// its chunks.
type Document struct {
	ID         uuid.UUID      `json:"id"`
	Title      string         `json:"title"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
	FileSize   int64          `json:"file_size,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewDocument carries the caller-supplied fields for document creation.
type NewDocument struct {
	Title      string
	SourceType string
	SourceID   string
	Filename   string
	FileType   string
	FileSize   int64
	Metadata   map[string]any
}

// ChunkMetadata is the typed shape of the chunk metadata JSONB column.
// Start and End are the chunk's half-open rune span within its source
// page (or within the whole source when the source has no pages).
type ChunkMetadata struct {
	Page       int         `json:"page,omitempty"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	MessageIDs []uuid.UUID `json:"message_ids,omitempty"`
}

// Chunk is one embedded piece of a document.
type Chunk struct {
	ID             uuid.UUID     `json:"id"`
	DocumentID     uuid.UUID     `json:"document_id"`
	Content        string        `json:"content"`
	Index          int           `json:"chunk_index"`
	TokenCount     int           `json:"token_count"`
	EmbeddingModel string        `json:"embedding_model"`
	EmbeddingDim   int           `json:"embedding_dim"`
	Metadata       ChunkMetadata `json:"metadata"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SearchResult is one chunk returned by similarity search.
//
// Fallback marks results produced by the relaxed query that runs when no
// chunk clears the similarity threshold: the engine still returns the
// nearest few so the answer can be framed as loosely related rather than
// failing with nothing.
type SearchResult struct {
	ChunkID       uuid.UUID     `json:"chunk_id"`
	DocumentID    uuid.UUID     `json:"document_id"`
	DocumentTitle string        `json:"document_title"`
	Content       string        `json:"content"`
	Metadata      ChunkMetadata `json:"metadata"`
	Similarity    float64       `json:"similarity"`
	Fallback      bool          `json:"fallback"`
}
