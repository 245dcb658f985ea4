package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// embedBatchSize caps how many chunk contents go into a single provider
// embedding request.
const embedBatchSize = 100

// chunkCols is the standard SELECT column list for scanChunk.
const chunkCols = `id, document_id, content, chunk_index, token_count,
	embedding_model, embedding_dim, metadata, created_at`

const insertChunkSQL = `INSERT INTO document_chunks
	(id, document_id, content, chunk_index, token_count, embedding, embedding_model, embedding_dim, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Store manages documents and their embedded chunks.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool           *pgxpool.Pool
	embedder       llm.Embedder
	searchLimit    int
	distanceCutoff float64
	logger         *slog.Logger
}

// NewStore creates a Store. searchLimit and similarityThreshold become the
// defaults for Search; options override them per call.
func NewStore(pool *pgxpool.Pool, embedder llm.Embedder, searchLimit int, similarityThreshold float64, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:           pool,
		embedder:       embedder,
		searchLimit:    searchLimit,
		distanceCutoff: 1 - similarityThreshold,
		logger:         logger,
	}, nil
}

// embedPieces embeds piece contents in batches, preserving order.
func (s *Store) embedPieces(ctx context.Context, pieces []chunk.Piece) ([][]float32, error) {
	vectors := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pieces))
		texts := make([]string, 0, end-start)
		for _, p := range pieces[start:end] {
			texts = append(texts, p.Content)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// CreateDocument embeds pieces and persists the document with its chunks
// in one transaction. Embedding happens before the transaction opens so a
// slow provider never holds a database connection.
func (s *Store) CreateDocument(ctx context.Context, doc NewDocument, pieces []chunk.Piece) (*Document, error) {
	vectors, err := s.embedPieces(ctx, pieces)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	metadataJSON, err := json.Marshal(orEmptyMap(doc.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshaling document metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var created Document
	err = tx.QueryRow(ctx, `INSERT INTO documents
		(id, title, source_type, source_id, filename, file_type, file_size, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		id, doc.Title, doc.SourceType, nullIfEmpty(doc.SourceID),
		nullIfEmpty(doc.Filename), nullIfEmpty(doc.FileType), doc.FileSize, metadataJSON,
	).Scan(&created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	if err := s.insertChunks(ctx, tx, id, pieces, vectors); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing document: %w", err)
	}

	created.ID = id
	created.Title = doc.Title
	created.SourceType = doc.SourceType
	created.SourceID = doc.SourceID
	created.Filename = doc.Filename
	created.FileType = doc.FileType
	created.FileSize = doc.FileSize
	created.Metadata = doc.Metadata
	created.ChunkCount = len(pieces)

	s.logger.Info("document created",
		"document_id", id, "title", doc.Title, "chunks", len(pieces))
	return &created, nil
}

// ReplaceChunks re-embeds pieces and swaps out every chunk of the document
// atomically. Used when a note's content is edited and the old chunking no
// longer matches.
func (s *Store) ReplaceChunks(ctx context.Context, documentID uuid.UUID, pieces []chunk.Piece) error {
	vectors, err := s.embedPieces(ctx, pieces)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE documents SET updated_at = now() WHERE id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("touching document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("deleting old chunks: %w", err)
	}
	if err := s.insertChunks(ctx, tx, documentID, pieces, vectors); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}

	s.logger.Info("chunks replaced", "document_id", documentID, "chunks", len(pieces))
	return nil
}

func (s *Store) insertChunks(ctx context.Context, q querier, documentID uuid.UUID, pieces []chunk.Piece, vectors [][]float32) error {
	if len(pieces) != len(vectors) {
		return fmt.Errorf("piece/vector count mismatch: %d vs %d", len(pieces), len(vectors))
	}
	model := s.embedder.ModelName()
	for i, p := range pieces {
		metadataJSON, err := json.Marshal(ChunkMetadata{
			Page:       p.Page,
			Start:      p.Start,
			End:        p.End,
			MessageIDs: p.MessageIDs,
		})
		if err != nil {
			return fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		_, err = q.Exec(ctx, insertChunkSQL,
			uuid.New(), documentID, p.Content, p.Index, llm.EstimateTokens(p.Content),
			pgvector.NewVector(vectors[i]), model, len(vectors[i]), metadataJSON)
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", p.Index, err)
		}
	}
	return nil
}

// UpdateChunkContent replaces one chunk's text and re-embeds it inline.
// The caller sees the fully repaired chunk or an error, never stale text
// with a stale vector.
func (s *Store) UpdateChunkContent(ctx context.Context, chunkID uuid.UUID, content string) (*Chunk, error) {
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return nil, fmt.Errorf("embedding chunk content: %w", err)
	}
	vec := vectors[0]

	row := s.pool.QueryRow(ctx, `UPDATE document_chunks
		SET content = $2, embedding = $3, embedding_model = $4, embedding_dim = $5, token_count = $6
		WHERE id = $1
		RETURNING `+chunkCols,
		chunkID, content, pgvector.NewVector(vec), s.embedder.ModelName(), len(vec), llm.EstimateTokens(content))

	updated, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
		}
		return nil, fmt.Errorf("updating chunk %s: %w", chunkID, err)
	}

	s.logger.Debug("chunk updated", "chunk_id", chunkID, "dim", len(vec))
	return updated, nil
}

// UpdateEmbedding stores a repaired vector for a chunk. The recorded
// dimension always follows the vector actually stored.
func (s *Store) UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32, model string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE document_chunks
		SET embedding = $2, embedding_model = $3, embedding_dim = $4
		WHERE id = $1`,
		chunkID, pgvector.NewVector(vec), model, len(vec))
	if err != nil {
		return fmt.Errorf("updating embedding for chunk %s: %w", chunkID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	return nil
}

// ChunkContent fetches just the text of a chunk.
func (s *Store) ChunkContent(ctx context.Context, chunkID uuid.UUID) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM document_chunks WHERE id = $1`, chunkID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrChunkNotFound, chunkID)
	}
	if err != nil {
		return "", fmt.Errorf("fetching chunk %s: %w", chunkID, err)
	}
	return content, nil
}

// StaleChunk is a chunk whose stored embedding no longer matches the
// active model or dimension.
type StaleChunk struct {
	ID             uuid.UUID
	Content        string
	Embedding      []float32
	EmbeddingModel string
	EmbeddingDim   int
}

// ListStale returns chunks whose embedding model or dimension differs
// from the given active values, oldest first.
func (s *Store) ListStale(ctx context.Context, model string, dim int, limit int) ([]StaleChunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, content, embedding, embedding_model, embedding_dim
		FROM document_chunks
		WHERE embedding_dim <> $1 OR embedding_model <> $2
		ORDER BY created_at
		LIMIT $3`, dim, model, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale chunks: %w", err)
	}
	defer rows.Close()

	var stale []StaleChunk
	for rows.Next() {
		var c StaleChunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.Content, &vec, &c.EmbeddingModel, &c.EmbeddingDim); err != nil {
			return nil, fmt.Errorf("scanning stale chunk: %w", err)
		}
		c.Embedding = vec.Slice()
		stale = append(stale, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale chunks: %w", err)
	}
	return stale, nil
}

// GetDocument fetches a document with its chunk count.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT d.id, d.title, d.source_type,
		COALESCE(d.source_id, ''), COALESCE(d.filename, ''), COALESCE(d.file_type, ''),
		COALESCE(d.file_size, 0), d.metadata, d.created_at, d.updated_at,
		(SELECT count(*) FROM document_chunks c WHERE c.document_id = d.id)
		FROM documents d WHERE d.id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return nil, fmt.Errorf("fetching document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	const maxListLimit = 1000
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
	}

	rows, err := s.pool.Query(ctx, `SELECT d.id, d.title, d.source_type,
		COALESCE(d.source_id, ''), COALESCE(d.filename, ''), COALESCE(d.file_type, ''),
		COALESCE(d.file_size, 0), d.metadata, d.created_at, d.updated_at,
		(SELECT count(*) FROM document_chunks c WHERE c.document_id = d.id)
		FROM documents d
		ORDER BY d.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// ListChunks returns a document's chunks in index order, embeddings omitted.
func (s *Store) ListChunks(ctx context.Context, documentID uuid.UUID) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+chunkCols+`
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// DeleteDocument removes a document; chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	s.logger.Info("document deleted", "document_id", id)
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	var metadataJSON []byte
	err := row.Scan(&d.ID, &d.Title, &d.SourceType, &d.SourceID, &d.Filename,
		&d.FileType, &d.FileSize, &metadataJSON, &d.CreatedAt, &d.UpdatedAt, &d.ChunkCount)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &d.Metadata); err != nil {
			d.Metadata = nil
		}
	}
	return &d, nil
}

func scanChunk(row pgx.Row) (*Chunk, error) {
	var c Chunk
	var metadataJSON []byte
	err := row.Scan(&c.ID, &c.DocumentID, &c.Content, &c.Index, &c.TokenCount,
		&c.EmbeddingModel, &c.EmbeddingDim, &metadataJSON, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &c.Metadata); err != nil {
			c.Metadata = ChunkMetadata{}
		}
	}
	return &c, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
