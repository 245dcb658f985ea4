package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Search embeds the query and returns the most similar chunks.
//
// Two-stage retrieval: the first query keeps only chunks whose cosine
// distance to the query clears the configured cutoff. When that yields
// nothing, a relaxed query returns the few nearest chunks regardless of
// distance, flagged Fallback so callers can frame them as loosely related.
// Which query produced a row decides its Fallback flag; no post-hoc
// distance check is applied.
//
// Only chunks embedded at the active dimension participate: pgvector
// cannot compare vectors of different lengths, and stale-dimension chunks
// are the reconciler's problem, not the searcher's.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]SearchResult, error) {
	cfg := s.buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vectors, err := s.embedder.Embed(queryCtx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	vec := pgvector.NewVector(vectors[0])

	sql, args := buildSearchQuery(vec, s.embedder.Dimension(), cfg, false)
	results, err := s.queryResults(queryCtx, sql, args, false)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 || cfg.noFallback {
		return results, nil
	}

	s.logger.Debug("no chunks above threshold, falling back to nearest neighbors",
		"cutoff", cfg.cutoff)
	sql, args = buildSearchQuery(vec, s.embedder.Dimension(), cfg, true)
	return s.queryResults(queryCtx, sql, args, true)
}

// buildSearchQuery assembles the vector search SQL. The fallback variant
// drops the distance predicate and caps results at fallbackLimit.
func buildSearchQuery(vec pgvector.Vector, dim int, cfg searchConfig, fallback bool) (string, []any) {
	args := []any{vec, dim}

	var b strings.Builder
	b.WriteString(`SELECT c.id, c.document_id, d.title, c.content, c.metadata,
	1 - (c.embedding <=> $1) AS similarity
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.embedding_dim = $2`)

	if cfg.documentID != uuid.Nil {
		args = append(args, cfg.documentID)
		fmt.Fprintf(&b, "\n  AND c.document_id = $%d", len(args))
	}
	if cfg.sourceType != "" {
		args = append(args, cfg.sourceType)
		fmt.Fprintf(&b, "\n  AND d.source_type = $%d", len(args))
	}
	if len(cfg.tagIDs) > 0 {
		args = append(args, cfg.tagIDs)
		fmt.Fprintf(&b, "\n  AND c.document_id IN (SELECT document_id FROM document_tags WHERE tag_id = ANY($%d))", len(args))
	}

	limit := fallbackLimit
	if !fallback {
		args = append(args, cfg.cutoff)
		fmt.Fprintf(&b, "\n  AND (c.embedding <=> $1) < $%d", len(args))
		limit = cfg.limit
	}

	args = append(args, limit)
	fmt.Fprintf(&b, "\nORDER BY c.embedding <=> $1\nLIMIT $%d", len(args))
	return b.String(), args
}

func (s *Store) queryResults(ctx context.Context, sql string, args []any, fallback bool) ([]SearchResult, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metadataJSON []byte
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.DocumentTitle, &r.Content, &metadataJSON, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &r.Metadata); err != nil {
				s.logger.Warn("failed to parse chunk metadata", "chunk_id", r.ChunkID, "error", err)
			}
		}
		r.Fallback = fallback
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}
