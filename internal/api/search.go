package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
)

// Searcher runs similarity search. Satisfied by *knowledge.Store.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.SearchResult, error)
}

// searchHandler holds dependencies for the search endpoint.
type searchHandler struct {
	store  Searcher
	logger *slog.Logger
}

// search handles GET /api/v1/search — similarity search over the
// knowledge base. Query parameters: q (required), limit, threshold,
// source_type, document_id, tag_ids (comma-separated), no_fallback.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "empty_query", "query parameter 'q' is required")
		return
	}

	var opts []knowledge.SearchOption
	if limit := parseIntParam(r, "limit", 0, 0, 100); limit > 0 {
		opts = append(opts, knowledge.WithLimit(limit))
	}
	if raw := q.Get("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold < 0 || threshold > 1 {
			writeError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be a number in [0, 1]")
			return
		}
		opts = append(opts, knowledge.WithThreshold(threshold))
	}
	if st := q.Get("source_type"); st != "" {
		opts = append(opts, knowledge.WithSourceType(st))
	}
	if raw := q.Get("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "invalid document_id")
			return
		}
		opts = append(opts, knowledge.WithDocument(id))
	}
	if raw := q.Get("tag_ids"); raw != "" {
		var ids []uuid.UUID
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_id", "invalid tag_ids")
				return
			}
			ids = append(ids, id)
		}
		opts = append(opts, knowledge.WithTags(ids...))
	}
	if q.Get("no_fallback") == "true" {
		opts = append(opts, knowledge.WithoutFallback())
	}

	results, err := h.store.Search(r.Context(), query, opts...)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "failed to search knowledge base")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items(results),
		"count": len(results),
	})
}
