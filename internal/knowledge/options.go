package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// fallbackLimit caps the relaxed nearest-neighbor query that runs when
// nothing clears the threshold.
const fallbackLimit = 3

// defaultSearchTimeout bounds vector search queries so a slow scan cannot
// block a chat turn indefinitely.
const defaultSearchTimeout = 10 * time.Second

type searchConfig struct {
	limit      int
	cutoff     float64 // cosine distance cutoff (1 - similarity threshold)
	documentID uuid.UUID
	sourceType string
	tagIDs     []uuid.UUID
	noFallback bool
	timeout    time.Duration
}

// SearchOption configures Search.
type SearchOption func(*searchConfig)

// WithLimit overrides the configured result limit for the thresholded query.
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithThreshold overrides the similarity threshold for this search.
func WithThreshold(similarity float64) SearchOption {
	return func(c *searchConfig) {
		if similarity >= 0 && similarity <= 1 {
			c.cutoff = 1 - similarity
		}
	}
}

// WithDocument restricts the search to chunks of one document.
func WithDocument(id uuid.UUID) SearchOption {
	return func(c *searchConfig) { c.documentID = id }
}

// WithSourceType restricts the search to documents of one source type.
func WithSourceType(sourceType string) SearchOption {
	return func(c *searchConfig) { c.sourceType = sourceType }
}

// WithTags restricts the search to documents carrying at least one of the
// given tags.
func WithTags(ids ...uuid.UUID) SearchOption {
	return func(c *searchConfig) { c.tagIDs = ids }
}

// WithoutFallback disables the relaxed nearest-neighbor query; an empty
// thresholded result stays empty.
func WithoutFallback() SearchOption {
	return func(c *searchConfig) { c.noFallback = true }
}

func (s *Store) buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{
		limit:   s.searchLimit,
		cutoff:  s.distanceCutoff,
		timeout: defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
