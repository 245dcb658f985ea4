package reembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// sweepLimit caps how many stale chunks one sweep will touch.
const sweepLimit = 10000

// Reconciler repairs chunks whose stored embeddings no longer match the
// active model or dimension.
//
// Repair policy per stale chunk, target = active dimension:
//
//   - stored dim > target (shrink): re-embed synchronously. Truncating a
//     vector scrambles its geometry, so the chunk must not be searchable
//     with a truncated embedding even briefly.
//   - stored dim < target (grow): zero-pad immediately so the chunk is
//     searchable at the new dimension right away, then queue a proper
//     re-embed. Padding keeps the old model name recorded, so the chunk
//     stays on the stale list until the real repair lands.
//   - same dim, different model: the vector is mechanically comparable
//     but semantically from another space; queue a re-embed.
type Reconciler struct {
	store    chunkStore
	embedder llm.Embedder
	queue    *Queue
	logger   *slog.Logger

	// ForceAsync diverts shrink repairs onto the queue's high-priority
	// lane instead of re-embedding inline. Used for startup sweeps where
	// blocking boot on provider calls is worse than a window of
	// unsearchable chunks.
	ForceAsync bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(store chunkStore, embedder llm.Embedder, queue *Queue, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		embedder: embedder,
		queue:    queue,
		logger:   logger,
	}
}

// Sweep lists stale chunks and applies the repair policy to each. It
// returns the number of chunks acted on. Per-chunk failures are logged
// and skipped; the sweep keeps going.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	stale, err := r.store.ListStale(ctx, r.embedder.ModelName(), r.embedder.Dimension(), sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("listing stale chunks: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	r.logger.Info("reconciling stale embeddings",
		"count", len(stale),
		"model", r.embedder.ModelName(),
		"dim", r.embedder.Dimension())

	repaired := 0
	for _, c := range stale {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if err := r.ReconcileChunk(ctx, c); err != nil {
			r.logger.Warn("reconcile failed, skipping chunk", "chunk_id", c.ID, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// ReconcileChunk applies the repair policy to one stale chunk.
func (r *Reconciler) ReconcileChunk(ctx context.Context, c knowledge.StaleChunk) error {
	target := r.embedder.Dimension()

	switch {
	case len(c.Embedding) > target:
		if r.ForceAsync {
			if !r.queue.Enqueue(c.ID, PriorityHigh) {
				return fmt.Errorf("re-embed queue full")
			}
			return nil
		}
		return r.reembedNow(ctx, c)

	case len(c.Embedding) < target:
		padded := Resize(c.Embedding, target)
		// Keep the old model name: the chunk stays stale until the
		// queued re-embed replaces the padding.
		if err := r.store.UpdateEmbedding(ctx, c.ID, padded, c.EmbeddingModel); err != nil {
			if errors.Is(err, knowledge.ErrChunkNotFound) {
				return nil
			}
			return fmt.Errorf("storing padded embedding: %w", err)
		}
		if !r.queue.Enqueue(c.ID, PriorityNormal) {
			r.logger.Warn("re-embed queue full, chunk left padded", "chunk_id", c.ID)
		}
		return nil

	default:
		if !r.queue.Enqueue(c.ID, PriorityNormal) {
			return fmt.Errorf("re-embed queue full")
		}
		return nil
	}
}

func (r *Reconciler) reembedNow(ctx context.Context, c knowledge.StaleChunk) error {
	vectors, err := r.embedder.Embed(ctx, []string{c.Content})
	if err != nil {
		return fmt.Errorf("re-embedding chunk: %w", err)
	}
	if err := r.store.UpdateEmbedding(ctx, c.ID, vectors[0], r.embedder.ModelName()); err != nil {
		if errors.Is(err, knowledge.ErrChunkNotFound) {
			return nil
		}
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}
