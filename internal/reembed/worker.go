package reembed

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// chunkStore is the slice of the knowledge store the repair pipeline needs.
type chunkStore interface {
	ChunkContent(ctx context.Context, chunkID uuid.UUID) (string, error)
	UpdateEmbedding(ctx context.Context, chunkID uuid.UUID, vec []float32, model string) error
	ListStale(ctx context.Context, model string, dim int, limit int) ([]knowledge.StaleChunk, error)
}

// Worker drains the re-embed queue with a single consumer goroutine, so
// repairs never compete with each other for provider quota.
type Worker struct {
	queue    *Queue
	store    chunkStore
	embedder llm.Embedder
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	finished  chan struct{}
}

// NewWorker creates a Worker consuming queue.
func NewWorker(queue *Queue, store chunkStore, embedder llm.Embedder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		store:    store,
		embedder: embedder,
		logger:   logger,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Stop closes the queue, waits for in-flight work to finish, and discards
// anything still pending.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.queue.Close()
		close(w.done)
		<-w.finished
		if n := w.queue.Len(); n > 0 {
			w.logger.Info("re-embed worker stopped with tasks pending", "dropped", n)
		}
	})
}

func (w *Worker) run() {
	defer close(w.finished)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-w.done
		cancel()
	}()

	for {
		chunkID, ok := w.queue.Dequeue(w.done)
		if !ok {
			return
		}
		w.process(ctx, chunkID)
	}
}

// process repairs one chunk. Failures never propagate: a chunk that was
// deleted in the meantime is a silent no-op, and a failed repair is
// logged and dropped (the chunk stays on the stale list for the next
// sweep).
func (w *Worker) process(ctx context.Context, chunkID uuid.UUID) {
	content, err := w.store.ChunkContent(ctx, chunkID)
	if err != nil {
		if errors.Is(err, knowledge.ErrChunkNotFound) {
			w.logger.Debug("chunk deleted before re-embed", "chunk_id", chunkID)
			return
		}
		w.logger.Warn("fetching chunk for re-embed", "chunk_id", chunkID, "error", err)
		return
	}

	vectors, err := w.embedder.Embed(ctx, []string{content})
	if err != nil {
		w.logger.Warn("re-embed failed, dropping task", "chunk_id", chunkID, "error", err)
		return
	}

	if err := w.store.UpdateEmbedding(ctx, chunkID, vectors[0], w.embedder.ModelName()); err != nil {
		if errors.Is(err, knowledge.ErrChunkNotFound) {
			w.logger.Debug("chunk deleted during re-embed", "chunk_id", chunkID)
			return
		}
		w.logger.Warn("storing repaired embedding", "chunk_id", chunkID, "error", err)
		return
	}

	w.logger.Debug("chunk re-embedded", "chunk_id", chunkID, "dim", len(vectors[0]))
}
