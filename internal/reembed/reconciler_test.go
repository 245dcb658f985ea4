package reembed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/log"
	"github.com/secondbrain-app/secondbrain/internal/testutil"
)

// fakeStore is an in-memory chunkStore.
type fakeStore struct {
	mu         sync.Mutex
	contents   map[uuid.UUID]string
	embeddings map[uuid.UUID][]float32
	models     map[uuid.UUID]string
	updateErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contents:   make(map[uuid.UUID]string),
		embeddings: make(map[uuid.UUID][]float32),
		models:     make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) add(content string, vec []float32, model string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.contents[id] = content
	f.embeddings[id] = vec
	f.models[id] = model
	return id
}

func (f *fakeStore) ChunkContent(_ context.Context, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.contents[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", knowledge.ErrChunkNotFound, id)
	}
	return content, nil
}

func (f *fakeStore) UpdateEmbedding(_ context.Context, id uuid.UUID, vec []float32, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.contents[id]; !ok {
		return fmt.Errorf("%w: %s", knowledge.ErrChunkNotFound, id)
	}
	f.embeddings[id] = vec
	f.models[id] = model
	return nil
}

func (f *fakeStore) ListStale(_ context.Context, model string, dim, limit int) ([]knowledge.StaleChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []knowledge.StaleChunk
	for id, vec := range f.embeddings {
		if len(stale) >= limit {
			break
		}
		if len(vec) != dim || f.models[id] != model {
			stale = append(stale, knowledge.StaleChunk{
				ID:             id,
				Content:        f.contents[id],
				Embedding:      append([]float32(nil), vec...),
				EmbeddingModel: f.models[id],
				EmbeddingDim:   len(vec),
			})
		}
	}
	return stale, nil
}

func (f *fakeStore) embedding(id uuid.UUID) []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.embeddings[id]
}

func (f *fakeStore) model(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[id]
}

const activeModel = "fake-embedding-002"

func TestReconcileShrinkReembedsSynchronously(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	queue := NewQueue(16)
	rec := NewReconciler(store, embedder, queue, log.NewNop())

	id := store.add("some content", make([]float32, 16), "fake-embedding-001")

	repaired, err := rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if repaired != 1 {
		t.Errorf("repaired = %d, want 1", repaired)
	}
	if got := len(store.embedding(id)); got != 8 {
		t.Errorf("stored dim = %d, want 8", got)
	}
	if store.model(id) != activeModel {
		t.Errorf("model = %q, want %q (shrink repairs fully)", store.model(id), activeModel)
	}
	if queue.Len() != 0 {
		t.Errorf("queue.Len = %d, want 0 (shrink is synchronous)", queue.Len())
	}
}

func TestReconcileGrowPadsAndEnqueues(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(16, activeModel)
	queue := NewQueue(16)
	rec := NewReconciler(store, embedder, queue, log.NewNop())

	id := store.add("some content", []float32{1, 2, 3, 4}, "fake-embedding-001")

	if _, err := rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	vec := store.embedding(id)
	if len(vec) != 16 {
		t.Fatalf("stored dim = %d, want 16 (padded immediately)", len(vec))
	}
	if vec[0] != 1 || vec[3] != 4 || vec[4] != 0 || vec[15] != 0 {
		t.Errorf("padded vector wrong: %v", vec)
	}
	// The padding keeps the old model recorded: the chunk is searchable
	// now but stays stale until the queued re-embed lands.
	if store.model(id) != "fake-embedding-001" {
		t.Errorf("model = %q, want old model kept", store.model(id))
	}
	if queue.Len() != 1 {
		t.Errorf("queue.Len = %d, want 1", queue.Len())
	}
}

func TestReconcileModelChangeSameDimEnqueues(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	queue := NewQueue(16)
	rec := NewReconciler(store, embedder, queue, log.NewNop())

	id := store.add("some content", make([]float32, 8), "fake-embedding-001")

	if _, err := rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if queue.Len() != 1 {
		t.Errorf("queue.Len = %d, want 1", queue.Len())
	}
	// The vector itself is untouched until the worker gets to it.
	if store.model(id) != "fake-embedding-001" {
		t.Errorf("model changed without a re-embed: %q", store.model(id))
	}
}

func TestReconcileForceAsyncShrink(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	queue := NewQueue(16)
	rec := NewReconciler(store, embedder, queue, log.NewNop())
	rec.ForceAsync = true

	id := store.add("some content", make([]float32, 16), "fake-embedding-001")

	if _, err := rec.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := len(store.embedding(id)); got != 16 {
		t.Errorf("stored dim = %d, want untouched 16", got)
	}
	if queue.Len() != 1 {
		t.Errorf("queue.Len = %d, want 1 (shrink diverted to queue)", queue.Len())
	}

	// The diverted task rides the high-priority lane.
	other := uuid.New()
	store.mu.Lock()
	store.contents[other] = "x"
	store.mu.Unlock()
	queue.Enqueue(other, PriorityNormal)
	if got := mustDequeue(t, queue); got != id {
		t.Errorf("first dequeue = %v, want the shrink task", got)
	}
}

func TestSweepNothingStale(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	rec := NewReconciler(store, embedder, NewQueue(16), log.NewNop())

	store.add("content", testutil.DeterministicVector("content", 8), activeModel)

	repaired, err := rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if repaired != 0 {
		t.Errorf("repaired = %d, want 0", repaired)
	}
}

func TestWorkerRepairsQueuedChunks(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	queue := NewQueue(16)
	worker := NewWorker(queue, store, embedder, log.NewNop())

	id := store.add("some content", []float32{1, 2, 3, 4}, "fake-embedding-001")
	queue.Enqueue(id, PriorityNormal)

	worker.Start()
	defer worker.Stop()

	waitFor(t, func() bool {
		return store.model(id) == activeModel && len(store.embedding(id)) == 8
	}, "chunk repaired by worker")
}

func TestWorkerSkipsDeletedChunk(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	queue := NewQueue(16)
	worker := NewWorker(queue, store, embedder, log.NewNop())

	live := store.add("still here", []float32{1}, "fake-embedding-001")
	queue.Enqueue(uuid.New(), PriorityHigh) // never existed
	queue.Enqueue(live, PriorityNormal)

	worker.Start()
	defer worker.Stop()

	// The missing chunk is a silent no-op; the live one still gets fixed.
	waitFor(t, func() bool { return store.model(live) == activeModel }, "live chunk repaired")
}

func TestWorkerDropsFailedRepair(t *testing.T) {
	store := newFakeStore()
	embedder := testutil.NewFakeEmbedder(8, activeModel)
	embedder.FailFirst(1)
	queue := NewQueue(16)
	worker := NewWorker(queue, store, embedder, log.NewNop())

	failed := store.add("fails once", []float32{1}, "fake-embedding-001")
	ok := store.add("fine", []float32{2}, "fake-embedding-001")
	queue.Enqueue(failed, PriorityHigh)
	queue.Enqueue(ok, PriorityNormal)

	worker.Start()
	defer worker.Stop()

	// The failed task is dropped, not retried; the next one proceeds.
	waitFor(t, func() bool { return store.model(ok) == activeModel }, "second chunk repaired")
	if store.model(failed) == activeModel {
		t.Error("failed repair should have been dropped, not retried")
	}
}

func TestWorkerStopIsIdempotent(t *testing.T) {
	queue := NewQueue(16)
	worker := NewWorker(queue, newFakeStore(), testutil.NewFakeEmbedder(8, activeModel), log.NewNop())
	worker.Start()
	worker.Stop()
	worker.Stop()
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
