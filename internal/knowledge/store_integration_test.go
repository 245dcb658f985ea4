package knowledge_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/log"
	"github.com/secondbrain-app/secondbrain/internal/testutil"
)

const testDim = 64

func setupStore(t *testing.T) (*knowledge.Store, *testutil.FakeEmbedder, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	embedder := testutil.NewFakeEmbedder(testDim, "fake-embedding-001")
	store, err := knowledge.NewStore(db.Pool, embedder, 5, 0.7, log.NewNop())
	if err != nil {
		cleanup()
		t.Fatalf("NewStore: %v", err)
	}
	return store, embedder, cleanup
}

func ingestText(t *testing.T, store *knowledge.Store, title, content string) *knowledge.Document {
	t.Helper()
	pieces := chunk.NewSplitter(1000, 200).Split(content)
	doc, err := store.CreateDocument(context.Background(), knowledge.NewDocument{
		Title:      title,
		SourceType: knowledge.SourceTypeNote,
	}, pieces)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func TestStoreIngestAndSearch(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := ingestText(t, store, "Capitals",
		"Paris is the capital of France.\n\nBerlin is the capital of Germany.")

	// Searching with a stored chunk's exact text embeds to the identical
	// vector, so the thresholded query must return it.
	results, err := store.Search(ctx, "Paris is the capital of France.\n\nBerlin is the capital of Germany.")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results for exact-match query")
	}
	top := results[0]
	if top.Fallback {
		t.Error("exact match must not be flagged as fallback")
	}
	if top.Similarity < 0.99 {
		t.Errorf("similarity = %v, want ~1.0", top.Similarity)
	}
	if top.DocumentID != doc.ID {
		t.Errorf("DocumentID = %v, want %v", top.DocumentID, doc.ID)
	}
	if top.DocumentTitle != "Capitals" {
		t.Errorf("DocumentTitle = %q, want %q", top.DocumentTitle, "Capitals")
	}
}

func TestStoreSearchFallback(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ingestText(t, store, "doc", strings.Repeat("filler content ", 20+i))
	}

	// A random query is nearly orthogonal to every stored vector, so the
	// thresholded query comes back empty and the relaxed one kicks in.
	results, err := store.Search(ctx, "completely unrelated gibberish xyzzy")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || len(results) > 3 {
		t.Fatalf("fallback returned %d results, want 1-3", len(results))
	}
	for _, r := range results {
		if !r.Fallback {
			t.Error("fallback result not flagged")
		}
	}

	// With fallback disabled the same query yields nothing.
	none, err := store.Search(ctx, "completely unrelated gibberish xyzzy", knowledge.WithoutFallback())
	if err != nil {
		t.Fatalf("Search without fallback: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d results with fallback disabled, want 0", len(none))
	}
}

func TestStoreSearchEmptyCorpus(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()

	results, err := store.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty corpus, want 0", len(results))
	}
}

func TestStoreUpdateChunkContent(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := ingestText(t, store, "note", "original content")
	chunks, err := store.ListChunks(ctx, doc.ID)
	if err != nil || len(chunks) != 1 {
		t.Fatalf("ListChunks: %v (%d chunks)", err, len(chunks))
	}

	updated, err := store.UpdateChunkContent(ctx, chunks[0].ID, "revised content")
	if err != nil {
		t.Fatalf("UpdateChunkContent: %v", err)
	}
	if updated.Content != "revised content" {
		t.Errorf("Content = %q, want %q", updated.Content, "revised content")
	}
	if updated.EmbeddingDim != testDim {
		t.Errorf("EmbeddingDim = %d, want %d", updated.EmbeddingDim, testDim)
	}

	// The revised text is now findable, the original is not a match.
	results, err := store.Search(ctx, "revised content")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Content != "revised content" {
		t.Error("updated chunk not retrievable by its new content")
	}

	_, err = store.UpdateChunkContent(ctx, uuid.New(), "whatever")
	if !errors.Is(err, knowledge.ErrChunkNotFound) {
		t.Errorf("error = %v, want ErrChunkNotFound", err)
	}
}

func TestStoreChunkSpansPersisted(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	content := strings.Repeat("alpha beta gamma delta ", 100) // several chunks at 1000/200
	pieces := chunk.NewSplitter(1000, 200).Split(content)
	if len(pieces) < 2 {
		t.Fatalf("got %d pieces, want >= 2", len(pieces))
	}

	doc, err := store.CreateDocument(ctx, knowledge.NewDocument{
		Title:      "spans",
		SourceType: knowledge.SourceTypeNote,
	}, pieces)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	chunks, err := store.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != len(pieces) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(pieces))
	}
	for i, c := range chunks {
		if c.Metadata.Start != pieces[i].Start || c.Metadata.End != pieces[i].End {
			t.Errorf("chunk %d span = [%d, %d), want [%d, %d)",
				i, c.Metadata.Start, c.Metadata.End, pieces[i].Start, pieces[i].End)
		}
	}
	// Spans follow source order: each chunk is non-empty and starts after
	// its predecessor.
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Metadata.Start >= chunks[i].Metadata.End {
			t.Errorf("chunk %d has empty span [%d, %d)", i, chunks[i].Metadata.Start, chunks[i].Metadata.End)
		}
		if chunks[i].Metadata.Start <= chunks[i-1].Metadata.Start {
			t.Errorf("chunk %d start %d not after chunk %d start %d",
				i, chunks[i].Metadata.Start, i-1, chunks[i-1].Metadata.Start)
		}
	}
}

func TestStoreReplaceChunks(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := ingestText(t, store, "note", "first version")
	pieces := chunk.NewSplitter(1000, 200).Split("second version, fully rewritten")
	if err := store.ReplaceChunks(ctx, doc.ID, pieces); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}

	chunks, err := store.ListChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Content != "second version, fully rewritten" {
		t.Errorf("chunks after replace = %+v", chunks)
	}

	err = store.ReplaceChunks(ctx, uuid.New(), pieces)
	if !errors.Is(err, knowledge.ErrDocumentNotFound) {
		t.Errorf("error = %v, want ErrDocumentNotFound", err)
	}
}

func TestStoreListStale(t *testing.T) {
	store, embedder, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	ingestText(t, store, "old", "content embedded at the old dimension")

	// Nothing is stale while the active dimension matches.
	stale, err := store.ListStale(ctx, embedder.ModelName(), testDim, 100)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("got %d stale chunks, want 0", len(stale))
	}

	// After a model switch every old chunk is stale.
	stale, err = store.ListStale(ctx, embedder.ModelName(), testDim*2, 100)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("got %d stale chunks, want 1", len(stale))
	}
	if stale[0].EmbeddingDim != testDim {
		t.Errorf("EmbeddingDim = %d, want %d", stale[0].EmbeddingDim, testDim)
	}
	if len(stale[0].Embedding) != testDim {
		t.Errorf("embedding length = %d, want %d", len(stale[0].Embedding), testDim)
	}

	// Repair it and confirm it drops off the stale list.
	newVec := testutil.DeterministicVector(stale[0].Content, testDim*2)
	if err := store.UpdateEmbedding(ctx, stale[0].ID, newVec, "fake-embedding-002"); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	stale, err = store.ListStale(ctx, "fake-embedding-002", testDim*2, 100)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("got %d stale chunks after repair, want 0", len(stale))
	}
}

func TestStoreDocumentLifecycle(t *testing.T) {
	store, _, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	doc := ingestText(t, store, "lifecycle", strings.Repeat("content ", 300))

	got, err := store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ChunkCount < 2 {
		t.Errorf("ChunkCount = %d, want >= 2", got.ChunkCount)
	}

	docs, err := store.ListDocuments(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("got %d documents, want 1", len(docs))
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); !errors.Is(err, knowledge.ErrDocumentNotFound) {
		t.Errorf("second delete error = %v, want ErrDocumentNotFound", err)
	}
	if _, err := store.GetDocument(ctx, doc.ID); !errors.Is(err, knowledge.ErrDocumentNotFound) {
		t.Errorf("GetDocument after delete = %v, want ErrDocumentNotFound", err)
	}
}
