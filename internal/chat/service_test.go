package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/citation"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
	"github.com/secondbrain-app/secondbrain/internal/log"
	"github.com/secondbrain-app/secondbrain/internal/testutil"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	chats    map[uuid.UUID]*Chat
	messages map[uuid.UUID][]Message
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		chats:    make(map[uuid.UUID]*Chat),
		messages: make(map[uuid.UUID][]Message),
	}
}

func (f *fakeMessageStore) addChat(title string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.chats[id] = &Chat{ID: id, Title: title}
	return id
}

func (f *fakeMessageStore) GetChat(_ context.Context, id uuid.UUID) (*Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeMessageStore) AddMessage(_ context.Context, chatID uuid.UUID, role, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[chatID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	m := Message{ID: uuid.New(), ChatID: chatID, Role: role, Content: content}
	f.messages[chatID] = append(f.messages[chatID], m)
	return &m, nil
}

func (f *fakeMessageStore) ListMessages(_ context.Context, chatID uuid.UUID) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[chatID]...), nil
}

func (f *fakeMessageStore) SetTitleIfEmpty(_ context.Context, id uuid.UUID, title string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if c.Title != "" {
		return false, nil
	}
	c.Title = title
	return true, nil
}

func (f *fakeMessageStore) title(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats[id].Title
}

func (f *fakeMessageStore) stored(id uuid.UUID) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages[id]...)
}

type fakeRetriever struct {
	results []knowledge.SearchResult
	err     error
}

func (f *fakeRetriever) Search(context.Context, string, ...knowledge.SearchOption) ([]knowledge.SearchResult, error) {
	return f.results, f.err
}

type fakeIngestor struct {
	mu     sync.Mutex
	doc    knowledge.NewDocument
	pieces []chunk.Piece
}

func (f *fakeIngestor) CreateDocument(_ context.Context, doc knowledge.NewDocument, pieces []chunk.Piece) (*knowledge.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = doc
	f.pieces = pieces
	return &knowledge.Document{ID: uuid.New(), Title: doc.Title, SourceType: doc.SourceType}, nil
}

// failingStreamer emits a prefix, then fails.
type failingStreamer struct {
	prefix string
	err    error
}

func (f *failingStreamer) Stream(_ context.Context, _ []llm.Message, onDelta func(string) error) (string, error) {
	if f.prefix != "" {
		if err := onDelta(f.prefix); err != nil {
			return "", err
		}
	}
	return f.prefix, f.err
}

func (f *failingStreamer) Complete(context.Context, []llm.Message) (string, error) {
	return "", f.err
}

func retrievedResults() []knowledge.SearchResult {
	return []knowledge.SearchResult{
		{
			ChunkID:       uuid.New(),
			DocumentID:    uuid.New(),
			DocumentTitle: "Geography",
			Content:       "Paris is the capital of France.",
			Similarity:    0.91,
		},
	}
}

func newTestService(t *testing.T, store *fakeMessageStore, retriever Retriever, completer llm.StreamCompleter, ingestor Ingestor) *Service {
	t.Helper()
	if ingestor == nil {
		ingestor = &fakeIngestor{}
	}
	svc, err := NewService(store, retriever, ingestor, completer, chunk.NewSplitter(1000, 200), log.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestAnswerHappyPath(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("existing title")
	streamer := &testutil.FakeStreamer{Response: "Paris is the capital[1]."}
	svc := newTestService(t, store, &fakeRetriever{results: retrievedResults()}, streamer, nil)

	var sources []knowledge.SearchResult
	var cites []citation.Entry
	var streamed strings.Builder

	answer, err := svc.Answer(context.Background(), chatID, "What is the capital of France?", AnswerEvents{
		OnSources: func(r []knowledge.SearchResult, c []citation.Entry) error {
			sources, cites = r, c
			return nil
		},
		OnDelta: func(d string) error {
			streamed.WriteString(d)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if len(sources) != 1 || len(cites) != 1 {
		t.Errorf("OnSources got %d results, %d citations, want 1 each", len(sources), len(cites))
	}
	if streamed.String() != "Paris is the capital[1]." {
		t.Errorf("streamed deltas = %q, want raw model output", streamed.String())
	}
	if !strings.Contains(answer.Content, "[1](secondbrain://documents/") {
		t.Errorf("citation not rewritten: %q", answer.Content)
	}
	if answer.Degraded || answer.Fallback {
		t.Errorf("answer flags = degraded:%v fallback:%v, want neither", answer.Degraded, answer.Fallback)
	}

	msgs := store.stored(chatID)
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want question + answer", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser || msgs[1].Role != llm.RoleAssistant {
		t.Errorf("stored roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != answer.Content {
		t.Error("persisted answer must be the rewritten text")
	}
	// Existing title untouched.
	if store.title(chatID) != "existing title" {
		t.Errorf("title = %q, want unchanged", store.title(chatID))
	}
}

func TestAnswerContextReachesModel(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	streamer := &testutil.FakeStreamer{Response: "ok"}
	svc := newTestService(t, store, &fakeRetriever{results: retrievedResults()}, streamer, nil)

	if _, err := svc.Answer(context.Background(), chatID, "capital?", AnswerEvents{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	sys := streamer.LastMessages()[0]
	if sys.Role != llm.RoleSystem {
		t.Fatalf("first message role = %q", sys.Role)
	}
	if !strings.Contains(sys.Content, "1. [Source: Geography] (Similarity: 91.0%)") {
		t.Errorf("numbered context missing from system prompt:\n%s", sys.Content)
	}
}

func TestAnswerDegradedOnRetrievalFailure(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	streamer := &testutil.FakeStreamer{Response: "From general knowledge: Paris."}
	svc := newTestService(t, store, &fakeRetriever{err: llm.ErrEmbeddingUnavailable}, streamer, nil)

	answer, err := svc.Answer(context.Background(), chatID, "capital?", AnswerEvents{})
	if err != nil {
		t.Fatalf("Answer should degrade, not fail: %v", err)
	}
	if !answer.Degraded {
		t.Error("Degraded flag not set")
	}
	if len(answer.Citations) != 0 {
		t.Errorf("got %d citations without retrieval", len(answer.Citations))
	}
	if !strings.Contains(streamer.LastMessages()[0].Content, degradedNote) {
		t.Error("degraded note missing from system prompt")
	}
}

func TestAnswerFallbackResults(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	results := retrievedResults()
	results[0].Fallback = true
	results[0].Similarity = 0.2
	streamer := &testutil.FakeStreamer{Response: "Loosely related[1]."}
	svc := newTestService(t, store, &fakeRetriever{results: results}, streamer, nil)

	answer, err := svc.Answer(context.Background(), chatID, "q", AnswerEvents{})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !answer.Fallback {
		t.Error("Fallback flag not set")
	}
	if !strings.Contains(streamer.LastMessages()[0].Content, fallbackHeader) {
		t.Error("fallback framing missing from system prompt")
	}
}

func TestAnswerGenerationFailurePersistsPartial(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	streamer := &failingStreamer{prefix: "Half an answer", err: llm.ErrGenerationFailed}
	svc := newTestService(t, store, &fakeRetriever{}, streamer, nil)

	_, err := svc.Answer(context.Background(), chatID, "q", AnswerEvents{})
	if !errors.Is(err, llm.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}

	msgs := store.stored(chatID)
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want question + partial answer", len(msgs))
	}
	if msgs[1].Content != "Half an answer" {
		t.Errorf("partial content = %q", msgs[1].Content)
	}
}

func TestAnswerGenerationFailureNoOutput(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	streamer := &failingStreamer{err: llm.ErrGenerationFailed}
	svc := newTestService(t, store, &fakeRetriever{}, streamer, nil)

	_, err := svc.Answer(context.Background(), chatID, "q", AnswerEvents{})
	if !errors.Is(err, llm.ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
	if msgs := store.stored(chatID); len(msgs) != 1 {
		t.Errorf("stored %d messages, want question only (nothing to persist)", len(msgs))
	}
}

func TestAnswerAutoTitlesNewChat(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("")
	streamer := &testutil.FakeStreamer{Response: "Capitals of Europe"}
	svc := newTestService(t, store, &fakeRetriever{}, streamer, nil)

	if _, err := svc.Answer(context.Background(), chatID, "capital?", AnswerEvents{}); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got := store.title(chatID); got != "Capitals of Europe" {
		t.Errorf("title = %q, want generated title", got)
	}
}

func TestAnswerChatNotFound(t *testing.T) {
	svc := newTestService(t, newFakeMessageStore(), &fakeRetriever{}, &testutil.FakeStreamer{}, nil)
	_, err := svc.Answer(context.Background(), uuid.New(), "q", AnswerEvents{})
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("error = %v, want ErrChatNotFound", err)
	}
}

func TestAnswerEmptyQuestion(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	svc := newTestService(t, store, &fakeRetriever{}, &testutil.FakeStreamer{}, nil)
	if _, err := svc.Answer(context.Background(), chatID, "   ", AnswerEvents{}); err == nil {
		t.Error("empty question must be rejected")
	}
}

func TestSaveToKnowledge(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("Capitals")
	ingestor := &fakeIngestor{}
	svc := newTestService(t, store, &fakeRetriever{}, &testutil.FakeStreamer{}, ingestor)

	ctx := context.Background()
	if _, err := store.AddMessage(ctx, chatID, llm.RoleUser, "What is the capital of France?"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(ctx, chatID, llm.RoleAssistant, "Paris."); err != nil {
		t.Fatal(err)
	}

	doc, err := svc.SaveToKnowledge(ctx, chatID, "")
	if err != nil {
		t.Fatalf("SaveToKnowledge: %v", err)
	}
	if doc.SourceType != knowledge.SourceTypeConversation {
		t.Errorf("SourceType = %q", doc.SourceType)
	}
	if ingestor.doc.Title != "Capitals" {
		t.Errorf("title = %q, want chat title", ingestor.doc.Title)
	}
	if ingestor.doc.SourceID != chatID.String() {
		t.Errorf("SourceID = %q, want chat ID", ingestor.doc.SourceID)
	}
	if len(ingestor.pieces) == 0 {
		t.Fatal("no pieces ingested")
	}
	if len(ingestor.pieces[0].MessageIDs) == 0 {
		t.Error("chunk metadata missing message references")
	}
}

func TestSaveToKnowledgeEmptyChat(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	svc := newTestService(t, store, &fakeRetriever{}, &testutil.FakeStreamer{}, nil)

	_, err := svc.SaveToKnowledge(context.Background(), chatID, "")
	if !errors.Is(err, ErrEmptyChat) {
		t.Errorf("error = %v, want ErrEmptyChat", err)
	}
}

func TestSaveEditedNote(t *testing.T) {
	store := newFakeMessageStore()
	chatID := store.addChat("t")
	ingestor := &fakeIngestor{}
	svc := newTestService(t, store, &fakeRetriever{}, &testutil.FakeStreamer{}, ingestor)

	doc, err := svc.SaveEditedNote(context.Background(), chatID, "My Note", "Edited summary of the conversation.")
	if err != nil {
		t.Fatalf("SaveEditedNote: %v", err)
	}
	if doc.SourceType != knowledge.SourceTypeNote {
		t.Errorf("SourceType = %q", doc.SourceType)
	}
	if ingestor.doc.SourceID != chatID.String() {
		t.Errorf("SourceID = %q", ingestor.doc.SourceID)
	}

	if _, err := svc.SaveEditedNote(context.Background(), uuid.Nil, "", "  "); err == nil {
		t.Error("empty note content must be rejected")
	}
}
