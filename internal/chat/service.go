package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/citation"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/llm"
)

// Retriever searches the knowledge base. Satisfied by *knowledge.Store.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.SearchResult, error)
}

// MessageStore persists chats and messages. Satisfied by *Store.
type MessageStore interface {
	GetChat(ctx context.Context, id uuid.UUID) (*Chat, error)
	AddMessage(ctx context.Context, chatID uuid.UUID, role, content string) (*Message, error)
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error)
	SetTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) (bool, error)
}

// Ingestor writes documents into the knowledge base. Satisfied by
// *knowledge.Store.
type Ingestor interface {
	CreateDocument(ctx context.Context, doc knowledge.NewDocument, pieces []chunk.Piece) (*knowledge.Document, error)
}

// AnswerEvents carries the streaming callbacks for one answer turn. Both
// callbacks are optional; returning an error from either aborts the turn.
type AnswerEvents struct {
	// OnSources fires once, before generation starts, with the retrieved
	// context and its citation entries.
	OnSources func(results []knowledge.SearchResult, citations []citation.Entry) error

	// OnDelta fires per generated token fragment.
	OnDelta func(delta string) error
}

// Service runs the answer pipeline over its collaborators.
type Service struct {
	store     MessageStore
	retriever Retriever
	ingestor  Ingestor
	completer llm.StreamCompleter
	splitter  *chunk.Splitter
	logger    *slog.Logger
}

// NewService creates a chat Service.
func NewService(store MessageStore, retriever Retriever, ingestor Ingestor, completer llm.StreamCompleter, splitter *chunk.Splitter, logger *slog.Logger) (*Service, error) {
	if store == nil || retriever == nil || ingestor == nil || completer == nil || splitter == nil {
		return nil, fmt.Errorf("all collaborators are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		retriever: retriever,
		ingestor:  ingestor,
		completer: completer,
		splitter:  splitter,
		logger:    logger,
	}, nil
}

// Answer runs one full answer turn: persist the question, retrieve
// context, stream the generation, rewrite citations, persist the answer.
//
// Degradation: a failed retrieval does not fail the turn. The answer is
// generated without context and flagged Degraded. A failed generation
// does fail the turn, but any tokens already streamed are persisted so a
// dropped connection never loses the visible half of an answer.
func (s *Service) Answer(ctx context.Context, chatID uuid.UUID, question string, ev AnswerEvents) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is empty")
	}

	conversation, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddMessage(ctx, chatID, llm.RoleUser, question); err != nil {
		return nil, fmt.Errorf("persisting question: %w", err)
	}

	results, degraded := s.retrieve(ctx, question)
	contextBlock, citations := citation.Build(results)
	fallback := len(results) > 0 && results[0].Fallback

	if ev.OnSources != nil {
		if err := ev.OnSources(results, citations.Entries()); err != nil {
			return nil, err
		}
	}

	history, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	messages := buildMessages(history, contextBlock, fallback, degraded)

	onDelta := ev.OnDelta
	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}

	full, err := s.completer.Stream(ctx, messages, onDelta)
	if err != nil {
		if full != "" {
			s.persistPartial(ctx, chatID, citations.Rewrite(full))
		}
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	rewritten := citations.Rewrite(full)
	msg, err := s.store.AddMessage(ctx, chatID, llm.RoleAssistant, rewritten)
	if err != nil {
		return nil, fmt.Errorf("persisting answer: %w", err)
	}

	s.autoTitle(ctx, conversation, question)

	return &Answer{
		MessageID: msg.ID,
		Content:   rewritten,
		Citations: citations.Entries(),
		Degraded:  degraded,
		Fallback:  fallback,
	}, nil
}

// retrieve searches the knowledge base, degrading to no context on any
// failure.
func (s *Service) retrieve(ctx context.Context, question string) ([]knowledge.SearchResult, bool) {
	results, err := s.retriever.Search(ctx, question)
	if err != nil {
		s.logger.Warn("retrieval unavailable, answering without context", "error", err)
		return nil, true
	}
	return results, false
}

// persistPartial saves interrupted output. It deliberately detaches from
// the request context: the usual reason we are here is that the client
// went away and ctx is already canceled.
func (s *Service) persistPartial(ctx context.Context, chatID uuid.UUID, content string) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.store.AddMessage(saveCtx, chatID, llm.RoleAssistant, content); err != nil {
		s.logger.Warn("persisting partial answer", "chat_id", chatID, "error", err)
		return
	}
	s.logger.Debug("partial answer persisted", "chat_id", chatID, "length", len(content))
}

// autoTitle titles a still-untitled chat after its first answer. The
// model gets one shot; on failure the question itself becomes the title.
func (s *Service) autoTitle(ctx context.Context, conversation *Chat, question string) {
	if conversation.Title != "" {
		return
	}

	titleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	title, err := s.completer.Complete(titleCtx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(titlePrompt, question)},
	})
	if err != nil || strings.TrimSpace(title) == "" {
		s.logger.Debug("title generation failed, using question", "error", err)
		title = question
	}

	set, err := s.store.SetTitleIfEmpty(titleCtx, conversation.ID, truncateTitle(title))
	if err != nil {
		s.logger.Warn("setting chat title", "chat_id", conversation.ID, "error", err)
		return
	}
	if set {
		s.logger.Debug("chat titled", "chat_id", conversation.ID)
	}
}

// SaveToKnowledge flattens the conversation into a document so future
// questions can retrieve it. Chunk metadata records which messages each
// chunk spans.
func (s *Service) SaveToKnowledge(ctx context.Context, chatID uuid.UUID, title string) (*knowledge.Document, error) {
	conversation, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyChat, chatID)
	}

	source := make([]chunk.SourceMessage, len(messages))
	for i, m := range messages {
		source[i] = chunk.SourceMessage{ID: m.ID, Role: m.Role, Content: m.Content}
	}
	pieces := s.splitter.SplitMessages(source)

	if title == "" {
		title = conversation.Title
	}
	if title == "" {
		title = truncateTitle(messages[0].Content)
	}

	doc, err := s.ingestor.CreateDocument(ctx, knowledge.NewDocument{
		Title:      title,
		SourceType: knowledge.SourceTypeConversation,
		SourceID:   chatID.String(),
	}, pieces)
	if err != nil {
		return nil, fmt.Errorf("saving conversation: %w", err)
	}

	s.logger.Info("conversation saved to knowledge",
		"chat_id", chatID, "document_id", doc.ID, "chunks", len(pieces))
	return doc, nil
}

// SaveEditedNote saves user-edited text as a note document. chatID may be
// uuid.Nil for notes not derived from a conversation.
func (s *Service) SaveEditedNote(ctx context.Context, chatID uuid.UUID, title, content string) (*knowledge.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("note content is empty")
	}
	if title == "" {
		title = truncateTitle(content)
	}

	var sourceID string
	if chatID != uuid.Nil {
		if _, err := s.store.GetChat(ctx, chatID); err != nil {
			return nil, err
		}
		sourceID = chatID.String()
	}

	pieces := s.splitter.Split(content)
	doc, err := s.ingestor.CreateDocument(ctx, knowledge.NewDocument{
		Title:      title,
		SourceType: knowledge.SourceTypeNote,
		SourceID:   sourceID,
	}, pieces)
	if err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}

	s.logger.Info("note saved to knowledge", "document_id", doc.ID, "chunks", len(pieces))
	return doc, nil
}
