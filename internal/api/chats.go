package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chat"
	"github.com/secondbrain-app/secondbrain/internal/citation"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
)

// maxQuestionBytes caps the JSON body of a chat message.
const maxQuestionBytes = 64 << 10 // 64KB

// ChatStore is the slice of the chat store the chat endpoints need.
// Satisfied by *chat.Store.
type ChatStore interface {
	CreateChat(ctx context.Context, title string) (*chat.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	ListChats(ctx context.Context, limit, offset int) ([]chat.Chat, error)
	RenameChat(ctx context.Context, id uuid.UUID, title string) error
	DeleteChat(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, chatID uuid.UUID) ([]chat.Message, error)
}

// Answerer runs the answer pipeline and conversation export. Satisfied by
// *chat.Service.
type Answerer interface {
	Answer(ctx context.Context, chatID uuid.UUID, question string, ev chat.AnswerEvents) (*chat.Answer, error)
	SaveToKnowledge(ctx context.Context, chatID uuid.UUID, title string) (*knowledge.Document, error)
	SaveEditedNote(ctx context.Context, chatID uuid.UUID, title, content string) (*knowledge.Document, error)
}

// chatHandler holds dependencies for chat endpoints.
type chatHandler struct {
	store   ChatStore
	service Answerer
	logger  *slog.Logger
}

// createChatRequest is the body for POST /api/v1/chats.
type createChatRequest struct {
	Title string `json:"title"`
}

// createChat handles POST /api/v1/chats.
func (h *chatHandler) createChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !decodeBody(w, r, &req, 4096) {
		return
	}

	c, err := h.store.CreateChat(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating chat", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// listChats handles GET /api/v1/chats.
func (h *chatHandler) listChats(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 1, 200)
	offset := parseIntParam(r, "offset", 0, 0, 1<<20)

	chats, err := h.store.ListChats(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing chats", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": chats,
		"count": len(chats),
	})
}

// getChat handles GET /api/v1/chats/{id}.
func (h *chatHandler) getChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.store.GetChat(r.Context(), id)
	if err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		h.logger.Error("getting chat", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get chat")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// renameChatRequest is the body for PATCH /api/v1/chats/{id}.
type renameChatRequest struct {
	Title string `json:"title"`
}

// renameChat handles PATCH /api/v1/chats/{id}.
func (h *chatHandler) renameChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req renameChatRequest
	if !decodeBody(w, r, &req, 4096) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "empty_title", "title is required")
		return
	}

	if err := h.store.RenameChat(r.Context(), id, req.Title); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		h.logger.Error("renaming chat", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "rename_failed", "failed to rename chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

// deleteChat handles DELETE /api/v1/chats/{id}.
func (h *chatHandler) deleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteChat(r.Context(), id); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
			return
		}
		h.logger.Error("deleting chat", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete chat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// listMessages handles GET /api/v1/chats/{id}/messages.
func (h *chatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("listing messages", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items(messages),
		"count": len(messages),
	})
}

// items normalizes a nil slice to an empty one so list responses always
// encode as a JSON array.
func items[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// askRequest is the body for POST /api/v1/chats/{id}/messages.
type askRequest struct {
	Content string `json:"content"`
}

// ask handles POST /api/v1/chats/{id}/messages — runs the answer pipeline
// and streams it as SSE: a "sources" event with the retrieved citations,
// "content" events per generated fragment, then "done" with the final
// answer (citation markers rewritten to links) or "error".
func (h *chatHandler) ask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req askRequest
	if !decodeBody(w, r, &req, maxQuestionBytes) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "empty_question", "content is required")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	answer, err := h.service.Answer(r.Context(), id, req.Content, chat.AnswerEvents{
		OnSources: func(results []knowledge.SearchResult, citations []citation.Entry) error {
			return sse.writeEvent("sources", map[string]any{
				"citations": items(citations),
			})
		},
		OnDelta: func(delta string) error {
			return sse.writeEvent("content", map[string]string{"delta": delta})
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatNotFound):
			sse.writeError("not_found", "chat not found")
		default:
			h.logger.Error("answer pipeline failed", "error", err, "chat_id", id)
			sse.writeError("answer_failed", "failed to generate answer")
		}
		return
	}

	if err := sse.writeEvent("done", answer); err != nil {
		h.logger.Debug("client gone before done event", "error", err, "chat_id", id)
	}
}

// saveToKnowledgeRequest is the body for POST /api/v1/chats/{id}/knowledge.
// When Content is set, it is ingested as an edited note instead of the
// raw transcript.
type saveToKnowledgeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// saveToKnowledge handles POST /api/v1/chats/{id}/knowledge.
func (h *chatHandler) saveToKnowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req saveToKnowledgeRequest
	if !decodeBody(w, r, &req, maxNoteBytes) {
		return
	}

	var doc *knowledge.Document
	var err error
	if strings.TrimSpace(req.Content) != "" {
		doc, err = h.service.SaveEditedNote(r.Context(), id, req.Title, req.Content)
	} else {
		doc, err = h.service.SaveToKnowledge(r.Context(), id, req.Title)
	}
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrChatNotFound):
			writeError(w, http.StatusNotFound, "not_found", "chat not found")
		case errors.Is(err, chat.ErrEmptyChat):
			writeError(w, http.StatusBadRequest, "empty_chat", "chat has no messages to save")
		default:
			h.logger.Error("saving chat to knowledge", "error", err, "id", id)
			writeError(w, http.StatusInternalServerError, "save_failed", "failed to save chat to knowledge")
		}
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}
