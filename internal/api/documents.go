package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/parser"
)

// maxNoteBytes caps the JSON body of note creation and chunk edits.
const maxNoteBytes = 4 << 20 // 4MB

// ingestTimeout bounds one background upload ingestion, including the
// embedding calls.
const ingestTimeout = 10 * time.Minute

// DocumentStore is the slice of the knowledge store the document
// endpoints need. Satisfied by *knowledge.Store.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc knowledge.NewDocument, pieces []chunk.Piece) (*knowledge.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]knowledge.Document, error)
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]knowledge.Chunk, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	UpdateChunkContent(ctx context.Context, chunkID uuid.UUID, content string) (*knowledge.Chunk, error)
}

// documentHandler holds dependencies for document endpoints.
type documentHandler struct {
	store     DocumentStore
	splitter  *chunk.Splitter
	logger    *slog.Logger
	uploadDir string
	maxUpload int64

	// ingests tracks background upload processing so shutdown can wait
	// for in-flight ingestions.
	ingests sync.WaitGroup
}

// createDocumentRequest is the body for POST /api/v1/documents.
type createDocumentRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	SourceType string `json:"source_type"`
}

// createDocument handles POST /api/v1/documents — ingests raw text as a
// note document.
func (h *documentHandler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !decodeBody(w, r, &req, maxNoteBytes) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = knowledge.SourceTypeNote
	}

	res, err := parser.ParseText(req.Title, strings.NewReader(req.Content))
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_failed", "could not parse content")
		return
	}
	title := req.Title
	if title == "" {
		title = res.Title
	}

	doc, err := h.store.CreateDocument(r.Context(), knowledge.NewDocument{
		Title:      title,
		SourceType: sourceType,
	}, h.splitter.SplitPages(res.Pages))
	if err != nil {
		h.logger.Error("creating document", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create document")
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// upload handles POST /api/v1/documents/upload — stores the file on disk,
// answers 202, and parses + embeds it in the background.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "uploaded file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart form with a 'file' field is required")
		return
	}
	defer file.Close() //nolint:errcheck

	filename := filepath.Base(header.Filename)
	fileType := parser.FileType(filename)
	if fileType == "" {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_type", "supported types: pdf, docx, txt, md")
		return
	}

	path, size, err := h.saveUpload(file, filename)
	if err != nil {
		h.logger.Error("saving upload", "error", err, "filename", filename)
		writeError(w, http.StatusInternalServerError, "save_failed", "failed to store uploaded file")
		return
	}

	h.ingests.Add(1)
	go h.processUpload(path, filename, fileType, size)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "processing",
		"filename": filename,
	})
}

// saveUpload copies the uploaded file into the upload directory under a
// random name, keeping only the original extension.
func (h *documentHandler) saveUpload(src io.Reader, filename string) (string, int64, error) {
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		return "", 0, fmt.Errorf("creating upload dir: %w", err)
	}

	path := filepath.Join(h.uploadDir, uuid.New().String()+filepath.Ext(filename))
	dst, err := os.Create(path) // #nosec G304 -- name is a fresh UUID inside our own directory
	if err != nil {
		return "", 0, fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close() //nolint:errcheck

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(path) //nolint:errcheck
		return "", 0, fmt.Errorf("writing upload file: %w", err)
	}
	return path, size, nil
}

// processUpload parses and embeds one stored upload. Runs detached from
// the request; failures are logged, the stored file is always removed.
func (h *documentHandler) processUpload(path, filename, fileType string, size int64) {
	defer h.ingests.Done()
	defer os.Remove(path) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	res, err := parser.ParseFile(path)
	if err != nil {
		h.logger.Error("parsing upload", "error", err, "filename", filename)
		return
	}
	if len(res.Pages) == 0 {
		h.logger.Warn("upload contained no extractable text", "filename", filename)
		return
	}

	doc, err := h.store.CreateDocument(ctx, knowledge.NewDocument{
		Title:      res.Title,
		SourceType: knowledge.SourceTypeFile,
		Filename:   filename,
		FileType:   fileType,
		FileSize:   size,
	}, h.splitter.SplitPages(res.Pages))
	if err != nil {
		h.logger.Error("ingesting upload", "error", err, "filename", filename)
		return
	}

	h.logger.Info("upload ingested",
		"document_id", doc.ID,
		"filename", filename,
		"chunks", doc.ChunkCount,
	)
}

// wait blocks until all in-flight background ingestions finish.
func (h *documentHandler) wait() {
	h.ingests.Wait()
}

// ingestURLRequest is the body for POST /api/v1/documents/url.
type ingestURLRequest struct {
	URL string `json:"url"`
}

// ingestURL handles POST /api/v1/documents/url — fetches a web page and
// ingests its readable content synchronously.
func (h *documentHandler) ingestURL(w http.ResponseWriter, r *http.Request) {
	var req ingestURLRequest
	if !decodeBody(w, r, &req, 4096) {
		return
	}

	res, err := parser.FetchURL(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch_failed", "could not fetch or parse the page")
		return
	}

	doc, err := h.store.CreateDocument(r.Context(), knowledge.NewDocument{
		Title:      res.Title,
		SourceType: knowledge.SourceTypeURL,
		SourceID:   req.URL,
	}, h.splitter.SplitPages(res.Pages))
	if err != nil {
		h.logger.Error("ingesting url", "error", err, "url", req.URL)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to ingest page")
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// listDocuments handles GET /api/v1/documents.
func (h *documentHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 1, 1000)
	offset := parseIntParam(r, "offset", 0, 0, 1<<20)

	docs, err := h.store.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items(docs),
		"count": len(docs),
	})
}

// getDocument handles GET /api/v1/documents/{id} — document metadata plus
// its full content reassembled from chunks in index order.
func (h *documentHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("getting document", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get document")
		return
	}

	chunks, err := h.store.ListChunks(r.Context(), id)
	if err != nil {
		h.logger.Error("listing chunks", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to load document content")
		return
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"content":  strings.Join(contents, "\n\n"),
	})
}

// deleteDocument handles DELETE /api/v1/documents/{id}.
func (h *documentHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.DeleteDocument(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("deleting document", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// listChunks handles GET /api/v1/documents/{id}/chunks.
func (h *documentHandler) listChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	chunks, err := h.store.ListChunks(r.Context(), id)
	if err != nil {
		h.logger.Error("listing chunks", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chunks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items(chunks),
		"count": len(chunks),
	})
}

// updateChunkRequest is the body for PATCH /api/v1/chunks/{id}.
type updateChunkRequest struct {
	Content string `json:"content"`
}

// updateChunk handles PATCH /api/v1/chunks/{id} — replaces a chunk's
// content and re-embeds it inline.
func (h *documentHandler) updateChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req updateChunkRequest
	if !decodeBody(w, r, &req, maxNoteBytes) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}

	c, err := h.store.UpdateChunkContent(r.Context(), id, req.Content)
	if err != nil {
		if errors.Is(err, knowledge.ErrChunkNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chunk not found")
			return
		}
		h.logger.Error("updating chunk", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to update chunk")
		return
	}

	writeJSON(w, http.StatusOK, c)
}
