package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger    *slog.Logger
	Documents DocumentStore   // Required
	Chats     ChatStore       // Required
	Service   Answerer        // Required
	Search    Searcher        // Required
	Splitter  *chunk.Splitter // Required
	Pool      *pgxpool.Pool   // Optional: nil disables pool stats in /ready

	UploadDir      string
	MaxUploadBytes int64
	CORSOrigins    []string // Allowed origins for CORS
	TrustProxy     bool     // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateBurst      int      // Rate limiter burst size per client (0 = default 60)
	RatePerSecond  float64  // Rate limiter refill per client per second (0 = default 1)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux  *http.ServeMux
	docs *documentHandler
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Documents == nil || cfg.Chats == nil || cfg.Service == nil || cfg.Search == nil {
		return nil, errors.New("document store, chat store, chat service and searcher are required")
	}
	if cfg.Splitter == nil {
		return nil, errors.New("splitter is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = "uploads"
	}

	dh := &documentHandler{
		store:     cfg.Documents,
		splitter:  cfg.Splitter,
		logger:    logger,
		uploadDir: uploadDir,
		maxUpload: maxUpload,
	}
	ch := &chatHandler{store: cfg.Chats, service: cfg.Service, logger: logger}
	sh := &searchHandler{store: cfg.Search, logger: logger}

	mux := http.NewServeMux()

	// Documents
	mux.HandleFunc("POST /api/v1/documents", dh.createDocument)
	mux.HandleFunc("POST /api/v1/documents/upload", dh.upload)
	mux.HandleFunc("POST /api/v1/documents/url", dh.ingestURL)
	mux.HandleFunc("GET /api/v1/documents", dh.listDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.getDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.deleteDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}/chunks", dh.listChunks)
	mux.HandleFunc("PATCH /api/v1/chunks/{id}", dh.updateChunk)

	// Chats
	mux.HandleFunc("POST /api/v1/chats", ch.createChat)
	mux.HandleFunc("GET /api/v1/chats", ch.listChats)
	mux.HandleFunc("GET /api/v1/chats/{id}", ch.getChat)
	mux.HandleFunc("PATCH /api/v1/chats/{id}", ch.renameChat)
	mux.HandleFunc("DELETE /api/v1/chats/{id}", ch.deleteChat)
	mux.HandleFunc("GET /api/v1/chats/{id}/messages", ch.listMessages)
	mux.HandleFunc("POST /api/v1/chats/{id}/messages", ch.ask)
	mux.HandleFunc("POST /api/v1/chats/{id}/knowledge", ch.saveToKnowledge)

	// Search
	mux.HandleFunc("GET /api/v1/search", sh.search)

	// Per-client token bucket throttle
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	th := newThrottle(cfg.RatePerSecond, burst, cfg.TrustProxy, logger)

	// Build middleware stack (outermost first):
	//   Recovery → Logging → CORS → RateLimit → Routes
	// CORS must be before RateLimit so preflight OPTIONS gets proper CORS
	// headers.
	var handler http.Handler = mux
	handler = th.middleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Top-level mux keeps health probes outside the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, docs: dh}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Drain waits for in-flight background upload ingestions to finish. Call
// after the HTTP listener has stopped accepting requests.
func (s *Server) Drain() {
	s.docs.wait()
}
