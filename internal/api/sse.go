package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// sseWriter streams JSON-encoded Server-Sent Events. Every event payload
// is a single JSON object, so the data field never spans multiple lines.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// newSSEWriter wraps the response writer for SSE streaming and sets the
// stream headers.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent sends one named event with a JSON payload and flushes it.
func (s *sseWriter) writeEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// writeError sends an error event. Best effort: the stream may already be
// broken when this is called.
func (s *sseWriter) writeError(code, message string) {
	_ = s.writeEvent("error", map[string]string{"code": code, "message": message})
}
