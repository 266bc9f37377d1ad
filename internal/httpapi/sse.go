package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseEventWriter is the single-writer SSE sink the composer (C8) emits
// events to. Each event is one `data: ` line carrying a JSON envelope
// `{"type": <event>, "data": <payload>}`, matching spec.md §6's per-line
// "data: " framing with the event table's type names carried inside the
// envelope rather than as a separate SSE "event:" field.
type sseEventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEEventWriter(w http.ResponseWriter) *sseEventWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &sseEventWriter{w: w, flusher: flusher}
}

func (s *sseEventWriter) WriteEvent(event string, payload any) error {
	body, err := json.Marshal(map[string]any{"type": event, "data": payload})
	if err != nil {
		return fmt.Errorf("sse: marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("sse: write %s event: %w", event, err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
