package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"travel-booking/internal/logger"
)

// SetupHeaders prepares w for a text/event-stream response.
func SetupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

// Stream writes every value from ch as an SSE frame until ch closes or the
// client goes away. name picks the event name of each frame.
func Stream[T any](w http.ResponseWriter, r *http.Request, ch <-chan T, name func(T) string, log *logger.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	SetupHeaders(w)
	fmt.Fprint(w, "event: connected\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				log.Error("SSE", fmt.Sprintf("Failed to serialize event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name(v), data)
			flusher.Flush()

		case <-ctx.Done():
			log.Debug("SSE", "Client disconnected")
			return
		}
	}
}
