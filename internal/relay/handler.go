package relay

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Encoder turns a value into an SSE event name and data line. Returning
// ok=false skips the value.
type Encoder[T any] func(r *http.Request, v T) (event, data string, ok bool)

// SSEHandler returns an http.HandlerFunc that streams broker values as
// server-sent events until the client disconnects.
func SSEHandler[T any](broker *Broker[T], encode Encoder[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				event, data, ok := encode(r, v)
				if !ok {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
					slog.Debug("sse write failed", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}
