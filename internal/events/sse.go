package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams events as server-sent events. Clients may narrow the
// stream with ?kinds=a,b and ?tab_id=id.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var kinds map[Kind]bool
		if q := r.URL.Query().Get("kinds"); q != "" {
			kinds = make(map[Kind]bool)
			for _, k := range strings.Split(q, ",") {
				if k = strings.TrimSpace(k); k != "" {
					kinds[Kind(k)] = true
				}
			}
		}
		tabID := r.URL.Query().Get("tab_id")

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
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if kinds != nil && !kinds[evt.Kind] {
					continue
				}
				if tabID != "" && evt.TabID != tabID {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					slog.Debug("events marshal failed", "kind", evt.Kind, "error", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
