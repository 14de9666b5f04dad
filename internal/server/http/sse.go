package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/subscription"
	"github.com/rzbill/strand/pkg/log"
)

// handleSubscribeSSE streams catch-up and live events as Server-Sent
// Events. The consumer acks on /v1/subscriptions/ack; closing the
// connection detaches the runtime and keeps the durable cursor.
func (s *Server) handleSubscribeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	scope := eventstore.Scope(q.Get("scope"))
	if scope == "" {
		scope = eventstore.ScopeAll
	}
	name := q.Get("name")
	capacity, _ := strconv.Atoi(q.Get("capacity"))
	startPosition, _ := strconv.ParseUint(q.Get("start_position"), 10, 64)
	// Stream-scope replay positions by version, so a seeded cursor needs
	// start_version alongside start_position.
	startVersion, _ := strconv.ParseInt(q.Get("start_version"), 10, 64)

	h, err := s.rt.Events().Subscribe(r.Context(), scope, name, subscription.Options{
		Capacity:      capacity,
		Filter:        q.Get("filter"),
		StartPosition: startPosition,
		StartVersion:  startVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				if err := h.Err(); err != nil {
					s.logger.Warn("subscription stream ended",
						log.Str("scope", string(scope)), log.Str("name", name), log.Err(err))
				}
				return
			}
			if err := sendSSE(w, ev); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, ev eventstore.Event) error {
	b, err := json.Marshal(toWire([]eventstore.Event{ev})[0])
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
