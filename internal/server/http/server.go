package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/runtime"
	"github.com/rzbill/strand/internal/subscription"
	"github.com/rzbill/strand/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

func New(rt *runtime.Runtime, logger log.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		rt:     rt,
		srv:    &http.Server{Handler: cors(mux)},
		logger: logger.With(log.Component("http")),
	}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/streams/append", s.handleAppend)
	mux.HandleFunc("/v1/streams/read", s.handleReadStream)
	mux.HandleFunc("/v1/streams/stats", s.handleStreamStats)
	mux.HandleFunc("/v1/streams", s.handleListStreams)
	mux.HandleFunc("/v1/events", s.handleReadAll)
	mux.HandleFunc("/v1/subscribe", s.handleSubscribeSSE)
	mux.HandleFunc("/v1/subscriptions/ack", s.handleAck)
	mux.HandleFunc("/v1/subscriptions/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/v1/subscriptions", s.handleListSubscriptions)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// eventJSON is the wire shape of one event. Payload and metadata are
// base64 in JSON, as Go encodes []byte.
type eventJSON struct {
	ID          string `json:"id"`
	Stream      string `json:"stream"`
	Version     int64  `json:"version"`
	Position    uint64 `json:"position"`
	Type        string `json:"type"`
	Payload     []byte `json:"payload,omitempty"`
	Metadata    []byte `json:"metadata,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func toWire(evs []eventstore.Event) []eventJSON {
	out := make([]eventJSON, len(evs))
	for i, ev := range evs {
		out[i] = eventJSON{
			ID: ev.ID, Stream: ev.Stream, Version: ev.Version, Position: ev.Position,
			Type: ev.Type, Payload: ev.Payload, Metadata: ev.Metadata, CreatedAtMs: ev.CreatedAtMs,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, eventstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, eventstore.ErrConcurrencyConflict),
		errors.Is(err, eventstore.ErrOutOfOrderAck),
		errors.Is(err, subscription.ErrSubscriptionActive):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type appendReq struct {
	Stream string `json:"stream"`
	// ExpectedVersion defaults to -1 (no concurrency check) when omitted.
	ExpectedVersion *int64 `json:"expected_version"`
	Events          []struct {
		Type     string `json:"type"`
		Payload  []byte `json:"payload"`
		Metadata []byte `json:"metadata"`
	} `json:"events"`
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req appendReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	expected := eventstore.AnyVersion
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	data := make([]eventstore.EventData, len(req.Events))
	for i, e := range req.Events {
		data[i] = eventstore.EventData{Type: e.Type, Payload: e.Payload, Metadata: e.Metadata}
	}
	evs, err := s.rt.Events().Append(r.Context(), req.Stream, expected, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"events": toWire(evs)})
}

func (s *Server) handleReadStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	fromVersion, _ := strconv.ParseInt(q.Get("from_version"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	evs, err := s.rt.Events().ReadStream(r.Context(), q.Get("stream"), fromVersion, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toWire(evs)})
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	fromPosition, _ := strconv.ParseUint(q.Get("from_position"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	evs, err := s.rt.Events().ReadAll(r.Context(), fromPosition, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toWire(evs)})
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	infos, err := s.rt.Events().ListStreams(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streams": infos})
}

func (s *Server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.rt.Events().StreamStats(r.Context(), r.URL.Query().Get("stream"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type ackReq struct {
	Scope    string `json:"scope"`
	Name     string `json:"name"`
	Position uint64 `json:"position"`
	Version  int64  `json:"version"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cur, err := s.rt.Events().Ack(r.Context(), eventstore.Scope(req.Scope), req.Name, req.Position, req.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

type unsubscribeReq struct {
	Scope string `json:"scope"`
	Name  string `json:"name"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req unsubscribeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.rt.Events().Unsubscribe(r.Context(), eventstore.Scope(req.Scope), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	curs, err := s.rt.Events().ListSubscriptions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": curs})
}
