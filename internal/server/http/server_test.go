package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/strand/internal/config"
	"github.com/rzbill/strand/internal/eventstore"
	"github.com/rzbill/strand/internal/runtime"
	pebblestore "github.com/rzbill/strand/internal/storage/pebble"
	logpkg "github.com/rzbill/strand/pkg/log"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir: t.TempDir(),
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  cfgpkg.Default(),
	})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	return New(rt, logger)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestAppendAndReadHandlers(t *testing.T) {
	s := newTestServer(t)

	body := `{"stream":"orders","events":[{"type":"placed","payload":"aGVsbG8="},{"type":"paid"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/streams/append", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("append status: %d body=%s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/streams/read?stream=orders&from_version=1", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("read status: %d", w.Code)
	}
	var rd struct {
		Events []eventJSON `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &rd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rd.Events) != 2 || rd.Events[0].Version != 1 || rd.Events[1].Type != "paid" {
		t.Fatalf("unexpected read: %+v", rd.Events)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/events?from_position=2", nil)
	w = httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &rd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rd.Events) != 1 || rd.Events[0].Position != 2 {
		t.Fatalf("unexpected global read: %+v", rd.Events)
	}
}

func TestAppendConflictStatus(t *testing.T) {
	s := newTestServer(t)
	body := `{"stream":"orders","expected_version":0,"events":[{"type":"t"}]}`
	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/v1/streams/append", strings.NewReader(body))
		w := httptest.NewRecorder()
		s.srv.Handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("attempt %d: status %d, want %d", i, w.Code, want)
		}
	}
}

func TestAckMissingCursorStatus(t *testing.T) {
	s := newTestServer(t)
	body := `{"scope":"*","name":"ghost","position":1}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions/ack", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestSubscribeSSEDeliversAndAcks(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	body := `{"stream":"orders","events":[{"type":"placed"},{"type":"paid"}]}`
	resp, err := http.Post(ts.URL+"/v1/streams/append", "application/json", strings.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("append: %v %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/subscribe?scope=orders&name=billing", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	var got []eventJSON
	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() && len(got) < 2 {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev eventJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode sse: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Position != 1 || got[1].Position != 2 {
		t.Fatalf("unexpected sse replay: %+v", got)
	}

	ack := `{"scope":"orders","name":"billing","position":2,"version":2}`
	resp, err = http.Post(ts.URL+"/v1/subscriptions/ack", "application/json", strings.NewReader(ack))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("ack: %v %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/v1/subscriptions")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var ls struct {
		Subscriptions []eventstore.Cursor `json:"subscriptions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ls); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(ls.Subscriptions) != 1 || ls.Subscriptions[0].Position != 2 {
		t.Fatalf("cursor not advanced: %+v", ls.Subscriptions)
	}
}

func TestSubscribeSSESeededStartSkipsReplayed(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.srv.Handler)
	defer ts.Close()

	body := `{"stream":"orders","events":[{"type":"a"},{"type":"b"},{"type":"c"}]}`
	resp, err := http.Post(ts.URL+"/v1/streams/append", "application/json", strings.NewReader(body))
	if err != nil || resp.StatusCode != http.StatusCreated {
		t.Fatalf("append: %v %d", err, resp.StatusCode)
	}
	resp.Body.Close()

	// Stream-scope replay positions by version, so the seeded cursor
	// carries both markers. Only the third event may come back.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/v1/subscribe?scope=orders&name=audit&start_position=2&start_version=2", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stream.Body.Close()

	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev eventJSON
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode sse: %v", err)
		}
		if ev.Version != 3 || ev.Type != "c" {
			t.Fatalf("seeded start replayed event: %+v", ev)
		}
		return
	}
	t.Fatalf("no delivery past the seeded start: %v", sc.Err())
}
