package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/narration"
	"fieldtriage/internal/observe"
)

type staticStatus domain.SessionStatus

func (s staticStatus) Status() domain.SessionStatus {
	return domain.SessionStatus(s)
}

func newTestServer(t *testing.T, metrics http.Handler) (*httptest.Server, *narration.Log) {
	t.Helper()
	log := narration.NewLog(narration.DefaultCapacity)
	log.Seed(narration.ReadyLines...)
	srv := New(Config{
		Log: log,
		Status: staticStatus{
			SessionID:    "s-1",
			Capture:      domain.CaptureStatus{State: domain.CaptureIdle, Language: "hi"},
			Orchestrator: domain.OrchestratorState{Phase: domain.PhaseSubmitting},
		},
		Metrics: metrics,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, log
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestHealthAndNarration(t *testing.T) {
	t.Parallel()

	ts, log := newTestServer(t, nil)
	log.Append("Agent A: Recording started (hi).")

	var health map[string]string
	getJSON(t, ts.URL+"/healthz", &health)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health %v", health)
	}

	var entries []domain.NarrationEntry
	getJSON(t, ts.URL+"/api/narration", &entries)
	if len(entries) != len(narration.ReadyLines)+1 {
		t.Fatalf("unexpected entry count %d", len(entries))
	}
	if entries[0].Message != "Agent A: Recording started (hi)." {
		t.Fatalf("expected newest first, got %q", entries[0].Message)
	}
}

func TestNarrationSinceCursor(t *testing.T) {
	t.Parallel()

	ts, log := newTestServer(t, nil)
	seeded := uint64(len(narration.ReadyLines))

	var page NarrationPage
	getJSON(t, ts.URL+"/api/narration?since=1", &page)
	if len(page.Entries) != 2 || page.Entries[0].Sequence != 2 || page.Next != seeded {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Capacity != narration.DefaultCapacity || page.Truncated {
		t.Fatalf("unexpected page metadata %+v", page)
	}

	done := make(chan NarrationPage, 1)
	go func() {
		var waited NarrationPage
		resp, err := http.Get(fmt.Sprintf("%s/api/narration?since=%d&wait=5s", ts.URL, seeded))
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&waited)
			resp.Body.Close()
		}
		done <- waited
	}()
	log.Append("Agent A: Recording started (hi).")

	select {
	case waited := <-done:
		if len(waited.Entries) != 1 || waited.Entries[0].Message != "Agent A: Recording started (hi)." {
			t.Fatalf("unexpected long-poll page %+v", waited)
		}
		if waited.Next != seeded+1 {
			t.Fatalf("expected cursor %d, got %d", seeded+1, waited.Next)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("long poll did not return")
	}
}

func TestNarrationSinceWaitTimesOut(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)
	seeded := uint64(len(narration.ReadyLines))

	var page NarrationPage
	getJSON(t, fmt.Sprintf("%s/api/narration?since=%d&wait=50ms", ts.URL, seeded), &page)
	if len(page.Entries) != 0 || page.Next != seeded {
		t.Fatalf("expected empty page at cursor %d, got %+v", seeded, page)
	}

	// A cursor ahead of the log is clamped to the newest entry.
	getJSON(t, ts.URL+"/api/narration?since=999", &page)
	if len(page.Entries) != 0 || page.Next != seeded {
		t.Fatalf("expected clamped cursor, got %+v", page)
	}
}

func TestNarrationSinceReportsEviction(t *testing.T) {
	t.Parallel()

	log := narration.NewLog(4)
	for i := 0; i < 10; i++ {
		log.Append(fmt.Sprintf("event %d", i+1))
	}
	ts := httptest.NewServer(New(Config{Log: log}).Handler())
	t.Cleanup(ts.Close)

	var page NarrationPage
	getJSON(t, ts.URL+"/api/narration?since=2", &page)
	if !page.Truncated || page.Capacity != 4 || len(page.Entries) != 4 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Entries[0].Message != "event 7" || page.Next != 10 {
		t.Fatalf("unexpected window %+v", page)
	}

	resp, err := http.Get(ts.URL + "/api/narration")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Narration-Seq"); got != "10" {
		t.Fatalf("unexpected sequence header %q", got)
	}

	for _, query := range []string{"since=x", "since=1&wait=forever"} {
		resp, err := http.Get(ts.URL + "/api/narration?" + query)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestStateIncludesBoard(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	var state StateResponse
	getJSON(t, ts.URL+"/api/state", &state)
	if state.Session.SessionID != "s-1" || state.Session.Orchestrator.Phase != domain.PhaseSubmitting {
		t.Fatalf("unexpected session %+v", state.Session)
	}
	if len(state.Board.Agents) != 4 || !state.Board.Agents[3].Running {
		t.Fatalf("unexpected board %+v", state.Board)
	}
	if state.Board.Risk.Set {
		t.Fatal("risk chip should be pending while submitting")
	}
}

func TestMetricsRouteOptional(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics, got %d", resp.StatusCode)
	}

	provider, err := observe.NewPrometheusProvider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics.NarrationAppended(domain.NarrationEntry{Sequence: 1})

	ts, _ = newTestServer(t, provider.Handler)
	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "narration") {
		t.Fatalf("unexpected metrics response %d:\n%s", resp.StatusCode, body)
	}
}

func TestNarrationWebsocket(t *testing.T) {
	t.Parallel()

	ts, log := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/narration/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot narration.FeedMessage
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Kind != "snapshot" || len(snapshot.Entries) != len(narration.ReadyLines) {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	log.Append("Agent A: Recording stopped.")
	var update narration.FeedMessage
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Kind != "entry" || update.Entries[0].Message != "Agent A: Recording stopped." {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := New(Config{Log: narration.NewLog(0)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
