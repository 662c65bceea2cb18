package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/journal"
)

type fakeEvents struct {
	events []journal.Event
	err    error
	limit  int
}

func (f *fakeEvents) Recent(_ context.Context, limit int) ([]journal.Event, error) {
	f.limit = limit
	return f.events, f.err
}

func do(t *testing.T, s *Server, method, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, body
}

func TestStatus(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	s.SetPhase(PhaseResolving)
	s.UpdateStatus(func(st *Status) {
		st.Frames = 120
		st.LastIdentity = "dxs"
	})

	resp, body := do(t, s, http.MethodGet, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got Status
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Phase != PhaseResolving || got.Frames != 120 || got.LastIdentity != "dxs" {
		t.Errorf("status = %+v", got)
	}
}

func TestLogsAreCapped(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	for i := 0; i < maxLogs+10; i++ {
		s.AddLog("info", "line")
	}
	_, body := do(t, s, http.MethodGet, "/api/logs")
	var got []LogEntry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != maxLogs {
		t.Errorf("logs = %d, want %d", len(got), maxLogs)
	}
}

func TestEvents(t *testing.T) {
	src := &fakeEvents{events: []journal.Event{{ID: "1", Kind: journal.KindGreeting, DisplayKey: "dxs"}}}
	s := NewServer(0, WithEvents(src), WithLogger(log.Discard()))

	resp, body := do(t, s, http.MethodGet, "/api/events?limit=5")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got []journal.Event
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DisplayKey != "dxs" || src.limit != 5 {
		t.Errorf("events = %+v, limit = %d", got, src.limit)
	}

	do(t, s, http.MethodGet, "/api/events")
	if src.limit != defaultEventLimit {
		t.Errorf("default limit = %d", src.limit)
	}

	src.err = errors.New("db locked")
	if resp, _ := do(t, s, http.MethodGet, "/api/events"); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status on error = %d", resp.StatusCode)
	}
}

func TestEventsDisabled(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	if resp, _ := do(t, s, http.MethodGet, "/api/events"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStop(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	if resp, _ := do(t, s, http.MethodPost, "/api/stop"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unconfigured stop = %d", resp.StatusCode)
	}

	var stops atomic.Int32
	s.OnStop = func() { stops.Add(1) }
	resp, _ := do(t, s, http.MethodPost, "/api/stop")
	if resp.StatusCode != http.StatusAccepted || stops.Load() != 1 {
		t.Errorf("stop = %d, calls = %d", resp.StatusCode, stops.Load())
	}
	if !s.Status().Stopping {
		t.Error("status not marked stopping")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "concierge_frames_total 3\n")
	})
	s := NewServer(0, WithLogger(log.Discard()))
	if resp, _ := do(t, s, http.MethodGet, "/metrics"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("metrics before SetMetrics = %d", resp.StatusCode)
	}

	s.SetMetrics(h)
	resp, body := do(t, s, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "concierge_frames_total") {
		t.Errorf("metrics = %d %q", resp.StatusCode, body)
	}
}

func TestIndexServed(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	resp, body := do(t, s, http.MethodGet, "/")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/ws/status") {
		t.Errorf("index = %d", resp.StatusCode)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	if resp, _ := do(t, s, http.MethodGet, "/ws/status"); resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestLogHandlerMirrors(t *testing.T) {
	s := NewServer(0, WithLogger(log.Discard()))
	var sink strings.Builder
	next := slog.NewTextHandler(&sink, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(s.LogHandler(next, slog.LevelInfo)).With("component", "greeter")

	logger.Debug("hidden from dashboard")
	logger.Info("owner greeted", "key", "dxs")

	_, body := do(t, s, http.MethodGet, "/api/logs")
	var got []LogEntry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("mirrored %d lines, want 1: %+v", len(got), got)
	}
	if got[0].Level != "info" || got[0].Message != "owner greeted component=greeter key=dxs" {
		t.Errorf("entry = %+v", got[0])
	}
	if !strings.Contains(sink.String(), "hidden from dashboard") {
		t.Error("debug line not passed to the next handler")
	}
}
