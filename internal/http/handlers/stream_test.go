package handlers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"dashboard/internal/domain"
	"dashboard/internal/status"
)

type frame struct {
	event string
	data  string
	raw   []string
}

// readFrame reads lines up to the next blank line.
func readFrame(t *testing.T, r *bufio.Reader) (frame, error) {
	t.Helper()
	var f frame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return f, err
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(f.raw) == 0 {
				continue
			}
			return f, nil
		}
		f.raw = append(f.raw, line)
		switch {
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data += strings.TrimPrefix(line, "data: ")
		}
	}
}

func readEvent(t *testing.T, r *bufio.Reader) domain.StatusEvent {
	t.Helper()
	f, err := readFrame(t, r)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var evt domain.StatusEvent
	if err := json.Unmarshal([]byte(f.data), &evt); err != nil {
		t.Fatalf("decode event %q: %v", f.data, err)
	}
	return evt
}

func openStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	return resp, bufio.NewReader(resp.Body)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestStreamRequiresRequestID(t *testing.T) {
	app := NewApp(status.NewBus(), nil, nil)
	rec := httptest.NewRecorder()
	app.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/generate/stream", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestStreamReplaysThenFollowsUntilTerminal(t *testing.T) {
	bus := status.NewBus()
	app := NewApp(bus, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(app.Stream))
	defer ts.Close()

	bus.Publish(domain.StatusEvent{RequestID: "req-s", Type: domain.EventQueued, Route: domain.RouteEdit})

	resp, reader := openStream(t, context.Background(), ts.URL+"?requestId=req-s")
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache, no-transform" {
		t.Fatalf("cache control = %q", got)
	}

	open, err := readFrame(t, reader)
	if err != nil {
		t.Fatalf("read open frame: %v", err)
	}
	if open.event != "stream-open" || open.data != `{"requestId":"req-s"}` {
		t.Fatalf("open frame = %+v", open)
	}

	if evt := readEvent(t, reader); evt.Type != domain.EventQueued || evt.Route != domain.RouteEdit {
		t.Fatalf("replayed event = %+v", evt)
	}

	bus.Publish(domain.StatusEvent{RequestID: "req-s", Type: domain.EventStarted})
	bus.Publish(domain.StatusEvent{RequestID: "req-s", Type: domain.EventCompleted, Previews: []string{"a", "b", "c"}})
	bus.Publish(domain.StatusEvent{RequestID: "req-s", Type: domain.EventFailed})

	if evt := readEvent(t, reader); evt.Type != domain.EventStarted {
		t.Fatalf("live event = %+v", evt)
	}
	completed := readEvent(t, reader)
	if completed.Type != domain.EventCompleted || len(completed.Previews) != 3 {
		t.Fatalf("terminal event = %+v", completed)
	}

	rest, _ := io.ReadAll(reader)
	if strings.TrimSpace(string(rest)) != "" {
		t.Fatalf("stream should end after the terminal event, got %q", rest)
	}
	waitFor(t, func() bool { return bus.ListenerCount("req-s") == 0 })
}

func TestStreamConnectedBeforeFirstEventReceivesFullLifecycle(t *testing.T) {
	bus := status.NewBus()
	app := NewApp(bus, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(app.Stream))
	defer ts.Close()

	resp, reader := openStream(t, context.Background(), ts.URL+"?requestId=req-early")
	defer resp.Body.Close()
	if f, err := readFrame(t, reader); err != nil || f.event != "stream-open" {
		t.Fatalf("open frame = %+v err = %v", f, err)
	}
	waitFor(t, func() bool { return bus.ListenerCount("req-early") == 1 })
	if h := bus.History("req-early"); len(h) != 0 {
		t.Fatalf("history before first publish = %v", h)
	}

	bus.Publish(domain.StatusEvent{RequestID: "req-early", Type: domain.EventQueued})
	bus.Publish(domain.StatusEvent{RequestID: "req-early", Type: domain.EventStarted})
	bus.Publish(domain.StatusEvent{RequestID: "req-early", Type: domain.EventCompleted, Previews: []string{"a", "b", "c"}})

	for _, want := range []domain.EventType{domain.EventQueued, domain.EventStarted, domain.EventCompleted} {
		if evt := readEvent(t, reader); evt.Type != want {
			t.Fatalf("event = %+v, want %s", evt, want)
		}
	}
	rest, _ := io.ReadAll(reader)
	if strings.TrimSpace(string(rest)) != "" {
		t.Fatalf("stream should end after the terminal event, got %q", rest)
	}
	waitFor(t, func() bool { return bus.ListenerCount("req-early") == 0 })
}

func TestStreamFanOutToMultipleSubscribers(t *testing.T) {
	bus := status.NewBus()
	app := NewApp(bus, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(app.Stream))
	defer ts.Close()

	respA, readerA := openStream(t, context.Background(), ts.URL+"?requestId=req-m")
	defer respA.Body.Close()
	respB, readerB := openStream(t, context.Background(), ts.URL+"?requestId=req-m")
	defer respB.Body.Close()
	for _, r := range []*bufio.Reader{readerA, readerB} {
		if f, err := readFrame(t, r); err != nil || f.event != "stream-open" {
			t.Fatalf("open frame = %+v err = %v", f, err)
		}
	}
	waitFor(t, func() bool { return bus.ListenerCount("req-m") == 2 })

	bus.Publish(domain.StatusEvent{RequestID: "req-m", Type: domain.EventFailed, Error: &domain.ErrorInfo{Code: domain.CodeTimeout}})
	for _, r := range []*bufio.Reader{readerA, readerB} {
		evt := readEvent(t, r)
		if evt.Type != domain.EventFailed || evt.Error == nil || evt.Error.Code != domain.CodeTimeout {
			t.Fatalf("event = %+v", evt)
		}
	}
}

func TestStreamDisconnectTearsDown(t *testing.T) {
	bus := status.NewBus()
	app := NewApp(bus, nil, nil)
	ts := httptest.NewServer(http.HandlerFunc(app.Stream))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp, reader := openStream(t, ctx, ts.URL+"?requestId=req-c")
	defer resp.Body.Close()
	if _, err := readFrame(t, reader); err != nil {
		t.Fatalf("read open frame: %v", err)
	}
	waitFor(t, func() bool { return bus.ListenerCount("req-c") == 1 })

	cancel()
	waitFor(t, func() bool { return bus.ListenerCount("req-c") == 0 })

	if !bus.Publish(domain.StatusEvent{RequestID: "req-c", Type: domain.EventCompleted}) {
		t.Fatalf("publishing after disconnect should still succeed")
	}
}

func TestStreamSendsHeartbeat(t *testing.T) {
	bus := status.NewBus()
	app := NewApp(bus, nil, nil, WithHeartbeat(10*time.Millisecond))
	ts := httptest.NewServer(http.HandlerFunc(app.Stream))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, reader := openStream(t, ctx, ts.URL+"?requestId=req-h")
	defer resp.Body.Close()
	if _, err := readFrame(t, reader); err != nil {
		t.Fatalf("read open frame: %v", err)
	}
	f, err := readFrame(t, reader)
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	if len(f.raw) != 1 || f.raw[0] != ": keep-alive" {
		t.Fatalf("heartbeat frame = %+v", f)
	}
}
