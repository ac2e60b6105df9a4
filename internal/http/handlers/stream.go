package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"dashboard/internal/domain"
)

// eventQueue is filled by the bus listener and drained by the stream loop.
// push never blocks, so it is safe to call under the bus lock.
type eventQueue struct {
	mu      sync.Mutex
	pending []domain.StatusEvent
	signal  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt domain.StatusEvent) {
	q.mu.Lock()
	q.pending = append(q.pending, evt)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []domain.StatusEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Stream relays status events for ?requestId= as Server-Sent Events. The
// stream opens with a stream-open event, replays history, then follows live
// events and closes after the first terminal event.
func (a *App) Stream(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		http.Error(w, "requestId query parameter is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	log := a.Logger.With().Str("request_id", requestID).Logger()

	open, _ := json.Marshal(map[string]string{"requestId": requestID})
	if err := writeFrame(w, "stream-open", open); err != nil {
		return
	}
	flusher.Flush()

	queue := newEventQueue()
	unsubscribe := a.Bus.Subscribe(requestID, queue.push)
	a.Metrics.StreamOpened()
	log.Debug().Msg("stream: opened")

	var once sync.Once
	teardown := func(reason string) {
		once.Do(func() {
			unsubscribe()
			a.Metrics.StreamClosed()
			log.Debug().Str("reason", reason).Msg("stream: closed")
		})
	}
	reason := "client disconnected"
	defer func() { teardown(reason) }()

	heartbeat := time.NewTicker(a.heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				reason = "write failed"
				return
			}
			flusher.Flush()
		case <-queue.signal:
			for _, evt := range queue.drain() {
				payload, err := json.Marshal(evt)
				if err != nil {
					log.Error().Err(err).Msg("stream: encode event")
					continue
				}
				if err := writeFrame(w, "", payload); err != nil {
					reason = "write failed"
					return
				}
				if evt.Type.IsTerminal() {
					flusher.Flush()
					reason = "terminal event"
					return
				}
			}
			flusher.Flush()
		}
	}
}

func (a *App) heartbeat() time.Duration {
	if a.Heartbeat > 0 {
		return a.Heartbeat
	}
	return HeartbeatInterval
}

// writeFrame writes one SSE frame. Multi-line payloads become one data line
// per line.
func writeFrame(w http.ResponseWriter, event string, data []byte) error {
	var buf bytes.Buffer
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
