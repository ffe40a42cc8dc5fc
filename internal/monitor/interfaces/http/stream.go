package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	monitorapp "proximity-guard/internal/monitor/application"
)

// SSEBroker fans out session events to connected stream clients.
// Subscriptions are per session, so one vehicle pair's snapshots never
// reach another pair's watchers.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[string]map[chan []byte]struct{}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[string]map[chan []byte]struct{})}
}

// Notify implements the session notifier interface.
func (b *SSEBroker) Notify(_ context.Context, event monitorapp.Event) {
	if b == nil || event.SessionID == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.broadcast(event.SessionID, payload)
}

// Subscribe registers a new client channel for a session.
func (b *SSEBroker) Subscribe(sessionID string) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	subs, ok := b.clients[sessionID]
	if !ok {
		subs = make(map[chan []byte]struct{})
		b.clients[sessionID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(sessionID string, ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	if subs, ok := b.clients[sessionID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.clients, sessionID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// broadcast delivers under the lock so a channel can never be closed
// mid-send. Sends never block; slow clients drop frames.
func (b *SSEBroker) broadcast(sessionID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients[sessionID] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ServeStream streams a session's events over SSE until the client
// disconnects.
func (b *SSEBroker) ServeStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	if b == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.Subscribe(sessionID)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer b.Unsubscribe(sessionID, ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: monitor\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
