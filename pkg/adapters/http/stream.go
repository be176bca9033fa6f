package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// StreamManager fans process transitions out to SSE subscribers.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan string]struct{} // process ID -> channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan string]struct{}),
	}
}

// Subscribe registers a channel for processID. The returned func removes
// and closes it.
func (sm *StreamManager) Subscribe(processID string) (<-chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[processID]; !ok {
		sm.subscribers[processID] = make(map[chan string]struct{})
	}
	sm.subscribers[processID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[processID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, processID)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of processID. Slow subscribers
// miss messages rather than block the engine.
func (sm *StreamManager) Broadcast(processID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers[processID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Listeners returns hooks that broadcast every process transition.
func (sm *StreamManager) Listeners() domain.Listeners {
	return domain.Listeners{
		OnProcess: func(_ context.Context, e *domain.ProcessEvent) {
			data, err := json.Marshal(e)
			if err != nil {
				return
			}
			sm.Broadcast(e.ProcessID, string(data))
		},
	}
}

// StreamProcess handles GET /processes/{id}/stream (SSE).
func (s *Server) StreamProcess(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	processID := chi.URLParam(r, "id")
	ch, cancel := s.Streams.Subscribe(processID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.DebugContext(r.Context(), "SSE client subscribed", "process_id", processID)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: process\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
