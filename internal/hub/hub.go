package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"datalayer/internal/relay"
)

const keepaliveInterval = 30 * time.Second

// observer is one connected SSE client
type observer struct {
	id     string
	events chan []byte
}

// Hub mirrors relay activity to HTTP observers over server-sent events
type Hub struct {
	logger *slog.Logger

	mu         sync.RWMutex
	observers  map[*observer]struct{}
	register   chan *observer
	unregister chan *observer
	broadcast  chan relay.Activity
	stopped    chan struct{}
}

// New creates a new Hub
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		observers:  make(map[*observer]struct{}),
		register:   make(chan *observer),
		unregister: make(chan *observer),
		broadcast:  make(chan relay.Activity, 256),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for o := range h.observers {
				delete(h.observers, o)
				close(o.events)
			}
			h.mu.Unlock()
			return

		case o := <-h.register:
			h.mu.Lock()
			h.observers[o] = struct{}{}
			n := len(h.observers)
			h.mu.Unlock()
			h.logger.Info("observer connected", "observer", o.id, "total", n)

		case o := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.observers[o]; ok {
				delete(h.observers, o)
				close(o.events)
			}
			n := len(h.observers)
			h.mu.Unlock()
			h.logger.Info("observer disconnected", "observer", o.id, "total", n)

		case a := <-h.broadcast:
			data, err := json.Marshal(a)
			if err != nil {
				h.logger.Error("failed to marshal activity", "error", err)
				continue
			}
			msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", a.Type, data))

			h.mu.RLock()
			for o := range h.observers {
				select {
				case o.events <- msg:
				default:
					h.logger.Warn("observer is slow, skipping activity", "observer", o.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish queues activity for all observers. It never blocks, so it can be
// registered with Broker.OnActivity.
func (h *Hub) Publish(a relay.Activity) {
	select {
	case h.broadcast <- a:
	default:
		h.logger.Warn("broadcast channel full, dropping activity", "type", a.Type)
	}
}

// ObserverCount returns the number of connected observers
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// ServeHTTP streams activity as server-sent events
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")

	o := &observer{
		id:     fmt.Sprintf("%d", time.Now().UnixNano()),
		events: make(chan []byte, 64),
	}

	select {
	case h.register <- o:
	case <-h.stopped:
		return
	case <-r.Context().Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- o:
		case <-h.stopped:
		}
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-o.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
