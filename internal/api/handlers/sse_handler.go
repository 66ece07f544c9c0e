package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
)

const defaultHeartbeat = 30 * time.Second

// SessionStatusReader reads the current status of a session
type SessionStatusReader interface {
	Status(ctx context.Context, id string) (*entities.ProcessingStatus, error)
}

// SSEHandler handles Server-Sent Events for live session progress
type SSEHandler struct {
	eventBus  providers.EventBus
	sessions  SessionStatusReader
	heartbeat time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger

	clients map[string]map[chan *entities.SessionEvent]bool // channel -> clients
	mu      sync.RWMutex
}

// SSEOption configures an SSEHandler
type SSEOption func(*SSEHandler)

// WithHeartbeat sets how often an idle stream sends a heartbeat
func WithHeartbeat(d time.Duration) SSEOption {
	return func(h *SSEHandler) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithStreamMetrics tracks connected clients in the stream client gauge
func WithStreamMetrics(metrics *observability.Metrics) SSEOption {
	return func(h *SSEHandler) { h.metrics = metrics }
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus, sessions SessionStatusReader, opts ...SSEOption) *SSEHandler {
	h := &SSEHandler{
		eventBus:  eventBus,
		sessions:  sessions,
		heartbeat: defaultHeartbeat,
		logger:    log.With().Str("component", "sse").Logger(),
		clients:   make(map[string]map[chan *entities.SessionEvent]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StreamSessionUpdates handles GET /api/sessions/{id}/stream. The first
// event carries the current status so a client never starts blind.
func (h *SSEHandler) StreamSessionUpdates(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	// Subscribe before reading the status so no transition falls in between.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	channel := providers.GetSessionChannel(sessionID)
	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channel).Msg("failed to subscribe")
		respondWithError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	status, err := h.sessions.Status(ctx, sessionID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	h.serve(ctx, w, channel, eventChan, map[string]interface{}{
		"session_id": sessionID,
		"status":     status.Status,
		"progress":   status.Progress,
		"timestamp":  time.Now(),
	})
}

// StreamAllUpdates handles GET /api/stream/sessions
func (h *SSEHandler) StreamAllUpdates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	channel := providers.EventChannelSessionUpdates
	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channel).Msg("failed to subscribe")
		respondWithError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	h.serve(ctx, w, channel, eventChan, map[string]interface{}{
		"timestamp": time.Now(),
	})
}

func (h *SSEHandler) serve(ctx context.Context, w http.ResponseWriter, channel string, eventChan <-chan *entities.SessionEvent, hello interface{}) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientChan := make(chan *entities.SessionEvent, 10)
	h.registerClient(channel, clientChan)
	defer h.unregisterClient(channel, clientChan)

	h.sendEvent(w, "connected", hello)
	flusher.Flush()

	go h.forwardEvents(ctx, eventChan, clientChan)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str("channel", channel).Msg("client disconnected")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case event, ok := <-clientChan:
			if !ok {
				return
			}
			h.sendEvent(w, string(event.EventType), event)
			flusher.Flush()
		}
	}
}

// forwardEvents forwards events from the event bus to a client channel. A
// slow client drops events rather than stalling the bus.
func (h *SSEHandler) forwardEvents(ctx context.Context, eventChan <-chan *entities.SessionEvent, clientChan chan<- *entities.SessionEvent) {
	defer close(clientChan)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			select {
			case clientChan <- event:
			default:
			}
		}
	}
}

func (h *SSEHandler) registerClient(channel string, clientChan chan *entities.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[chan *entities.SessionEvent]bool)
	}
	h.clients[channel][clientChan] = true
	observability.RecordStreamClients(context.Background(), h.metrics, 1)
	h.logger.Debug().Str("channel", channel).Int("total", len(h.clients[channel])).Msg("client registered")
}

func (h *SSEHandler) unregisterClient(channel string, clientChan chan *entities.SessionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.clients[channel]; exists {
		if clients[clientChan] {
			observability.RecordStreamClients(context.Background(), h.metrics, -1)
		}
		delete(clients, clientChan)
		if len(clients) == 0 {
			delete(h.clients, channel)
		}
	}
}

func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
