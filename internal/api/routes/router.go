package routes

import (
	"encoding/json"
	"net/http"

	"github.com/carebridge-hub/backend/internal/api/handlers"
	"github.com/carebridge-hub/backend/internal/api/middleware"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	sessionHandler *handlers.SessionHandler
	sseHandler     *handlers.SSEHandler

	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router. sseHandler may be nil when no event bus
// is configured.
func NewRouter(
	sessionHandler *handlers.SessionHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		sessionHandler: sessionHandler,
		sseHandler:     sseHandler,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", r.health)

	// Session lifecycle
	r.mux.HandleFunc("POST /api/sessions", r.sessionHandler.CreateSession)
	r.mux.HandleFunc("GET /api/sessions", r.sessionHandler.ListSessions)
	r.mux.HandleFunc("DELETE /api/sessions/{id}", r.sessionHandler.DeleteSession)
	r.mux.HandleFunc("POST /api/sessions/{id}/start", r.sessionHandler.StartRecording)
	r.mux.HandleFunc("POST /api/sessions/{id}/stop", r.sessionHandler.StopRecording)
	r.mux.HandleFunc("GET /api/sessions/{id}/status", r.sessionHandler.GetStatus)

	// Review
	r.mux.HandleFunc("GET /api/sessions/{id}/transcript", r.sessionHandler.GetTranscript)
	r.mux.HandleFunc("GET /api/sessions/{id}/extraction", r.sessionHandler.GetExtraction)
	r.mux.HandleFunc("GET /api/sessions/{id}/svi", r.sessionHandler.GetSVI)
	r.mux.HandleFunc("GET /api/sessions/{id}/form", r.sessionHandler.GetForm)
	r.mux.HandleFunc("PUT /api/sessions/{id}/form", r.sessionHandler.UpdateForm)
	r.mux.HandleFunc("GET /api/sessions/{id}/follow-ups", r.sessionHandler.GetFollowUps)
	r.mux.HandleFunc("PUT /api/sessions/{id}/follow-ups", r.sessionHandler.UpdateFollowUps)
	r.mux.HandleFunc("POST /api/sessions/{id}/finalize", r.sessionHandler.Finalize)

	// Live progress
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/sessions/{id}/stream", r.sseHandler.StreamSessionUpdates)
		r.mux.HandleFunc("GET /api/stream/sessions", r.sseHandler.StreamAllUpdates)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	// CORS wraps everything so preflights never reach the handlers
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}

type healthResponse struct {
	Status        string `json:"status"`
	StreamClients *int   `json:"stream_clients,omitempty"`
}

func (r *Router) health(w http.ResponseWriter, _ *http.Request) {
	body := healthResponse{Status: "ok"}
	if r.sseHandler != nil {
		n := r.sseHandler.GetClientCount()
		body.StreamClients = &n
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
