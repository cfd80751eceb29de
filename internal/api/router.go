package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/discover", s.handleDiscover)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Post("/", s.handleAddDevice)
			r.Get("/selected", s.handleGetSelected)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleRemoveDevice)
				r.Post("/select", s.handleSelectDevice)
				r.Get("/state", s.handleQueryState)
				r.Put("/power", s.handleSetPower)
				r.Put("/color", s.handleSetColor)
				r.Put("/brightness", s.handleSetBrightness)
				r.Post("/reconnect", s.handleReconnect)
				r.Get("/stats", s.handleCommandStats)

				r.Route("/session", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Put("/", s.handleStartSession)
					r.Delete("/", s.handleStopSession)
					r.Post("/pause", s.handlePauseSession)
					r.Post("/resume", s.handleResumeSession)
				})
			})
		})

		r.Get("/sessions", s.handleListSessions)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"devices":        len(s.control.ListDevices()),
		"sessions":       len(s.control.Sessions()),
		"stream_clients": s.hub.ClientCount(),
	}
	if !s.started.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}
