package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lumisync-core/internal/session"
)

// handleListSessions returns the active sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.control.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// handleGetSession returns the device's active or most recent session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.control.GetDevice(id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	info, ok := s.control.Session(id)
	if !ok {
		s.writeServiceError(w, r, session.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleStartSession starts a sync session. The body is a tagged config:
//
//	{"mode": "monitor", "fps": 30, "brightness": 75}
//	{"mode": "music", "pattern": "wave", "silence_policy": "fade"}
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read body")
		return
	}
	cfg, err := session.DecodeConfig(body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	info, err := s.control.StartSession(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleStopSession stops the device's session.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.control.StopSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePauseSession pauses the device's session.
func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.control.PauseSession(chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// handleResumeSession resumes the device's session.
func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.control.ResumeSession(chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}
