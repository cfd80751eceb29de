package api

import (
	"net/http"
	"time"
)

// maxDiscoverTimeout bounds the listen window a client may request.
const maxDiscoverTimeout = 30 * time.Second

// handleDiscover runs a discovery round and returns the devices that
// answered. The optional timeout query parameter is a Go duration ("3s").
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxDiscoverTimeout {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "timeout must be a duration between 0s and 30s")
			return
		}
		timeout = d
	}

	start := time.Now()
	devices, err := s.control.Discover(r.Context(), timeout)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     devices,
		"count":       len(devices),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
