package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/protocol"
)

// PowerRequest is the body of PUT /devices/{id}/power.
type PowerRequest struct {
	On *bool `json:"on"`
}

// BrightnessRequest is the body of PUT /devices/{id}/brightness.
type BrightnessRequest struct {
	Brightness *int `json:"brightness"`
}

// ColorRequest is the body of PUT /devices/{id}/color. Either Hex or all
// three channels must be set.
type ColorRequest struct {
	Hex string `json:"hex,omitempty"`
	R   *int   `json:"r,omitempty"`
	G   *int   `json:"g,omitempty"`
	B   *int   `json:"b,omitempty"`
}

// rgb converts the request, rejecting channels outside 0-255.
func (c ColorRequest) rgb() (protocol.RGB, bool) {
	if c.Hex != "" {
		rgb, err := protocol.ParseRGB(c.Hex)
		return rgb, err == nil
	}
	if c.R == nil || c.G == nil || c.B == nil {
		return protocol.RGB{}, false
	}
	for _, v := range []int{*c.R, *c.G, *c.B} {
		if v < 0 || v > 255 {
			return protocol.RGB{}, false
		}
	}
	return protocol.RGB{R: uint8(*c.R), G: uint8(*c.G), B: uint8(*c.B)}, true
}

// handleListDevices returns all devices in discovery order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.control.ListDevices()
	selected := ""
	if d, ok := s.control.SelectedDevice(); ok {
		selected = d.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":  devices,
		"count":    len(devices),
		"selected": selected,
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, err := s.control.GetDevice(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleGetSelected returns the default target device.
func (s *Server) handleGetSelected(w http.ResponseWriter, r *http.Request) {
	dev, err := s.control.GetDevice("")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleAddDevice registers a device by address.
func (s *Server) handleAddDevice(w http.ResponseWriter, r *http.Request) {
	var req device.ManualDevice
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.IP == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "ip is required")
		return
	}

	dev, err := s.control.AddDevice(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

// handleRemoveDevice stops the device's session and forgets it.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.control.RemoveDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSelectDevice makes the device the default target.
func (s *Server) handleSelectDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.control.SelectDevice(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selected": id})
}

// handleQueryState asks the device for its current state.
func (s *Server) handleQueryState(w http.ResponseWriter, r *http.Request) {
	st, err := s.control.QueryState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSetPower switches the device on or off.
func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	var req PowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "on is required")
		return
	}

	if err := s.control.SetPower(r.Context(), chi.URLParam(r, "id"), *req.On); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "on": *req.On})
}

// handleSetBrightness sets the device brightness in percent.
func (s *Server) handleSetBrightness(w http.ResponseWriter, r *http.Request) {
	var req BrightnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Brightness == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "brightness is required")
		return
	}

	if err := s.control.SetBrightness(r.Context(), chi.URLParam(r, "id"), *req.Brightness); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "brightness": *req.Brightness})
}

// handleSetColor sets one color across the device.
func (s *Server) handleSetColor(w http.ResponseWriter, r *http.Request) {
	var req ColorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rgb, ok := req.rgb()
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "color needs hex or r, g and b in 0-255")
		return
	}

	if err := s.control.SetColor(r.Context(), chi.URLParam(r, "id"), rgb); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "color": rgb.String()})
}

// handleReconnect resumes a queue suspended after delivery failures.
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Reconnect(chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconnected"})
}

// handleCommandStats returns the device's command queue counters.
func (s *Server) handleCommandStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.control.GetDevice(id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	stats, _ := s.control.CommandStats(id)
	writeJSON(w, http.StatusOK, stats)
}
