package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/lumisync-core/internal/command"
	"github.com/nerrad567/lumisync-core/internal/control"
	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/discovery"
	"github.com/nerrad567/lumisync-core/internal/engine"
	"github.com/nerrad567/lumisync-core/internal/lan"
	"github.com/nerrad567/lumisync-core/internal/protocol"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeNotSupported = "not_supported"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// errorMapping pairs a sentinel with its response.
type errorMapping struct {
	err    error
	status int
	code   string
}

// serviceErrors is checked in order; the first match wins.
var serviceErrors = []errorMapping{
	{device.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
	{session.ErrNoSession, http.StatusNotFound, ErrCodeNotFound},
	{control.ErrNoDeviceSelected, http.StatusNotFound, ErrCodeNotFound},
	{device.ErrDeviceExists, http.StatusConflict, ErrCodeConflict},
	{device.ErrIdentityMismatch, http.StatusConflict, ErrCodeConflict},
	{control.ErrSessionActive, http.StatusConflict, ErrCodeConflict},
	{discovery.ErrInProgress, http.StatusConflict, ErrCodeConflict},
	{control.ErrNotSupported, http.StatusUnprocessableEntity, ErrCodeNotSupported},
	{session.ErrUnsupported, http.StatusUnprocessableEntity, ErrCodeNotSupported},
	{protocol.ErrInvalidParameter, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrInvalidAddress, http.StatusBadRequest, ErrCodeValidation},
	{device.ErrInvalidDevice, http.StatusBadRequest, ErrCodeValidation},
	{engine.ErrInvalidConfig, http.StatusBadRequest, ErrCodeValidation},
	{session.ErrUnknownMode, http.StatusBadRequest, ErrCodeValidation},
	{discovery.ErrInvalidTimeout, http.StatusBadRequest, ErrCodeValidation},
	{command.ErrQueryTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
	{command.ErrDeviceOffline, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{engine.ErrCaptureUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{lan.ErrTransport, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// writeServiceError maps a control.Service error to a response. Unknown
// errors are logged and reported as 500 without their text.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
		"request_id", requestID(r.Context()),
	)
	writeInternalError(w, "internal server error")
}
