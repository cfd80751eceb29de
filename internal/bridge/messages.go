package bridge

import (
	"time"

	"github.com/nerrad567/lumisync-core/internal/device"
	"github.com/nerrad567/lumisync-core/internal/session"
)

// SelectedDevice is the topic level that targets the selected device.
const SelectedDevice = "selected"

// Command names.
const (
	CommandOn            = "on"
	CommandOff           = "off"
	CommandBrightness    = "brightness"
	CommandColor         = "color"
	CommandStartSession  = "start_session"
	CommandStopSession   = "stop_session"
	CommandPauseSession  = "pause_session"
	CommandResumeSession = "resume_session"
	CommandQuery         = "query"
	CommandReconnect     = "reconnect"
)

// CommandMessage is received on lumisync/command/{device}.
type CommandMessage struct {
	// ID correlates the command with its ack. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp,omitzero"`

	// Command is one of the Command* names.
	Command string `json:"command"`

	// Parameters contains command-specific values:
	//   {"brightness": 40} for brightness
	//   {"hex": "#ff8000"} or {"r": 255, "g": 128, "b": 0} for color
	//   a tagged session config ({"mode": "music", ...}) for start_session
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated, for logging.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed or queued for the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is published on lumisync/ack/{device}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`

	// Result carries the answer of query and start_session.
	Result any `json:"result,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotSupported      = "NOT_SUPPORTED"
	ErrCodeSessionActive     = "SESSION_ACTIVE"
	ErrCodeNoSession         = "NO_SESSION"
	ErrCodeCaptureFailed     = "CAPTURE_UNAVAILABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is published retained on lumisync/state/{device} whenever
// the registry changes the device.
type StateMessage struct {
	DeviceID  string           `json:"device_id"`
	Timestamp time.Time        `json:"timestamp"`
	Event     device.EventType `json:"event"`
	Selected  bool             `json:"selected"`
	Device    device.Device    `json:"device"`
}

// SessionMessage is published on lumisync/session/{device}.
type SessionMessage struct {
	DeviceID  string            `json:"device_id"`
	Timestamp time.Time         `json:"timestamp"`
	Event     session.EventType `json:"event"`
	Session   session.Info      `json:"session"`
}

// HealthStatus represents the operational status of the service.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on lumisync/health.
type HealthMessage struct {
	Timestamp      time.Time    `json:"timestamp"`
	Status         HealthStatus `json:"status"`
	Version        string       `json:"version"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	Devices        int          `json:"devices"`
	DevicesOnline  int          `json:"devices_online"`
	ActiveSessions int          `json:"active_sessions"`
	Reason         string       `json:"reason,omitempty"`
}
