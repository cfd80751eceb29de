package engine

import "errors"

var (
	// ErrCaptureUnavailable means the screen or audio source could not be
	// opened, was lost, or no longer matches the configured regions.
	ErrCaptureUnavailable = errors.New("engine: capture unavailable")

	// ErrInvalidTransition is returned for a state change the machine
	// does not allow.
	ErrInvalidTransition = errors.New("engine: invalid state transition")

	// ErrInvalidConfig is returned when an engine config fails validation.
	ErrInvalidConfig = errors.New("engine: invalid config")
)
