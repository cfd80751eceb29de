package session

import "errors"

var (
	// ErrNoSession is returned when a device has no active session.
	ErrNoSession = errors.New("session: no active session")

	// ErrUnknownMode is returned when decoding a config with an unknown mode.
	ErrUnknownMode = errors.New("session: unknown mode")

	// ErrUnsupported is returned for devices without segment control.
	ErrUnsupported = errors.New("session: device does not support segment control")
)
