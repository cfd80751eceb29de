package command

import "errors"

var (
	// ErrDeviceOffline is returned for commands to a suspended queue.
	ErrDeviceOffline = errors.New("command: device offline")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("command: channel closed")

	// ErrInvalidRate is returned for a non-positive rate.
	ErrInvalidRate = errors.New("command: rate must be positive")

	// ErrQueryTimeout is returned when a state query gets no answer.
	ErrQueryTimeout = errors.New("command: state query timed out")
)
