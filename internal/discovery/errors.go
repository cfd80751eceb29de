package discovery

import "errors"

var (
	// ErrInvalidTimeout is returned for a non-positive discovery window.
	ErrInvalidTimeout = errors.New("discovery: timeout must be positive")

	// ErrInProgress is returned when a round is already running.
	ErrInProgress = errors.New("discovery: round already in progress")
)
