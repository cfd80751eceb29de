package capture

import "errors"

var (
	// ErrNotStarted is returned when reading from a source before Start.
	ErrNotStarted = errors.New("capture: source not started")

	// ErrClosed is returned once the helper process is gone for good.
	ErrClosed = errors.New("capture: source closed")

	// ErrInvalidConfig is returned for unusable capture settings.
	ErrInvalidConfig = errors.New("capture: invalid configuration")
)
