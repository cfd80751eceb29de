package control

import "errors"

var (
	// ErrNoDeviceSelected is returned when a call names no device and none
	// is selected.
	ErrNoDeviceSelected = errors.New("control: no device selected")

	// ErrSessionActive is returned for manual color while a sync session
	// owns the device.
	ErrSessionActive = errors.New("control: sync session active")

	// ErrNotSupported is returned when the device lacks the capability.
	ErrNotSupported = errors.New("control: not supported by device")
)
