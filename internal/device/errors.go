package device

import "errors"

var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when a manual add collides with a known
	// ID or address.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrIdentityMismatch is returned when an update disagrees with the
	// immutable identity of a known device.
	ErrIdentityMismatch = errors.New("device: identity mismatch")

	// ErrInvalidAddress is returned for an address that is not a usable
	// IPv4 unicast address.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidDevice is returned when required fields are missing.
	ErrInvalidDevice = errors.New("device: invalid")
)
