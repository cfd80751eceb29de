package protocol

import "errors"

var (
	// ErrMalformedMessage is returned when bytes cannot be decoded as a
	// known message.
	ErrMalformedMessage = errors.New("protocol: malformed message")

	// ErrInvalidParameter is returned when a command parameter is out of
	// range.
	ErrInvalidParameter = errors.New("protocol: invalid parameter")
)
