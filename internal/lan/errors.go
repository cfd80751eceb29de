package lan

import "errors"

var (
	// ErrTransport is returned when the socket cannot be bound or a
	// datagram cannot be sent.
	ErrTransport = errors.New("lan: transport failure")

	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("lan: socket closed")
)
