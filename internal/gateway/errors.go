package gateway

import "errors"

var (
	// ErrPortUnavailable is returned when the serial device cannot be opened.
	ErrPortUnavailable = errors.New("gateway: serial port unavailable")

	// ErrTransport is returned when a write or read on an open port fails.
	ErrTransport = errors.New("gateway: transport failure")

	// ErrClosed is returned for exchanges submitted after Close.
	ErrClosed = errors.New("gateway: closed")
)
