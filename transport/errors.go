package transport

import (
	"errors"
)

var (
	// ErrNoListener is returned when no TCP registration exists for the
	// source adapter and port.
	ErrNoListener = errors.New("no TCP listener registered")
	// ErrNoConnection is returned when a TCP registration has no live
	// connection to the destination.
	ErrNoConnection = errors.New("no live connection to destination")
	// ErrNoUDPSocket is returned when no UDP registration exists for the
	// source adapter and port.
	ErrNoUDPSocket = errors.New("no UDP socket registered")
	// ErrInvalidAddress is returned for unparsable addresses or ports.
	ErrInvalidAddress = errors.New("invalid address")

	errQueueClosed = errors.New("send queue closed")
)
