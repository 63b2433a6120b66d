package transport

import (
	"fmt"
)

// FrameKind classifies a Frame.
type FrameKind int

const (
	// FrameOpened reports a new connection. Payload holds the remote key.
	FrameOpened FrameKind = iota
	// FrameData carries received bytes.
	FrameData
	// FrameClosed reports a connection that went away. Payload holds the remote key.
	FrameClosed
	// FrameError reports a socket failure. Err holds the cause.
	FrameError
)

func (k FrameKind) String() string {
	switch k {
	case FrameOpened:
		return "opened"
	case FrameData:
		return "data"
	case FrameClosed:
		return "closed"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is a single event on a registration stream.
type Frame struct {
	SourceAddress string
	SourcePort    int
	Payload       []byte
	Kind          FrameKind
	TargetAdapter string
	TargetPort    int
	Err           error
}

// ListenError is the terminal error of a registration stream whose socket
// could not be bound. Frame describes the failure as an error frame.
type ListenError struct {
	Frame Frame
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen on %s port %d: %v", e.Frame.TargetAdapter, e.Frame.TargetPort, e.Frame.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Frame.Err
}
