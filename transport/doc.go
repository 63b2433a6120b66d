// Package transport manages the lifecycle of local TCP and UDP sockets used
// for peer-to-peer links.
//
// # Registrations
//
// A Manager keeps one registration per local endpoint. Each registration has
// a frame stream that subscribers attach to:
//
//	m := transport.NewManager()
//	frames := m.ListenTCP(33445, "0.0.0.0")
//	sub := frames.SubscribeFunc(func(f transport.Frame) {
//	    if f.Kind == transport.FrameData {
//	        handle(f.SourceAddress, f.SourcePort, f.Payload)
//	    }
//	})
//	defer sub.Unsubscribe()
//
// Keys are "a.b.c.d:port" for IPv4 and "[addr]:port" for IPv6. When the host
// allows it, an IPv4 TCP listener is bound dual-stack on the IPv4-mapped
// IPv6 address. It is then stored under both key forms, and connections that
// arrive as IPv4-mapped addresses can be addressed either way.
//
// # Point-to-point mode
//
// ForceConnect closes the listener on a port and dials one peer from that
// same local port, which is how a TCP hole punch is attempted. The
// registration keeps its stream, so subscribers keep receiving frames across
// the transition. RevertToListener undoes it.
//
// # Errors
//
// Misuse is reported synchronously with ErrNoListener, ErrNoConnection,
// ErrNoUDPSocket or ErrInvalidAddress. Socket failures are asynchronous: they
// arrive as FrameError frames, or as a terminal *ListenError when a
// registration could not be bound.
package transport
