package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP payload an IPv4 datagram can carry
	// (65535 minus the 8-byte UDP and 20-byte IP headers).
	MaxDatagram = 65507

	// DefaultReadBuffer is the per-socket read buffer. It bounds the size of
	// a single data frame.
	DefaultReadBuffer = 64 * 1024

	// MaxReadBuffer is the absolute maximum for a configured read buffer.
	// This prevents memory exhaustion from oversized settings (1MB limit).
	MaxReadBuffer = 1024 * 1024

	// SealIVSize is the AES-GCM nonce prepended to every sealed payload.
	SealIVSize = 12

	// SealTagSize is the GCM authentication tag that follows the nonce.
	SealTagSize = 16

	// SealOverhead is the fixed growth of a payload when sealed.
	SealOverhead = SealIVSize + SealTagSize
)

// ErrMessageTooLarge indicates a message exceeds its maximum size.
var ErrMessageTooLarge = errors.New("message too large")

// ValidateMessageSize checks message against maxSize. Empty messages are
// valid.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDatagram checks a UDP payload against MaxDatagram.
func ValidateDatagram(payload []byte) error {
	return ValidateMessageSize(payload, MaxDatagram)
}

// ClampReadBuffer returns n limited to (0, MaxReadBuffer]. Non-positive
// values select DefaultReadBuffer.
func ClampReadBuffer(n int) int {
	switch {
	case n <= 0:
		return DefaultReadBuffer
	case n > MaxReadBuffer:
		return MaxReadBuffer
	default:
		return n
	}
}
