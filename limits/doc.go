// Package limits provides centralized size constants and validation
// functions shared by the transport and crypto packages.
//
// # Size Hierarchy
//
//   - MaxDatagram (65507 bytes): the largest UDP payload SendUDP accepts.
//     Larger payloads are rejected synchronously with ErrMessageTooLarge.
//
//   - DefaultReadBuffer (64KiB): the per-socket read buffer, which bounds a
//     single data frame.
//
//   - MaxReadBuffer (1MB): the absolute maximum for a configured read
//     buffer.
//
//   - SealOverhead (28 bytes): the AES-GCM nonce and tag carried by every
//     sealed payload. Anything shorter cannot be opened.
//
// For custom limits use ValidateMessageSize:
//
//	err := limits.ValidateMessageSize(data, 4096)
package limits
