package nat

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// STUN protocol constants as defined in RFC 5389
const (
	stunMagicCookie = 0x2112A442
	stunHeaderSize  = 20

	stunBindingRequest  = 0x0001
	stunBindingResponse = 0x0101
	stunBindingError    = 0x0111

	stunAttrXorMappedAddress = 0x0020

	stunFamilyIPv4 = 0x01
	stunFamilyIPv6 = 0x02

	// DefaultSTUNPort is used for server URLs without a port.
	DefaultSTUNPort = 3478
)

var (
	// ErrNoMappedAddress is returned for a binding response without a
	// usable XOR-MAPPED-ADDRESS attribute.
	ErrNoMappedAddress = errors.New("no mapped address in STUN response")

	errShortMessage = errors.New("STUN message too short")
)

type transactionID [12]byte

func newTransactionID() (transactionID, error) {
	var id transactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("failed to generate transaction ID: %w", err)
	}
	return id, nil
}

// transactionOf extracts the transaction id of any STUN-shaped message.
func transactionOf(msg []byte) (transactionID, bool) {
	var id transactionID
	if len(msg) < stunHeaderSize || binary.BigEndian.Uint32(msg[4:8]) != stunMagicCookie {
		return id, false
	}
	copy(id[:], msg[8:20])
	return id, true
}

// buildBindingRequest constructs an attribute-less binding request.
func buildBindingRequest(id transactionID) []byte {
	packet := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(packet[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(packet[2:4], 0)
	binary.BigEndian.PutUint32(packet[4:8], stunMagicCookie)
	copy(packet[8:20], id[:])
	return packet
}

// parseBindingResponse validates a binding response for id and returns the
// endpoint from its XOR-MAPPED-ADDRESS attribute.
func parseBindingResponse(msg []byte, id transactionID) (netip.AddrPort, error) {
	got, ok := transactionOf(msg)
	if !ok {
		return netip.AddrPort{}, errShortMessage
	}
	if got != id {
		return netip.AddrPort{}, errors.New("STUN transaction ID mismatch")
	}

	switch messageType := binary.BigEndian.Uint16(msg[0:2]); messageType {
	case stunBindingResponse:
	case stunBindingError:
		return netip.AddrPort{}, errors.New("STUN server returned error response")
	default:
		return netip.AddrPort{}, fmt.Errorf("unexpected STUN message type: 0x%04x", messageType)
	}

	end := stunHeaderSize + int(binary.BigEndian.Uint16(msg[2:4]))
	if end > len(msg) {
		return netip.AddrPort{}, errors.New("STUN response truncated")
	}
	attrs := msg[stunHeaderSize:end]

	for offset := 0; offset+4 <= len(attrs); {
		attrType := binary.BigEndian.Uint16(attrs[offset : offset+2])
		attrLength := int(binary.BigEndian.Uint16(attrs[offset+2 : offset+4]))
		offset += 4
		if offset+attrLength > len(attrs) {
			break
		}
		if attrType == stunAttrXorMappedAddress {
			return parseXorMappedAddress(attrs[offset:offset+attrLength], id)
		}
		// attribute values are padded to 4 bytes
		offset += (attrLength + 3) &^ 3
	}
	return netip.AddrPort{}, ErrNoMappedAddress
}

func parseXorMappedAddress(v []byte, id transactionID) (netip.AddrPort, error) {
	if len(v) < 8 {
		return netip.AddrPort{}, fmt.Errorf("%w: attribute too short", ErrNoMappedAddress)
	}
	port := binary.BigEndian.Uint16(v[2:4]) ^ uint16(stunMagicCookie>>16)

	switch v[1] {
	case stunFamilyIPv4:
		var ip [4]byte
		binary.BigEndian.PutUint32(ip[:], binary.BigEndian.Uint32(v[4:8])^stunMagicCookie)
		return netip.AddrPortFrom(netip.AddrFrom4(ip), port), nil
	case stunFamilyIPv6:
		if len(v) < 20 {
			return netip.AddrPort{}, fmt.Errorf("%w: IPv6 attribute too short", ErrNoMappedAddress)
		}
		var key, ip [16]byte
		binary.BigEndian.PutUint32(key[0:4], stunMagicCookie)
		copy(key[4:], id[:])
		for i := range ip {
			ip[i] = v[4+i] ^ key[i]
		}
		return netip.AddrPortFrom(netip.AddrFrom16(ip), port), nil
	}
	return netip.AddrPort{}, fmt.Errorf("%w: unsupported family %d", ErrNoMappedAddress, v[1])
}
