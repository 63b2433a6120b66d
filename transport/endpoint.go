package transport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/samber/oops"
)

// Family is the address family of a registration.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv4 {
		return "IPv4"
	}
	return "IPv6"
}

// MarshalText renders the family as "IPv4" or "IPv6".
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FamilyOf reports the family an adapter literal registers under. An
// IPv4-mapped IPv6 adapter counts as IPv4.
func FamilyOf(addr netip.Addr) Family {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

// parseEndpoint validates an IP literal and port.
func parseEndpoint(ip string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.AddrPort{}, oops.Wrapf(ErrInvalidAddress, "parse %q", ip)
	}
	if port < 0 || port > 65535 {
		return netip.AddrPort{}, oops.Wrapf(ErrInvalidAddress, "port %d out of range", port)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// parseLocal parses a local adapter and port. IPv4-mapped adapters are
// unmapped so they share the IPv4 registration.
func parseLocal(adapter string, port int) (netip.AddrPort, error) {
	ap, err := parseEndpoint(adapter, port)
	if err != nil {
		return ap, err
	}
	if ap.Addr().Is4In6() {
		ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return ap, nil
}

// mapped returns the IPv4-mapped IPv6 form of an IPv4 endpoint.
func mapped(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom16(ap.Addr().As16()), ap.Port())
}

// remoteKeys lists the registry keys a remote endpoint is reachable under.
// An IPv4-mapped remote is known by both its IPv6 and IPv4 forms.
func remoteKeys(ap netip.AddrPort) []string {
	if ap.Addr().Is4In6() {
		return []string{ap.String(), netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()).String()}
	}
	return []string{ap.String()}
}

// addrPortOf extracts an AddrPort from a TCP or UDP net.Addr.
func addrPortOf(addr net.Addr) (netip.AddrPort, error) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.AddrPort(), nil
	case *net.UDPAddr:
		return a.AddrPort(), nil
	default:
		return netip.AddrPort{}, fmt.Errorf("unsupported address type %T", addr)
	}
}
