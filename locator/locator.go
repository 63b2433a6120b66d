// Package locator parses and resolves resource locators of the form
// [scheme://]host[:port][/resource][#fragment], where host is an IPv4
// literal, a bracketed or bare IPv6 literal, or a hostname.
package locator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Kind classifies the host part of a locator.
type Kind int

const (
	KindHostname Kind = iota
	KindIPv4
	KindIPv6
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "IPv4"
	case KindIPv6:
		return "IPv6"
	default:
		return "hostname"
	}
}

// ErrInvalidLocator is returned for locators that cannot be parsed.
var ErrInvalidLocator = errors.New("invalid locator")

// Locator is a parsed resource locator. Port is 0 when absent.
type Locator struct {
	Scheme   string
	Host     string
	Port     int
	Resource string
	Fragment string
	Kind     Kind
}

// Address is a locator whose host is a resolved IP.
type Address struct {
	Locator
	IP netip.Addr
}

// AddrPort returns the resolved IP and port.
func (a Address) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(a.IP, uint16(a.Port))
}

// Resolver looks up hostnames. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Parse splits s into its components. An IPv4-mapped IPv6 host is reported
// as the plain IPv4 address.
func Parse(s string) (Locator, error) {
	var l Locator
	rest := strings.TrimSpace(s)
	if rest == "" {
		return l, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}

	if i := strings.Index(rest, "://"); i >= 0 {
		l.Scheme = rest[:i]
		rest = rest[i+3:]
	}
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		l.Fragment = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		l.Resource = rest[i+1:]
		rest = rest[:i]
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %q: %v", ErrInvalidLocator, s, err)
	}
	l.Port = port

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		l.Host = addr.String()
		if addr.Is4() {
			l.Kind = KindIPv4
		} else {
			l.Kind = KindIPv6
		}
		return l, nil
	}

	if !validHostname(host) {
		return Locator{}, fmt.Errorf("%w: %q: bad host %q", ErrInvalidLocator, s, host)
	}
	l.Host = host
	l.Kind = KindHostname
	return l, nil
}

func splitHostPort(hostport string) (string, int, error) {
	switch {
	case strings.HasPrefix(hostport, "["):
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, errors.New("missing ']'")
		}
		host, after := hostport[1:end], hostport[end+1:]
		if after == "" {
			return host, 0, nil
		}
		if after[0] != ':' {
			return "", 0, fmt.Errorf("unexpected %q after ']'", after)
		}
		port, err := parsePort(after[1:])
		return host, port, err
	case strings.Count(hostport, ":") > 1:
		return hostport, 0, nil
	case strings.Contains(hostport, ":"):
		i := strings.LastIndexByte(hostport, ':')
		port, err := parsePort(hostport[i+1:])
		return hostport[:i], port, err
	default:
		return hostport, 0, nil
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("bad port %q", s)
	}
	return port, nil
}

func validHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_':
		default:
			return false
		}
	}
	return true
}

// String reassembles the locator.
func (l Locator) String() string {
	var b strings.Builder
	if l.Scheme != "" {
		b.WriteString(l.Scheme)
		b.WriteString("://")
	}
	host := l.Host
	if l.Kind == KindIPv6 {
		host = "[" + host + "]"
	}
	b.WriteString(host)
	if l.Port != 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(l.Port))
	}
	if l.Resource != "" {
		b.WriteByte('/')
		b.WriteString(l.Resource)
	}
	if l.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(l.Fragment)
	}
	return b.String()
}

// Resolve parses s and resolves its host with the system resolver.
func Resolve(ctx context.Context, s string) ([]Address, error) {
	return ResolveWith(ctx, net.DefaultResolver, s)
}

// ResolveWith parses s and resolves its host with r. IP literals resolve to
// themselves. Hostnames resolve to every IPv4 address followed by every IPv6
// address; one family failing is tolerated as long as the other succeeds.
func ResolveWith(ctx context.Context, r Resolver, s string) ([]Address, error) {
	l, err := Parse(s)
	if err != nil {
		return nil, err
	}

	if l.Kind != KindHostname {
		return []Address{{Locator: l, IP: netip.MustParseAddr(l.Host)}}, nil
	}

	var (
		out  []Address
		errs []error
	)
	for _, family := range []struct {
		network string
		kind    Kind
	}{{"ip4", KindIPv4}, {"ip6", KindIPv6}} {
		ips, err := r.LookupNetIP(ctx, family.network, l.Host)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, ip := range ips {
			ip = ip.Unmap()
			if (family.kind == KindIPv4) != ip.Is4() {
				continue
			}
			resolved := l
			resolved.Kind = family.kind
			resolved.Host = ip.String()
			out = append(out, Address{Locator: resolved, IP: ip})
		}
	}

	if len(out) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no addresses"))
		}
		return nil, fmt.Errorf("resolve %s: %w", l.Host, errors.Join(errs...))
	}

	logrus.WithFields(logrus.Fields{
		"function": "ResolveWith",
		"host":     l.Host,
		"count":    len(out),
	}).Debug("Resolved locator")
	return out, nil
}
