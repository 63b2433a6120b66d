package nat

import (
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/stream"
	"github.com/opd-ai/peerlink/transport"
)

// InterfaceAddr is one address assigned to a network interface.
type InterfaceAddr struct {
	Name     string
	Addr     netip.Addr
	Internal bool
}

// InterfaceLister enumerates interface addresses.
type InterfaceLister interface {
	Addrs() ([]InterfaceAddr, error)
}

// SystemInterfaces lists the host's interfaces through package net.
type SystemInterfaces struct{}

// Addrs returns every address of every interface that is up.
func (SystemInterfaces) Addrs() ([]InterfaceAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []InterfaceAddr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			out = append(out, InterfaceAddr{
				Name:     iface.Name,
				Addr:     ip.Unmap(),
				Internal: iface.Flags&net.FlagLoopback != 0,
			})
		}
	}
	return out, nil
}

var (
	loopback4 = netip.MustParseAddr("127.0.0.1")
	loopback6 = netip.IPv6Loopback()
)

// interfaceKind classifies an interface by its name. Loopback addresses are
// always local.
func interfaceKind(name string, addr netip.Addr) CandidateKind {
	switch {
	case addr == loopback4 || addr == loopback6:
		return KindLocal
	case strings.Contains(name, "vEthernet"), strings.Contains(name, "virt"):
		return KindVirtual
	case strings.Contains(name, "tailscale"), strings.Contains(name, "wg"):
		return KindVPN
	default:
		return KindLocal
	}
}

// localCandidates produces a TCP and a UDP candidate for each non-internal
// address plus the two loopback addresses.
func localCandidates(addrs []InterfaceAddr) []Candidate {
	var out []Candidate
	for _, a := range addrs {
		isLoopback := a.Addr == loopback4 || a.Addr == loopback6
		if a.Internal && !isLoopback {
			continue
		}
		c := Candidate{
			Address: a.Addr,
			Kind:    interfaceKind(a.Name, a.Addr),
			Family:  transport.FamilyOf(a.Addr),
			Source:  a.Name,
		}
		tcp, udp := c, c
		tcp.Protocol = TCP
		udp.Protocol = UDP
		out = append(out, tcp, udp)
	}
	return out
}

// InterfaceSnapshot is the set of "name;address" pairs of an interface list.
type InterfaceSnapshot []string

// Snapshot builds a sorted snapshot of addrs.
func Snapshot(addrs []InterfaceAddr) InterfaceSnapshot {
	s := make(InterfaceSnapshot, 0, len(addrs))
	for _, a := range addrs {
		s = append(s, a.Name+";"+a.Addr.String())
	}
	slices.Sort(s)
	return slices.Compact(s)
}

// Equal reports whether both snapshots hold the same pairs.
func (s InterfaceSnapshot) Equal(other InterfaceSnapshot) bool {
	return slices.Equal(s, other)
}

// InterfaceWatcher polls an InterfaceLister and publishes a snapshot each
// time the set of interface addresses changes.
type InterfaceWatcher struct {
	lister   InterfaceLister
	interval time.Duration
	changes  *stream.Subject[InterfaceSnapshot]
	last     InterfaceSnapshot
}

// NewInterfaceWatcher creates a watcher. A nil lister uses SystemInterfaces.
func NewInterfaceWatcher(lister InterfaceLister, interval time.Duration) *InterfaceWatcher {
	if lister == nil {
		lister = SystemInterfaces{}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &InterfaceWatcher{
		lister:   lister,
		interval: interval,
		changes:  stream.NewSubject[InterfaceSnapshot](),
	}
}

// Changes is the stream of snapshots that differ from their predecessor.
// It completes when Run returns.
func (w *InterfaceWatcher) Changes() stream.Observable[InterfaceSnapshot] {
	return w.changes
}

// Run polls until ctx is done. The first poll sets the baseline without
// publishing.
func (w *InterfaceWatcher) Run(ctx context.Context) {
	defer w.changes.Complete()

	w.last, _ = w.poll()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap, err := w.poll()
			if err != nil {
				continue
			}
			if snap.Equal(w.last) {
				continue
			}
			w.last = snap
			logrus.WithFields(logrus.Fields{
				"function":  "InterfaceWatcher.Run",
				"addresses": len(snap),
			}).Info("Network interfaces changed")
			w.changes.Next(snap)
		case <-ctx.Done():
			return
		}
	}
}

func (w *InterfaceWatcher) poll() (InterfaceSnapshot, error) {
	addrs, err := w.lister.Addrs()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "InterfaceWatcher.poll",
			"error":    err.Error(),
		}).Warn("Failed to list network interfaces")
		return nil, err
	}
	return Snapshot(addrs), nil
}
