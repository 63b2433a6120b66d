package transport

import (
	"net"
	"net/netip"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/stream"
)

const dialTimeout = 30 * time.Second

// ForceConnect turns the TCP registration at adapter:port into a dedicated
// link to destIP:destPort. Any open listener on the key is torn down along
// with its connections, and an outbound connection is dialed from the same
// local port. The registration keeps its stream, so subscribers see the
// outcome of the dial as frames: opened on success, error then closed on
// failure. The returned error only reports invalid addresses.
func (m *Manager) ForceConnect(port int, adapter, destIP string, destPort int) (stream.Observable[Frame], error) {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return nil, err
	}
	dest, err := parseEndpoint(destIP, destPort)
	if err != nil {
		return nil, err
	}
	if FamilyOf(dest.Addr()) != FamilyOf(local.Addr()) {
		return nil, oops.Wrapf(ErrInvalidAddress, "cannot reach %s from %s", dest, local)
	}

	m.mu.Lock()
	old := m.tcp[local.String()]
	rx := stream.NewSubject[Frame]()
	if old != nil {
		rx = old.rx
		for _, k := range old.keys {
			delete(m.tcp, k)
		}
	}
	reg := newTCPRegistration(local, ModeP2P, rx, m.clock())
	m.tcp[local.String()] = reg
	m.mu.Unlock()

	if old != nil {
		old.close()
	}

	m.metrics.RegistrationCreated("tcp", ModeP2P.String())
	logrus.WithFields(logrus.Fields{
		"function": "ForceConnect",
		"local":    local.String(),
		"remote":   dest.String(),
	}).Warn("Port is now dedicated to a single peer, inbound connections are no longer accepted")

	go m.dialP2P(reg, dest)
	return rx, nil
}

func (m *Manager) dialP2P(reg *tcpRegistration, dest netip.AddrPort) {
	target := dest
	network := "tcp6"
	if FamilyOf(reg.local.Addr()) == IPv4 {
		network = "tcp4"
		target = netip.AddrPortFrom(dest.Addr().Unmap(), dest.Port())
	}

	dialer := net.Dialer{
		LocalAddr: net.TCPAddrFromAddrPort(reg.local),
		Control:   reuseAddrControl,
		Timeout:   dialTimeout,
	}
	conn, err := dialer.Dial(network, target.String())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "dialP2P",
			"local":    reg.local.String(),
			"remote":   target.String(),
			"error":    err.Error(),
		}).Warn("Dedicated connection failed")

		f := reg.frame(FrameError, dest)
		f.Err = err
		f.Payload = []byte(err.Error())
		m.emit(reg.rx, f)
		closed := reg.frame(FrameClosed, dest)
		closed.Payload = []byte(dest.String())
		m.emit(reg.rx, closed)
		return
	}

	var extra []string
	if dest != target {
		extra = append(extra, dest.String())
	}
	m.serveTCP(reg, conn, target, extra...)
}

// RevertToListener closes the dedicated connection of a p2p registration
// and binds an open listener on the same key, reusing the same stream. It is
// a no-op for open registrations and fails with ErrNoListener when nothing
// is registered. A failed re-bind terminates the stream with a *ListenError.
func (m *Manager) RevertToListener(port int, adapter string) error {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return err
	}

	m.mu.Lock()
	reg, ok := m.tcp[local.String()]
	if !ok {
		m.mu.Unlock()
		return oops.Wrapf(ErrNoListener, "revert %s", local)
	}
	if reg.mode != ModeP2P {
		m.mu.Unlock()
		return nil
	}

	delete(m.tcp, local.String())
	reg.close()
	bindErr := m.openTCPListener(local, reg.rx)
	m.mu.Unlock()

	if bindErr != nil {
		m.failListen(reg.rx, "tcp", local, bindErr)
	}
	return nil
}
