package transport

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/stream"
)

// udpRegistration is the state behind one UDP registry key.
type udpRegistration struct {
	local netip.AddrPort
	rx    *stream.Subject[Frame]
	conn  net.PacketConn
	queue *sendQueue

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
}

func (r *udpRegistration) info() RegistrationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RegistrationInfo{
		Key:       r.local.String(),
		Mode:      ModeOpen,
		LastSeen:  r.lastSeen,
		LocalAddr: r.conn.LocalAddr(),
	}
}

func (r *udpRegistration) touch(t time.Time) {
	r.mu.Lock()
	r.lastSeen = t
	r.mu.Unlock()
}

func (r *udpRegistration) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *udpRegistration) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.queue.close()
	r.conn.Close()
}

func (r *udpRegistration) frame(kind FrameKind, remote netip.AddrPort) Frame {
	return Frame{
		Kind:          kind,
		SourceAddress: remote.Addr().String(),
		SourcePort:    int(remote.Port()),
		TargetAdapter: r.local.Addr().String(),
		TargetPort:    int(r.local.Port()),
	}
}

// ListenUDP registers a UDP socket on adapter and port and returns its frame
// stream. Repeated calls for the same key return the same stream. Every
// received datagram is published as a data frame. Bind failures terminate
// the stream with a *ListenError.
func (m *Manager) ListenUDP(port int, adapter string) stream.Observable[Frame] {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return m.invalidStream(adapter, port, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, ok := m.udp[local.String()]; ok {
		return reg.rx
	}

	rx := stream.NewSubject[Frame]()
	network := "udp6"
	if FamilyOf(local.Addr()) == IPv4 {
		network = "udp4"
	}
	conn, err := net.ListenPacket(network, local.String())
	if err != nil {
		m.failListen(rx, "udp", local, err)
		return rx
	}

	reg := &udpRegistration{local: local, rx: rx, conn: conn, lastSeen: m.clock()}
	reg.queue = newSendQueue(
		func(o outbound) error {
			_, err := conn.WriteTo(o.payload, o.to)
			return err
		},
		func(err error) {
			f := reg.frame(FrameError, netip.AddrPort{})
			f.Err = err
			f.Payload = []byte(err.Error())
			m.emit(rx, f)
		},
	)
	m.udp[local.String()] = reg

	m.metrics.RegistrationCreated("udp", ModeOpen.String())
	logrus.WithFields(logrus.Fields{
		"function": "ListenUDP",
		"local":    local.String(),
		"listen":   conn.LocalAddr().String(),
	}).Info("UDP socket registered")

	go m.readUDP(reg)
	return rx
}

func (m *Manager) readUDP(reg *udpRegistration) {
	buf := make([]byte, m.bufSize)
	for {
		n, addr, err := reg.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || reg.isClosed() {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "readUDP",
				"local":    reg.local.String(),
				"error":    err.Error(),
			}).Debug("UDP read failed")
			f := reg.frame(FrameError, netip.AddrPort{})
			f.Err = err
			f.Payload = []byte(err.Error())
			m.emit(reg.rx, f)
			continue
		}

		remote, err := addrPortOf(addr)
		if err != nil {
			continue
		}
		reg.touch(m.clock())
		f := reg.frame(FrameData, remote)
		f.Payload = append([]byte(nil), buf[:n]...)
		m.emit(reg.rx, f)
	}
}

// SendUDP queues a datagram from the registration at sourceAdapter:sourcePort
// to destIP:destPort. The return value follows SendTCP. Write failures
// arrive later as error frames.
func (m *Manager) SendUDP(sourcePort int, sourceAdapter, destIP string, destPort int, payload []byte) (int, error) {
	local, err := parseLocal(sourceAdapter, sourcePort)
	if err != nil {
		return 0, err
	}
	dest, err := parseEndpoint(destIP, destPort)
	if err != nil {
		return 0, err
	}
	if err := limits.ValidateDatagram(payload); err != nil {
		return 0, oops.Wrapf(err, "send from %s", local)
	}

	m.mu.Lock()
	reg, ok := m.udp[local.String()]
	m.mu.Unlock()
	if !ok {
		return 0, oops.Wrapf(ErrNoUDPSocket, "send from %s", local)
	}

	if FamilyOf(local.Addr()) == IPv4 {
		if FamilyOf(dest.Addr()) != IPv4 {
			return 0, oops.Wrapf(ErrInvalidAddress, "cannot reach %s from %s", dest, local)
		}
		dest = netip.AddrPortFrom(dest.Addr().Unmap(), dest.Port())
	}

	reg.touch(m.clock())
	n, err := reg.queue.enqueue(outbound{
		payload: append([]byte(nil), payload...),
		to:      net.UDPAddrFromAddrPort(dest),
	})
	if err != nil {
		return 0, oops.Wrapf(ErrNoUDPSocket, "send from %s", local)
	}
	m.metrics.BytesSent("udp", len(payload))
	return n, nil
}
