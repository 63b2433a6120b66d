package transport

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/stream"
)

const (
	acceptRetryDelay = 50 * time.Millisecond

	// maxAcceptFailures consecutive Accept errors end the registration.
	maxAcceptFailures = 20
)

// tcpConn is one live TCP connection of a registration.
type tcpConn struct {
	conn   net.Conn
	remote netip.AddrPort
	keys   []string
	queue  *sendQueue
}

// tcpRegistration is the state behind one TCP registry key. It exclusively
// owns its listener and connections.
type tcpRegistration struct {
	local     netip.AddrPort
	keys      []string
	mode      Mode
	dualStack bool
	rx        *stream.Subject[Frame]
	listener  net.Listener

	mu       sync.Mutex
	conns    map[string]*tcpConn
	lastSeen time.Time
	closed   bool
}

func newTCPRegistration(local netip.AddrPort, mode Mode, rx *stream.Subject[Frame], now time.Time) *tcpRegistration {
	return &tcpRegistration{
		local:    local,
		keys:     []string{local.String()},
		mode:     mode,
		rx:       rx,
		conns:    make(map[string]*tcpConn),
		lastSeen: now,
	}
}

func (r *tcpRegistration) info() RegistrationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := RegistrationInfo{
		Key:         r.keys[0],
		Mode:        r.mode,
		DualStack:   r.dualStack,
		LastSeen:    r.lastSeen,
		Connections: sortedKeys(r.conns),
	}
	if r.listener != nil {
		info.LocalAddr = r.listener.Addr()
	}
	return info
}

// track adds c under all of its keys. It fails once the registration closed.
func (r *tcpRegistration) track(c *tcpConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	for _, k := range c.keys {
		r.conns[k] = c
	}
	return true
}

func (r *tcpRegistration) untrack(c *tcpConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range c.keys {
		if r.conns[k] == c {
			delete(r.conns, k)
		}
	}
}

func (r *tcpRegistration) lookup(key string) *tcpConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[key]
}

func (r *tcpRegistration) touch(t time.Time) {
	r.mu.Lock()
	r.lastSeen = t
	r.mu.Unlock()
}

// close shuts the listener and every connection. The stream is left open.
func (r *tcpRegistration) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make(map[*tcpConn]struct{}, len(r.conns))
	for _, c := range r.conns {
		conns[c] = struct{}{}
	}
	r.conns = make(map[string]*tcpConn)
	ln := r.listener
	r.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for c := range conns {
		c.queue.close()
		c.conn.Close()
	}
}

func (r *tcpRegistration) frame(kind FrameKind, remote netip.AddrPort) Frame {
	return Frame{
		Kind:          kind,
		SourceAddress: remote.Addr().String(),
		SourcePort:    int(remote.Port()),
		TargetAdapter: r.local.Addr().String(),
		TargetPort:    int(r.local.Port()),
	}
}

// ListenTCP registers an open TCP listener on adapter and port and returns
// its frame stream. Repeated calls for the same key return the same stream.
//
// IPv4 adapters are bound dual-stack where the host allows it, so peers
// reaching the port through IPv4-mapped IPv6 are visible under both key
// forms. Bind failures are not returned: the stream terminates with a
// *ListenError instead, which late subscribers also receive.
func (m *Manager) ListenTCP(port int, adapter string) stream.Observable[Frame] {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return m.invalidStream(adapter, port, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if reg, ok := m.tcp[local.String()]; ok {
		return reg.rx
	}

	rx := stream.NewSubject[Frame]()
	if err := m.openTCPListener(local, rx); err != nil {
		m.failListen(rx, "tcp", local, err)
	}
	return rx
}

// openTCPListener binds local and stores an open registration publishing on
// rx. Caller holds m.mu.
func (m *Manager) openTCPListener(local netip.AddrPort, rx *stream.Subject[Frame]) error {
	ln, dualStack, err := bindTCP(local)
	if err != nil {
		return err
	}

	reg := newTCPRegistration(local, ModeOpen, rx, m.clock())
	reg.listener = ln
	reg.dualStack = dualStack
	if dualStack {
		reg.keys = append(reg.keys, mapped(local).String())
	}
	for _, k := range reg.keys {
		m.tcp[k] = reg
	}

	m.metrics.RegistrationCreated("tcp", ModeOpen.String())
	logrus.WithFields(logrus.Fields{
		"function":   "openTCPListener",
		"local":      local.String(),
		"dual_stack": dualStack,
		"listen":     ln.Addr().String(),
	}).Info("TCP listener registered")

	go m.acceptLoop(reg)
	return nil
}

// abandonListener drops a registration whose listener keeps failing and
// terminates its stream with a *ListenError, so a later ListenTCP can retry.
func (m *Manager) abandonListener(reg *tcpRegistration, err error) {
	m.mu.Lock()
	for _, k := range reg.keys {
		if m.tcp[k] == reg {
			delete(m.tcp, k)
		}
	}
	m.mu.Unlock()

	reg.close()
	m.failListen(reg.rx, "tcp", reg.local, err)
}

func bindTCP(local netip.AddrPort) (net.Listener, bool, error) {
	if local.Addr().Is4() {
		ln, err := listenDualStackTCP(local)
		if err == nil {
			return ln, true, nil
		}
		if !dualStackUnsupported(err) {
			return nil, false, err
		}
		logrus.WithFields(logrus.Fields{
			"function": "bindTCP",
			"local":    local.String(),
			"error":    err.Error(),
		}).Debug("Dual-stack bind unavailable, falling back to IPv4 only")

		ln, err = net.Listen("tcp4", local.String())
		return ln, false, err
	}

	ln, err := net.Listen("tcp6", local.String())
	return ln, false, err
}

func (m *Manager) acceptLoop(reg *tcpRegistration) {
	failures := 0
	for {
		conn, err := reg.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"local":    reg.local.String(),
				"failures": failures,
				"error":    err.Error(),
			}).Warn("Accept failed")
			if failures >= maxAcceptFailures {
				m.abandonListener(reg, err)
				return
			}
			f := reg.frame(FrameError, netip.AddrPort{})
			f.Err = err
			f.Payload = []byte(err.Error())
			m.emit(reg.rx, f)
			time.Sleep(acceptRetryDelay)
			continue
		}
		failures = 0

		remote, err := addrPortOf(conn.RemoteAddr())
		if err != nil {
			conn.Close()
			continue
		}
		if !m.limiter.allow(remote.Addr().Unmap().String()) {
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"remote":   remote.String(),
			}).Debug("Inbound connection rate limited")
			conn.Close()
			continue
		}

		m.serveTCP(reg, conn, remote)
	}
}

// serveTCP tracks conn on reg, announces it and starts its reader.
func (m *Manager) serveTCP(reg *tcpRegistration, conn net.Conn, remote netip.AddrPort, extraKeys ...string) {
	c := &tcpConn{conn: conn, remote: remote, keys: append(remoteKeys(remote), extraKeys...)}
	c.queue = newSendQueue(
		func(o outbound) error {
			_, err := conn.Write(o.payload)
			return err
		},
		func(err error) {
			f := reg.frame(FrameError, remote)
			f.Err = err
			f.Payload = []byte(err.Error())
			m.emit(reg.rx, f)
			conn.Close()
		},
	)

	if !reg.track(c) {
		c.queue.close()
		conn.Close()
		return
	}

	opened := reg.frame(FrameOpened, remote)
	opened.Payload = []byte(c.keys[0])
	m.emit(reg.rx, opened)

	go m.readTCP(reg, c)
}

func (m *Manager) readTCP(reg *tcpRegistration, c *tcpConn) {
	buf := make([]byte, m.bufSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			reg.touch(m.clock())
			f := reg.frame(FrameData, c.remote)
			f.Payload = append([]byte(nil), buf[:n]...)
			m.emit(reg.rx, f)
		}
		if err == nil {
			continue
		}

		reg.untrack(c)
		c.queue.close()
		c.conn.Close()

		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			f := reg.frame(FrameError, c.remote)
			f.Err = err
			f.Payload = []byte(err.Error())
			m.emit(reg.rx, f)
		}
		closed := reg.frame(FrameClosed, c.remote)
		closed.Payload = []byte(c.keys[0])
		m.emit(reg.rx, closed)
		return
	}
}

// SendTCP queues payload on the connection from the registration at
// sourceAdapter:sourcePort to destIP:destPort. It returns the number of
// bytes waiting to be written, or FlushPending when the queue is full
// enough that the caller should wait. Write failures arrive later as frames.
func (m *Manager) SendTCP(sourcePort int, sourceAdapter, destIP string, destPort int, payload []byte) (int, error) {
	local, err := parseLocal(sourceAdapter, sourcePort)
	if err != nil {
		return 0, err
	}
	dest, err := parseEndpoint(destIP, destPort)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	reg, ok := m.tcp[local.String()]
	m.mu.Unlock()
	if !ok {
		return 0, oops.Wrapf(ErrNoListener, "send from %s", local)
	}

	c := reg.lookup(dest.String())
	if c == nil {
		return 0, oops.Wrapf(ErrNoConnection, "send from %s to %s", local, dest)
	}

	n, err := c.queue.enqueue(outbound{payload: append([]byte(nil), payload...)})
	if err != nil {
		return 0, oops.Wrapf(ErrNoConnection, "send from %s to %s", local, dest)
	}
	m.metrics.BytesSent("tcp", len(payload))
	return n, nil
}
