package transport

import (
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/metrics"
	"github.com/opd-ai/peerlink/stream"
)

// Mode is the lifecycle state of a TCP registration.
type Mode int

const (
	// ModeOpen accepts any inbound connection.
	ModeOpen Mode = iota
	// ModeP2P tracks exactly one outbound connection on the port.
	ModeP2P
)

func (m Mode) String() string {
	if m == ModeP2P {
		return "p2p"
	}
	return "open"
}

// RegistrationInfo is a snapshot of a registration.
type RegistrationInfo struct {
	Key         string
	Mode        Mode
	DualStack   bool
	LastSeen    time.Time
	LocalAddr   net.Addr
	Connections []string
}

type managerOptions struct {
	acceptRate  float64
	acceptBurst int
	metrics     *metrics.Metrics
	clock       func() time.Time
	readBuffer  int
}

// ManagerOption configures NewManager.
type ManagerOption func(*managerOptions)

// WithAcceptLimit rate limits anonymous inbound TCP connections per remote
// IP. Connections over the limit are closed immediately.
func WithAcceptLimit(rps float64, burst int) ManagerOption {
	return func(o *managerOptions) {
		o.acceptRate = rps
		o.acceptBurst = burst
	}
}

// WithMetrics reports frames, sends and registrations to m.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// WithClock overrides the clock used for last-seen timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.clock = now }
}

// WithReadBufferSize sets the per-socket read buffer, which bounds the size
// of a single data frame.
func WithReadBufferSize(n int) ManagerOption {
	return func(o *managerOptions) { o.readBuffer = n }
}

// Manager owns every TCP and UDP registration. Registrations are keyed by
// the adapter endpoint: "a.b.c.d:port" for IPv4 and "[addr]:port" for IPv6.
// A dual-stack TCP registration is stored under both forms.
type Manager struct {
	mu  sync.Mutex
	tcp map[string]*tcpRegistration
	udp map[string]*udpRegistration

	limiter *acceptLimiter
	metrics *metrics.Metrics
	clock   func() time.Time
	bufSize int
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	o := managerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.readBuffer = limits.ClampReadBuffer(o.readBuffer)

	return &Manager{
		tcp:     make(map[string]*tcpRegistration),
		udp:     make(map[string]*udpRegistration),
		limiter: newAcceptLimiter(o.acceptRate, o.acceptBurst, o.clock),
		metrics: o.metrics,
		clock:   o.clock,
		bufSize: o.readBuffer,
	}
}

// emit publishes f on rx and counts it.
func (m *Manager) emit(rx *stream.Subject[Frame], f Frame) {
	m.metrics.FrameEmitted(f.Kind.String())
	rx.Next(f)
}

// failListen terminates rx with a ListenError describing err.
func (m *Manager) failListen(rx *stream.Subject[Frame], protocol string, local netip.AddrPort, err error) {
	logrus.WithFields(logrus.Fields{
		"function": "failListen",
		"protocol": protocol,
		"local":    local.String(),
		"error":    err.Error(),
	}).Warn("Failed to bind socket")

	m.metrics.FrameEmitted(FrameError.String())
	rx.Error(&ListenError{Frame: Frame{
		Kind:          FrameError,
		TargetAdapter: local.Addr().String(),
		TargetPort:    int(local.Port()),
		Payload:       []byte(err.Error()),
		Err:           err,
	}})
}

// invalidStream returns a stream that already failed with err.
func (m *Manager) invalidStream(adapter string, port int, err error) stream.Observable[Frame] {
	rx := stream.NewSubject[Frame]()
	rx.Error(&ListenError{Frame: Frame{
		Kind:          FrameError,
		TargetAdapter: adapter,
		TargetPort:    port,
		Payload:       []byte(err.Error()),
		Err:           err,
	}})
	return rx
}

// TCPRegistration returns a snapshot of the TCP registration for adapter
// and port.
func (m *Manager) TCPRegistration(port int, adapter string) (RegistrationInfo, bool) {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return RegistrationInfo{}, false
	}
	m.mu.Lock()
	reg, ok := m.tcp[local.String()]
	m.mu.Unlock()
	if !ok {
		return RegistrationInfo{}, false
	}
	return reg.info(), true
}

// UDPRegistration returns a snapshot of the UDP registration for adapter
// and port.
func (m *Manager) UDPRegistration(port int, adapter string) (RegistrationInfo, bool) {
	local, err := parseLocal(adapter, port)
	if err != nil {
		return RegistrationInfo{}, false
	}
	m.mu.Lock()
	reg, ok := m.udp[local.String()]
	m.mu.Unlock()
	if !ok {
		return RegistrationInfo{}, false
	}
	return reg.info(), true
}

// PurgeAll closes every socket, completes every registration stream and
// empties the registry.
func (m *Manager) PurgeAll() {
	m.mu.Lock()
	tcpRegs := make(map[*tcpRegistration]struct{})
	for _, reg := range m.tcp {
		tcpRegs[reg] = struct{}{}
	}
	udpRegs := make([]*udpRegistration, 0, len(m.udp))
	for _, reg := range m.udp {
		udpRegs = append(udpRegs, reg)
	}
	m.tcp = make(map[string]*tcpRegistration)
	m.udp = make(map[string]*udpRegistration)
	m.mu.Unlock()

	for reg := range tcpRegs {
		reg.close()
		reg.rx.Complete()
	}
	for _, reg := range udpRegs {
		reg.close()
		reg.rx.Complete()
	}

	logrus.WithFields(logrus.Fields{
		"function": "PurgeAll",
		"tcp":      len(tcpRegs),
		"udp":      len(udpRegs),
	}).Info("Purged all socket registrations")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
