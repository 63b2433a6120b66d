package nat

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opd-ai/peerlink/locator"
	"github.com/opd-ai/peerlink/metrics"
	"github.com/opd-ai/peerlink/transport"
)

// DefaultProbeTimeout bounds each STUN probe.
const DefaultProbeTimeout = 3 * time.Second

// Gatherer discovers the candidate addresses a peer can be reached at.
type Gatherer struct {
	servers    *ServerList
	probeCount int
	timeout    time.Duration
	limiter    *rate.Limiter
	lister     InterfaceLister
	listen     func(network, address string) (net.PacketConn, error)
	resolver   locator.Resolver
	metrics    *metrics.Metrics
}

// GathererOption configures a Gatherer.
type GathererOption func(*Gatherer)

// WithProbeCount limits probing to the n best-ranked servers. Zero probes
// every server.
func WithProbeCount(n int) GathererOption {
	return func(g *Gatherer) { g.probeCount = n }
}

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) GathererOption {
	return func(g *Gatherer) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithProbeRate paces outgoing binding requests. A zero limit disables
// pacing.
func WithProbeRate(limit rate.Limit, burst int) GathererOption {
	return func(g *Gatherer) {
		if limit <= 0 {
			g.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithInterfaceLister replaces interface enumeration.
func WithInterfaceLister(l InterfaceLister) GathererOption {
	return func(g *Gatherer) { g.lister = l }
}

// WithPacketListener replaces the factory for the STUN sockets.
func WithPacketListener(listen func(network, address string) (net.PacketConn, error)) GathererOption {
	return func(g *Gatherer) { g.listen = listen }
}

// WithResolver replaces the hostname resolver used for server URLs.
func WithResolver(r locator.Resolver) GathererOption {
	return func(g *Gatherer) { g.resolver = r }
}

// WithMetrics records probe outcomes.
func WithMetrics(m *metrics.Metrics) GathererOption {
	return func(g *Gatherer) { g.metrics = m }
}

// NewGatherer creates a Gatherer probing servers. A nil list uses
// DefaultServerList.
func NewGatherer(servers *ServerList, opts ...GathererOption) *Gatherer {
	if servers == nil {
		servers = DefaultServerList()
	}
	g := &Gatherer{
		servers:  servers,
		timeout:  DefaultProbeTimeout,
		lister:   SystemInterfaces{},
		listen:   net.ListenPacket,
		resolver: net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Servers returns the list probe outcomes are recorded into.
func (g *Gatherer) Servers() *ServerList {
	return g.servers
}

// Gather enumerates local interfaces and characterizes the NAT in front of
// fresh udp4 and udp6 sockets, all concurrently. It never fails: branches
// that cannot run contribute no candidates. The result lists local
// candidates first, then IPv6 STUN candidates, then IPv4 STUN candidates.
func (g *Gatherer) Gather(ctx context.Context) []Candidate {
	logger := logrus.WithFields(logrus.Fields{"function": "Gather"})

	conn4 := g.openSocket("udp4", "0.0.0.0:0")
	conn6 := g.openSocket("udp6", "[::]:0")
	defer func() {
		for _, c := range []net.PacketConn{conn4, conn6} {
			if c != nil {
				c.Close()
			}
		}
	}()

	var local, stun6, stun4 []Candidate
	var eg errgroup.Group

	eg.Go(func() error {
		addrs, err := g.lister.Addrs()
		if err != nil {
			logger.WithError(err).Warn("Failed to list network interfaces")
			return nil
		}
		local = localCandidates(addrs)
		return nil
	})
	if conn6 != nil {
		eg.Go(func() error {
			stun6 = foldCharacterization(g.CharacterizeNAT(ctx, conn6), transport.IPv6)
			return nil
		})
	}
	if conn4 != nil {
		eg.Go(func() error {
			stun4 = foldCharacterization(g.CharacterizeNAT(ctx, conn4), transport.IPv4)
			return nil
		})
	}
	_ = eg.Wait()

	out := make([]Candidate, 0, len(local)+len(stun6)+len(stun4))
	out = append(out, local...)
	out = append(out, stun6...)
	out = append(out, stun4...)

	logger.WithFields(logrus.Fields{
		"local": len(local),
		"stun6": len(stun6),
		"stun4": len(stun4),
	}).Info("Gathered candidates")
	return out
}

func (g *Gatherer) openSocket(network, address string) net.PacketConn {
	conn, err := g.listen(network, address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "openSocket",
			"network":  network,
			"error":    err.Error(),
		}).Warn("Failed to bind STUN socket")
		return nil
	}
	return conn
}

// CharacterizeNAT probes the best-ranked servers in parallel over conn and
// classifies the mappings they report. Each outcome is recorded in the
// server list. The socket is left open and usable.
func (g *Gatherer) CharacterizeNAT(ctx context.Context, conn net.PacketConn) Characterization {
	servers := g.servers.Rank(g.probeCount)
	family := socketFamily(conn)

	results := make([]ProbeResult, len(servers))
	p := startProber(conn)

	var eg errgroup.Group
	for i, s := range servers {
		eg.Go(func() error {
			results[i] = g.probe(ctx, p, family, s.URL)
			return nil
		})
	}
	_ = eg.Wait()
	p.stop()

	for _, r := range results {
		g.servers.Record(r.Server, r.Latency, r.Err)
		g.metrics.ProbeFinished(r.Err, r.Latency)
	}

	c := Classify(results)
	logrus.WithFields(logrus.Fields{
		"function":   "CharacterizeNAT",
		"family":     family.String(),
		"servers":    len(servers),
		"nat_type":   string(c.NATType),
		"public_ips": len(c.PublicIPs),
	}).Debug("NAT characterized")
	return c
}
