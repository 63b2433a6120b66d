package nat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/peerlink/locator"
	"github.com/opd-ai/peerlink/transport"
)

// ErrProbeTimeout is recorded for a server that did not answer in time.
var ErrProbeTimeout = errors.New("STUN probe timed out")

// prober multiplexes binding requests over one shared socket. A single read
// loop routes each response to the waiting probe by transaction id.
type prober struct {
	conn net.PacketConn

	mu      sync.Mutex
	pending map[transactionID]chan []byte
	done    chan struct{}
}

func startProber(conn net.PacketConn) *prober {
	p := &prober{
		conn:    conn,
		pending: make(map[transactionID]chan []byte),
		done:    make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Time{})
	go p.readLoop()
	return p
}

func (p *prober) readLoop() {
	defer close(p.done)

	buf := make([]byte, 1500)
	for {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		id, ok := transactionOf(buf[:n])
		if !ok {
			continue
		}

		p.mu.Lock()
		reply, ok := p.pending[id]
		delete(p.pending, id)
		p.mu.Unlock()

		if ok {
			reply <- bytes.Clone(buf[:n])
		}
	}
}

func (p *prober) register(id transactionID) <-chan []byte {
	reply := make(chan []byte, 1)
	p.mu.Lock()
	p.pending[id] = reply
	p.mu.Unlock()
	return reply
}

func (p *prober) forget(id transactionID) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// stop unblocks the read loop, waits for it and clears the deadline so the
// socket stays usable.
func (p *prober) stop() {
	_ = p.conn.SetReadDeadline(time.Now())
	<-p.done
	_ = p.conn.SetReadDeadline(time.Time{})
}

// socketFamily reports which family a bound socket can reach.
func socketFamily(conn net.PacketConn) transport.Family {
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok && ua.IP.To4() == nil {
		return transport.IPv6
	}
	return transport.IPv4
}

// probe sends one binding request to url and waits for its response. All
// failures are reported in the result.
func (g *Gatherer) probe(ctx context.Context, p *prober, family transport.Family, url string) ProbeResult {
	res := ProbeResult{Server: url}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	target, err := g.resolveServer(ctx, url, family)
	if err != nil {
		res.Err = err
		return res
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			res.Err = fmt.Errorf("%w: %s: %v", ErrProbeTimeout, url, err)
			return res
		}
	}

	id, err := newTransactionID()
	if err != nil {
		res.Err = err
		return res
	}
	reply := p.register(id)
	defer p.forget(id)

	start := time.Now()
	if _, err := p.conn.WriteTo(buildBindingRequest(id), net.UDPAddrFromAddrPort(target)); err != nil {
		res.Err = fmt.Errorf("failed to send STUN request to %s: %w", url, err)
		return res
	}

	select {
	case msg := <-reply:
		res.Latency = time.Since(start)
		res.Mapped, res.Err = parseBindingResponse(msg, id)
	case <-ctx.Done():
		res.Err = fmt.Errorf("%w: %s", ErrProbeTimeout, url)
	}
	return res
}

// resolveServer turns a server URL into the first endpoint of the wanted
// family. The "stun:" scheme prefix is optional.
func (g *Gatherer) resolveServer(ctx context.Context, url string, family transport.Family) (netip.AddrPort, error) {
	hostport := strings.TrimPrefix(strings.TrimPrefix(url, "stun:"), "//")

	addrs, err := locator.ResolveWith(ctx, g.resolver, hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}
	for _, a := range addrs {
		if transport.FamilyOf(a.IP) != family {
			continue
		}
		port := a.Port
		if port == 0 {
			port = DefaultSTUNPort
		}
		return netip.AddrPortFrom(a.IP, uint16(port)), nil
	}
	return netip.AddrPort{}, fmt.Errorf("no %s address for %s", family, url)
}
