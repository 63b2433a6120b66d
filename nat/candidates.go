package nat

import (
	"fmt"
	"net/netip"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/opd-ai/peerlink/transport"
)

// CandidateKind says where a candidate address came from.
type CandidateKind string

const (
	KindLocal          CandidateKind = "local"
	KindSTUNConfirmed  CandidateKind = "stun-confirmed"
	KindSTUNHypothesis CandidateKind = "stun-hypothesis"
	KindVPN            CandidateKind = "vpn"
	KindVirtual        CandidateKind = "virtual"
)

// Protocol is the transport protocol a candidate is offered for.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Candidate is one address a peer may be reachable at. Port is zero for
// interface candidates, which have no bound port yet.
type Candidate struct {
	Address  netip.Addr        `json:"address"`
	Port     uint16            `json:"port,omitempty"`
	Kind     CandidateKind     `json:"kind"`
	Family   transport.Family  `json:"family"`
	Protocol Protocol          `json:"protocol"`
	Source   string            `json:"source"`
	NATType  NATType           `json:"nat_type,omitempty"`
	NATInfo  *Characterization `json:"nat_info,omitempty"`
}

// Multiaddr renders the candidate as /ip4|ip6/<addr>/tcp|udp/<port>.
func (c Candidate) Multiaddr() (ma.Multiaddr, error) {
	proto := "ip4"
	if c.Family == transport.IPv6 {
		proto = "ip6"
	}
	return ma.NewMultiaddr(fmt.Sprintf("/%s/%s/%s/%d", proto, c.Address.WithZone(""), c.Protocol, c.Port))
}

func (c Candidate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", c.Kind, c.Protocol, c.Address)
	if c.Port != 0 {
		fmt.Fprintf(&b, " port %d", c.Port)
	}
	if c.Source != "" {
		fmt.Fprintf(&b, " via %s", c.Source)
	}
	if c.NATType != "" {
		fmt.Fprintf(&b, " [%s]", c.NATType)
	}
	return b.String()
}

// foldCharacterization turns a characterization into public candidates.
// Nothing is produced unless exactly one public IP was observed.
func foldCharacterization(c Characterization, family transport.Family) []Candidate {
	if len(c.PublicIPs) != 1 {
		return nil
	}

	urls := make([]string, 0, len(c.Results))
	for _, r := range c.Results {
		urls = append(urls, r.Server)
	}
	info := c
	base := Candidate{
		Address: c.PublicIPs[0],
		Port:    c.PublicPorts[0],
		Family:  family,
		Source:  "STUN (" + strings.Join(urls, ", ") + ")",
		NATType: c.NATType,
		NATInfo: &info,
	}

	var out []Candidate
	if c.NATType != UDPBlocked {
		udp := base
		udp.Kind = KindSTUNConfirmed
		udp.Protocol = UDP
		out = append(out, udp)
	}
	tcp := base
	tcp.Kind = KindSTUNHypothesis
	tcp.Protocol = TCP
	return append(out, tcp)
}
