package nat

import (
	"encoding/json"
	"net/netip"
	"slices"
	"time"
)

// NATType is the best-effort verdict of a characterization.
type NATType string

const (
	// FullCone also covers hosts with no NAT at all; the two are not
	// distinguishable from binding requests alone.
	FullCone        NATType = "Full Cone NAT"
	Symmetric       NATType = "Symmetric NAT"
	SymmetricMulti  NATType = "Symmetric NAT or Multi-NAT"
	UDPBlocked      NATType = "UDP Blocked"
	Unknown         NATType = "Unknown"
	Underdetermined NATType = "Unknown (Underdetermined)"
)

// ProbeResult is the outcome of one binding request. Exactly one of Mapped
// and Err is meaningful.
type ProbeResult struct {
	Server  string
	Mapped  netip.AddrPort
	Latency time.Duration
	Err     error
}

// OK reports whether the probe produced a mapped address.
func (r ProbeResult) OK() bool {
	return r.Err == nil && r.Mapped.IsValid()
}

// MarshalJSON renders the error as a string.
func (r ProbeResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Server    string  `json:"server"`
		Mapped    string  `json:"mapped,omitempty"`
		LatencyMS float64 `json:"latency_ms,omitempty"`
		Error     string  `json:"error,omitempty"`
	}{Server: r.Server}
	if r.OK() {
		out.Mapped = r.Mapped.String()
		out.LatencyMS = float64(r.Latency) / float64(time.Millisecond)
	} else if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Characterization summarizes a batch of probes over one socket. PublicIPs
// and PublicPorts are deduplicated in first-seen order.
type Characterization struct {
	NATType     NATType       `json:"nat_type"`
	PublicIPs   []netip.Addr  `json:"public_ips"`
	PublicPorts []uint16      `json:"public_ports"`
	Results     []ProbeResult `json:"results"`
}

// Classify derives a verdict from probe results. An empty batch counts as
// every probe failing.
func Classify(results []ProbeResult) Characterization {
	c := Characterization{Results: results}

	successes := 0
	for _, r := range results {
		if !r.OK() {
			continue
		}
		successes++
		ip := r.Mapped.Addr().Unmap()
		if !slices.Contains(c.PublicIPs, ip) {
			c.PublicIPs = append(c.PublicIPs, ip)
		}
		if !slices.Contains(c.PublicPorts, r.Mapped.Port()) {
			c.PublicPorts = append(c.PublicPorts, r.Mapped.Port())
		}
	}

	ips, ports := len(c.PublicIPs), len(c.PublicPorts)
	switch {
	case successes == 0:
		c.NATType = UDPBlocked
	case ips == 1 && ports == 1 && successes >= 2:
		c.NATType = FullCone
	case ips == 1 && ports > 1:
		c.NATType = Symmetric
	case ips > 1:
		c.NATType = SymmetricMulti
	case ips == 1 && ports == 1 && successes == 1:
		c.NATType = Underdetermined
	default:
		c.NATType = Unknown
	}
	return c
}
