package nat

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ok(ap string) ProbeResult {
	return ProbeResult{Server: "s", Mapped: netip.MustParseAddrPort(ap)}
}

func failed() ProbeResult {
	return ProbeResult{Server: "s", Err: errors.New("timeout")}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		results []ProbeResult
		want    NATType
	}{
		{"no probes", nil, UDPBlocked},
		{"all errored", []ProbeResult{failed(), failed()}, UDPBlocked},
		{"stable mapping", []ProbeResult{ok("198.51.100.1:4000"), ok("198.51.100.1:4000")}, FullCone},
		{"stable mapping with a failure", []ProbeResult{ok("198.51.100.1:4000"), failed(), ok("198.51.100.1:4000")}, FullCone},
		{"ports differ", []ProbeResult{ok("198.51.100.1:4000"), ok("198.51.100.1:4001")}, Symmetric},
		{"ips differ", []ProbeResult{ok("198.51.100.1:4000"), ok("198.51.100.2:4000")}, SymmetricMulti},
		{"single success", []ProbeResult{ok("198.51.100.1:4000"), failed()}, Underdetermined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.results).NATType)
		})
	}
}

func TestClassifyCollectsDistinctEndpoints(t *testing.T) {
	c := Classify([]ProbeResult{
		ok("198.51.100.1:4000"),
		ok("198.51.100.1:4001"),
		failed(),
		ok("[::ffff:198.51.100.1]:4000"),
	})

	assert.Equal(t, []netip.Addr{netip.MustParseAddr("198.51.100.1")}, c.PublicIPs)
	assert.Equal(t, []uint16{4000, 4001}, c.PublicPorts)
	assert.Len(t, c.Results, 4)
}

func TestProbeResultJSON(t *testing.T) {
	data, err := ok("198.51.100.1:4000").MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"server":"s","mapped":"198.51.100.1:4000"}`, string(data))

	data, err = failed().MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"server":"s","error":"timeout"}`, string(data))
}

func TestFoldCharacterization(t *testing.T) {
	c := Classify([]ProbeResult{
		{Server: "a:3478", Mapped: netip.MustParseAddrPort("198.51.100.1:4000")},
		{Server: "b:3478", Mapped: netip.MustParseAddrPort("198.51.100.1:4000")},
	})

	got := foldCharacterization(c, 0)
	if assert.Len(t, got, 2) {
		assert.Equal(t, KindSTUNConfirmed, got[0].Kind)
		assert.Equal(t, UDP, got[0].Protocol)
		assert.Equal(t, KindSTUNHypothesis, got[1].Kind)
		assert.Equal(t, TCP, got[1].Protocol)
		assert.Equal(t, uint16(4000), got[1].Port)
		assert.Equal(t, "STUN (a:3478, b:3478)", got[1].Source)
		assert.Equal(t, FullCone, got[0].NATInfo.NATType)
	}

	multi := Classify([]ProbeResult{ok("198.51.100.1:1"), ok("198.51.100.2:1")})
	assert.Empty(t, foldCharacterization(multi, 0))
	assert.Empty(t, foldCharacterization(Classify(nil), 0))
}
