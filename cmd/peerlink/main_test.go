package main

import (
	"bytes"
	"net/netip"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/peerlink/crypto"
	"github.com/opd-ai/peerlink/nat"
	"github.com/opd-ai/peerlink/transport"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIdentityEphemeral(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := run(t, "", "identity", "--key-dir", "ephemeral")
	require.NoError(t, err)
	assert.Contains(t, out, "location:   ephemeral")
	assert.Contains(t, out, "signature:")
	assert.Contains(t, out, "encryption:")
}

func TestIdentityPurge(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := filepath.Join(t.TempDir(), "keys")

	_, err := run(t, "", "identity", "--key-dir", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "ed25519-private.key"))

	out, err := run(t, "", "identity", "--key-dir", dir, "--purge")
	require.NoError(t, err)
	assert.Contains(t, out, "purged")
	assert.NoFileExists(t, filepath.Join(dir, "ed25519-private.key"))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())
	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")

	a, err := crypto.NewEntity(crypto.Path(dirA))
	require.NoError(t, err)
	b, err := crypto.NewEntity(crypto.Path(dirB))
	require.NoError(t, err)

	sealed, err := run(t, "hello peer", "encrypt", "--key-dir", dirA,
		"--peer", b.EncryptionPublicKey(), "--usage", "chat")
	require.NoError(t, err)

	plain, err := run(t, sealed, "decrypt", "--key-dir", dirB,
		"--peer", a.EncryptionPublicKey(), "--usage", "chat")
	require.NoError(t, err)
	assert.Equal(t, "hello peer", plain)

	_, err = run(t, sealed, "decrypt", "--key-dir", dirB,
		"--peer", a.EncryptionPublicKey(), "--usage", "other")
	assert.ErrorIs(t, err, crypto.ErrDecryption)
}

func TestListenRejectsUnknownProtocol(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "", "listen", "--proto", "sctp", "--port", "9")
	assert.ErrorContains(t, err, "unknown protocol")
}

func TestListenReportsBindFailure(t *testing.T) {
	t.Chdir(t.TempDir())
	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = run(t, "", "listen", "--proto", "udp", "--port", "1", "--adapter", "192.0.2.250")
		done <- err
	}()

	select {
	case err := <-done:
		var le *transport.ListenError
		assert.ErrorAs(t, err, &le)
		assert.Contains(t, out, "error 192.0.2.250:1")
	case <-time.After(5 * time.Second):
		t.Fatal("listen did not fail")
	}
}

func TestConnectValidatesTarget(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := run(t, "", "connect", "--port", "0", "--to", "nonsense")
	assert.ErrorContains(t, err, "bad --to")
}

func TestFormatFrame(t *testing.T) {
	f := transport.Frame{
		Kind:          transport.FrameData,
		SourceAddress: "10.0.0.1",
		SourcePort:    5000,
		TargetAdapter: "0.0.0.0",
		TargetPort:    6000,
		Payload:       []byte("hi"),
	}
	assert.Equal(t, `data 10.0.0.1:5000 -> 0.0.0.0:6000 "hi"`, formatFrame(f))
}

func TestPrintCandidates(t *testing.T) {
	candidates := []nat.Candidate{
		{Address: netip.MustParseAddr("127.0.0.1"), Kind: nat.KindLocal, Family: transport.IPv4, Protocol: nat.TCP, Source: "lo"},
		{Address: netip.MustParseAddr("203.0.113.7"), Port: 40000, Kind: nat.KindSTUNConfirmed, Family: transport.IPv4, Protocol: nat.UDP, NATType: nat.FullCone},
	}

	var text bytes.Buffer
	require.NoError(t, printCandidates(&text, candidates, false))
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "local tcp 127.0.0.1 via lo", lines[0])
	assert.Contains(t, lines[1], "port 40000")

	var js bytes.Buffer
	require.NoError(t, printCandidates(&js, candidates, true))
	assert.Contains(t, js.String(), `"address": "203.0.113.7"`)
	assert.Contains(t, js.String(), `"family": "IPv4"`)
}
