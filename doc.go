// Package peerlink is the root of a set of building blocks for direct
// peer-to-peer channels across NATs.
//
// The subsystems live in their own packages:
//
//   - crypto: a peer identity (Ed25519 signing and X25519 encryption keys),
//     persisted or ephemeral, with signatures and AES-256-GCM payloads keyed
//     by HKDF over the X25519 shared secret.
//   - transport: a registry of TCP and UDP sockets keyed by adapter and port,
//     delivering everything as frames on per-registration event streams,
//     including forced p2p connections from a listening port.
//   - nat: candidate discovery from local interfaces and parallel STUN
//     binding requests, with best-effort NAT classification.
//   - stream: the typed publish/subscribe primitive the other packages emit
//     events on.
//   - locator: parsing and resolution of host[:port] style locators.
//   - config, metrics and limits: ambient settings, Prometheus collectors and
//     shared size bounds.
//
// # Getting Started
//
//	alice, err := crypto.NewEntity(crypto.Path("keys"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sealed, err := alice.EncryptString("hello", "chat", bobEncryptionKey)
//
//	m := transport.NewManager()
//	defer m.PurgeAll()
//	m.ListenTCP(33445, "0.0.0.0").SubscribeFunc(func(f transport.Frame) {
//	    fmt.Println(f.Kind, f.SourceAddress, len(f.Payload))
//	})
//
//	for _, c := range nat.NewGatherer(nil).Gather(ctx) {
//	    fmt.Println(c)
//	}
//
// The peerlink command in cmd/peerlink exposes the same operations from the
// shell.
package peerlink
