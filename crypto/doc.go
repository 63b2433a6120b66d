// Package crypto implements the local peer identity: an Ed25519 signing
// keypair, an X25519 encryption keypair, and authenticated encryption of
// payloads exchanged with a specific remote peer.
//
// # Identity
//
// An Entity is created from a KeyLocation. Ephemeral identities live only in
// memory. Persisted identities are stored as two PKCS#8 DER files inside a
// directory and are generated on first use:
//
//	ent, err := crypto.NewEntity(crypto.Path("/var/lib/peerlink/keys"), crypto.WithKeyCache(64))
//
// Public keys are exchanged as standard base64 of the DER SubjectPublicKeyInfo
// encoding, as returned by SignaturePublicKey and EncryptionPublicKey.
//
// # Encryption
//
// Encrypt derives a symmetric key from the X25519 shared secret with the
// remote peer using HKDF-SHA-256. The HKDF info binds a caller-chosen usage
// label and both public keys in sorted order, so both sides derive the same
// key and different usages never share one. Payloads are sealed with
// AES-256-GCM and laid out as IV(12) || Tag(16) || Ciphertext.
//
// Every decryption failure is reported as ErrDecryption regardless of cause.
// Callers that prefer a nil result over an error pass FailureVoid.
//
// # Derived key cache
//
// Derived keys are kept in a bounded LRU cache keyed by remote public key and
// usage. A capacity of zero disables caching.
package crypto
