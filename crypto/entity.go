package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/peerlink/limits"
	"github.com/opd-ai/peerlink/metrics"
)

const (
	// DerivedKeySize is the size of keys produced by HKDF (AES-256).
	DerivedKeySize = 32
	ivSize         = limits.SealIVSize
	tagSize        = limits.SealTagSize
)

var (
	// ErrDecryption is returned for every decryption failure. The cause
	// (truncation, tampering, wrong key or usage) is deliberately not exposed.
	ErrDecryption = errors.New("decryption failed or data is tampered")
	// ErrVerification is returned when a signature does not verify.
	ErrVerification = errors.New("signature verification failed")
	// ErrKeyImport is returned when a remote public key cannot be decoded.
	ErrKeyImport = errors.New("invalid remote public key")
)

// FailureMode selects how Decrypt and Verify report failure.
type FailureMode int

const (
	// FailureError returns ErrDecryption or ErrVerification.
	FailureError FailureMode = iota
	// FailureVoid returns a nil result and a nil error.
	FailureVoid
)

// Entity is the local peer identity. It is safe for concurrent use.
type Entity struct {
	mu       sync.Mutex
	location KeyLocation

	signKey ed25519.PrivateKey
	encKey  *ecdh.PrivateKey
	signPub string
	encPub  string

	cache   *keyCache
	metrics *metrics.Metrics
}

type entityOptions struct {
	cacheCapacity int
	clock         TimeProvider
	metrics       *metrics.Metrics
}

// EntityOption configures NewEntity.
type EntityOption func(*entityOptions)

// WithKeyCache bounds the derived key cache. Zero disables caching.
func WithKeyCache(capacity int) EntityOption {
	return func(o *entityOptions) { o.cacheCapacity = capacity }
}

// WithTimeProvider overrides the clock used for cache touch times.
func WithTimeProvider(tp TimeProvider) EntityOption {
	return func(o *entityOptions) { o.clock = tp }
}

// WithMetrics reports failures and cache lookups to m.
func WithMetrics(m *metrics.Metrics) EntityOption {
	return func(o *entityOptions) { o.metrics = m }
}

// NewEntity loads the identity stored at loc, generating and persisting any
// missing key. Ephemeral locations always generate fresh keys.
func NewEntity(loc KeyLocation, opts ...EntityOption) (*Entity, error) {
	o := entityOptions{clock: DefaultTimeProvider{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheCapacity < 0 {
		return nil, fmt.Errorf("key cache capacity must not be negative: %d", o.cacheCapacity)
	}

	logger := NewLogger("NewEntity").WithField("location", loc.String())

	var (
		signKey ed25519.PrivateKey
		encKey  *ecdh.PrivateKey
		err     error
	)
	if loc.IsEphemeral() {
		if _, signKey, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		if encKey, err = ecdh.X25519().GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
	} else {
		store := keyFileStore{dir: loc.Dir()}
		if signKey, err = loadSigningKey(store); err != nil {
			return nil, err
		}
		if encKey, err = loadEncryptionKey(store); err != nil {
			return nil, err
		}
	}

	signPub, err := encodePublicKey(signKey.Public())
	if err != nil {
		return nil, err
	}
	encPub, err := encodePublicKey(encKey.PublicKey())
	if err != nil {
		return nil, err
	}

	cache, err := newKeyCache(o.cacheCapacity, o.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"signature_key":  keyPreview(signPub),
		"encryption_key": keyPreview(encPub),
	}).Info("Identity ready")

	return &Entity{
		location: loc,
		signKey:  signKey,
		encKey:   encKey,
		signPub:  signPub,
		encPub:   encPub,
		cache:    cache,
		metrics:  o.metrics,
	}, nil
}

func encodePublicKey(pub any) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// SignaturePublicKey returns the Ed25519 public key as base64 DER SPKI.
func (e *Entity) SignaturePublicKey() string {
	return e.signPub
}

// EncryptionPublicKey returns the X25519 public key as base64 DER SPKI.
func (e *Entity) EncryptionPublicKey() string {
	return e.encPub
}

// Location returns where the private keys are currently kept.
func (e *Entity) Location() KeyLocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.location
}

// ImportRemoteSignatureKey decodes a base64 DER SPKI Ed25519 public key.
func ImportRemoteSignatureKey(b64 string) (ed25519.PublicKey, error) {
	pub, err := parsePublicKey(b64)
	if err != nil {
		return nil, err
	}
	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an Ed25519 key (got %T)", ErrKeyImport, pub)
	}
	return key, nil
}

// ImportRemoteEncryptionKey decodes a base64 DER SPKI X25519 public key.
func ImportRemoteEncryptionKey(b64 string) (*ecdh.PublicKey, error) {
	pub, err := parsePublicKey(b64)
	if err != nil {
		return nil, err
	}
	key, ok := pub.(*ecdh.PublicKey)
	if !ok || key.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("%w: not an X25519 key (got %T)", ErrKeyImport, pub)
	}
	return key, nil
}

func parsePublicKey(b64 string) (any, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImport, err)
	}
	return pub, nil
}

// Sign returns the Ed25519 signature of data.
func (e *Entity) Sign(data []byte) []byte {
	return ed25519.Sign(e.signKey, data)
}

// SignString signs the UTF-8 bytes of s and returns the signature in base64.
func (e *Entity) SignString(s string) string {
	return base64.StdEncoding.EncodeToString(e.Sign([]byte(s)))
}

// Verify checks sig over data against the remote base64 signing key and
// returns data when it verifies. A malformed key always yields ErrKeyImport.
func Verify(data, sig []byte, remotePublicKey string, mode FailureMode) ([]byte, error) {
	pub, err := ImportRemoteSignatureKey(remotePublicKey)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(pub, data, sig) {
		NewLogger("Verify").WithField("remote_key", keyPreview(remotePublicKey)).Debug("Signature rejected")
		if mode == FailureVoid {
			return nil, nil
		}
		return nil, ErrVerification
	}
	return data, nil
}

// VerifyString is Verify for a string payload and a base64 signature.
func VerifyString(data, sigB64, remotePublicKey string, mode FailureMode) (string, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		if mode == FailureVoid {
			return "", nil
		}
		return "", ErrVerification
	}
	out, err := Verify([]byte(data), sig, remotePublicKey, mode)
	if err != nil || out == nil {
		return "", err
	}
	return string(out), nil
}

// deriveKey returns the symmetric key shared with remote for usage. Both
// peers derive the same key because the HKDF info orders the two public
// keys lexicographically.
func (e *Entity) deriveKey(usage, remote string) ([]byte, error) {
	e.mu.Lock()
	cache := e.cache
	e.mu.Unlock()

	if key, ok := cache.get(remote, usage); ok {
		e.metrics.KeyCacheLookup(true)
		return key, nil
	}
	if cache != nil {
		e.metrics.KeyCacheLookup(false)
	}

	pub, err := ImportRemoteEncryptionKey(remote)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(e.encKey.Bytes(), pub.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	defer ZeroBytes(shared)

	canonical, err := encodePublicKey(pub)
	if err != nil {
		return nil, err
	}
	keys := []string{e.encPub, canonical}
	sort.Strings(keys)
	info := usage + ":" + keys[0] + ":" + keys[1]

	key := make([]byte, DerivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	cache.put(remote, usage, key)
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals data for remote under usage. The result is laid out as
// IV(12) || Tag(16) || Ciphertext.
func (e *Entity) Encrypt(data []byte, usage, remotePublicKey string) ([]byte, error) {
	key, err := e.deriveKey(usage, remotePublicKey)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, data, nil)
	split := len(sealed) - tagSize

	out := make([]byte, 0, ivSize+len(sealed))
	out = append(out, iv...)
	out = append(out, sealed[split:]...)
	out = append(out, sealed[:split]...)
	return out, nil
}

// EncryptString encrypts the UTF-8 bytes of s and returns base64.
func (e *Entity) EncryptString(s, usage, remotePublicKey string) (string, error) {
	out, err := e.Encrypt([]byte(s), usage, remotePublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt on the remote side.
func (e *Entity) Decrypt(blob []byte, usage, remotePublicKey string, mode FailureMode) ([]byte, error) {
	plain, err := e.open(blob, usage, remotePublicKey)
	if err != nil {
		NewLogger("Decrypt").
			WithField("remote_key", keyPreview(remotePublicKey)).
			WithField("usage", usage).
			WithFields(SecureFieldHash(blob, "blob")).
			WithError(err, "open").
			Debug("Decryption rejected")
		e.metrics.CryptoFailure("decrypt")
		if mode == FailureVoid {
			return nil, nil
		}
		return nil, ErrDecryption
	}
	return plain, nil
}

// DecryptString decrypts a base64 blob and returns the plaintext as a string.
func (e *Entity) DecryptString(b64, usage, remotePublicKey string, mode FailureMode) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		blob = nil
	}
	plain, err := e.Decrypt(blob, usage, remotePublicKey, mode)
	if err != nil || plain == nil {
		return "", err
	}
	return string(plain), nil
}

func (e *Entity) open(blob []byte, usage, remote string) ([]byte, error) {
	if len(blob) < limits.SealOverhead {
		return nil, fmt.Errorf("blob too short: %d bytes", len(blob))
	}
	key, err := e.deriveKey(usage, remote)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := blob[:ivSize]
	tag := blob[ivSize : ivSize+tagSize]
	ct := blob[ivSize+tagSize:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, err
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// CachedKeys returns the number of derived keys currently cached.
func (e *Entity) CachedKeys() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.len()
}

// PurgeKeyCache drops every cached derived key.
func (e *Entity) PurgeKeyCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.purge()
}

// Purge deletes the persisted key files, demotes the entity to an ephemeral
// location and clears the derived key cache. The in-memory keys stay usable.
func (e *Entity) Purge() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache.purge()
	if e.location.IsEphemeral() {
		return nil
	}

	store := keyFileStore{dir: e.location.Dir()}
	var errs []error
	for _, name := range []string{signingKeyFile, encryptionKeyFile} {
		if err := store.destroy(name); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", name, err))
		}
	}

	NewLogger("Purge").WithField("location", e.location.String()).Info("Key files purged, identity is now ephemeral")
	e.location = Ephemeral()
	return errors.Join(errs...)
}
