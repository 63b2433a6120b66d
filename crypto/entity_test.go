package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, opts ...EntityOption) (*Entity, *Entity) {
	t.Helper()
	a, err := NewEntity(Ephemeral(), opts...)
	require.NoError(t, err)
	b, err := NewEntity(Ephemeral(), opts...)
	require.NoError(t, err)
	return a, b
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	a, b := newPair(t, WithKeyCache(8))

	for _, msg := range [][]byte{[]byte("hello peer"), {}, bytes.Repeat([]byte{0xAB}, 4096)} {
		blob, err := a.Encrypt(msg, "chat", b.EncryptionPublicKey())
		require.NoError(t, err)
		assert.Len(t, blob, ivSize+tagSize+len(msg))

		plain, err := b.Decrypt(blob, "chat", a.EncryptionPublicKey(), FailureError)
		require.NoError(t, err)
		assert.Equal(t, msg, plain)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	a, b := newPair(t)
	first, err := a.Encrypt([]byte("same"), "u", b.EncryptionPublicKey())
	require.NoError(t, err)
	second, err := a.Encrypt([]byte("same"), "u", b.EncryptionPublicKey())
	require.NoError(t, err)

	assert.NotEqual(t, first[:ivSize], second[:ivSize])
	assert.NotEqual(t, first, second)
}

func TestDerivedKeySymmetry(t *testing.T) {
	a, b := newPair(t)

	ka, err := a.deriveKey("file-transfer", b.EncryptionPublicKey())
	require.NoError(t, err)
	kb, err := b.deriveKey("file-transfer", a.EncryptionPublicKey())
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, DerivedKeySize)

	other, err := a.deriveKey("chat", b.EncryptionPublicKey())
	require.NoError(t, err)
	assert.NotEqual(t, ka, other, "usage must separate keys")
}

func TestDecryptTamperDetection(t *testing.T) {
	a, b := newPair(t)
	blob, err := a.Encrypt([]byte("integrity matters"), "chat", b.EncryptionPublicKey())
	require.NoError(t, err)

	regions := map[string]int{
		"iv":         0,
		"tag":        ivSize + 3,
		"ciphertext": ivSize + tagSize + 1,
	}
	for name, idx := range regions {
		t.Run(name, func(t *testing.T) {
			tampered := append([]byte(nil), blob...)
			tampered[idx] ^= 0x01

			_, err := b.Decrypt(tampered, "chat", a.EncryptionPublicKey(), FailureError)
			assert.ErrorIs(t, err, ErrDecryption)

			out, err := b.Decrypt(tampered, "chat", a.EncryptionPublicKey(), FailureVoid)
			assert.NoError(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestDecryptFailuresAreIndistinguishable(t *testing.T) {
	a, b := newPair(t)
	c, err := NewEntity(Ephemeral())
	require.NoError(t, err)

	blob, err := a.Encrypt([]byte("secret"), "chat", b.EncryptionPublicKey())
	require.NoError(t, err)

	cases := []struct {
		name   string
		blob   []byte
		usage  string
		sender string
	}{
		{"truncated", blob[:ivSize+tagSize-1], "chat", a.EncryptionPublicKey()},
		{"empty", nil, "chat", a.EncryptionPublicKey()},
		{"wrong usage", blob, "other", a.EncryptionPublicKey()},
		{"wrong sender", blob, "chat", c.EncryptionPublicKey()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Decrypt(tc.blob, tc.usage, tc.sender, FailureError)
			require.Error(t, err)
			assert.Equal(t, ErrDecryption.Error(), err.Error())
		})
	}
}

func TestMalformedRemoteKeyFailsImport(t *testing.T) {
	a, b := newPair(t)

	_, err := ImportRemoteEncryptionKey("not base64!!")
	assert.ErrorIs(t, err, ErrKeyImport)

	_, err = ImportRemoteEncryptionKey(base64.StdEncoding.EncodeToString([]byte("garbage")))
	assert.ErrorIs(t, err, ErrKeyImport)

	// a signing key is not an encryption key and vice versa
	_, err = ImportRemoteEncryptionKey(b.SignaturePublicKey())
	assert.ErrorIs(t, err, ErrKeyImport)
	_, err = ImportRemoteSignatureKey(b.EncryptionPublicKey())
	assert.ErrorIs(t, err, ErrKeyImport)

	_, err = a.Encrypt([]byte("x"), "chat", "bogus")
	assert.ErrorIs(t, err, ErrKeyImport)
}

func TestImportRoundTripsPublicKeys(t *testing.T) {
	a, _ := newPair(t)

	sig, err := ImportRemoteSignatureKey(a.SignaturePublicKey())
	require.NoError(t, err)
	assert.Len(t, sig, 32)

	enc, err := ImportRemoteEncryptionKey(a.EncryptionPublicKey())
	require.NoError(t, err)
	assert.Len(t, enc.Bytes(), 32)
}

func TestSignVerify(t *testing.T) {
	a, b := newPair(t)
	data := []byte("announce")
	sig := a.Sign(data)

	out, err := Verify(data, sig, a.SignaturePublicKey(), FailureError)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	_, err = Verify(data, sig, b.SignaturePublicKey(), FailureError)
	assert.ErrorIs(t, err, ErrVerification)

	out, err = Verify([]byte("announcf"), sig, a.SignaturePublicKey(), FailureVoid)
	assert.NoError(t, err)
	assert.Nil(t, out)

	_, err = Verify(data, sig, "bogus", FailureVoid)
	assert.ErrorIs(t, err, ErrKeyImport)
}

func TestStringVariants(t *testing.T) {
	a, b := newPair(t)

	sig := a.SignString("hello")
	got, err := VerifyString("hello", sig, a.SignaturePublicKey(), FailureError)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	_, err = VerifyString("hello", "%%%", a.SignaturePublicKey(), FailureError)
	assert.ErrorIs(t, err, ErrVerification)

	enc, err := a.EncryptString("héllo wörld", "chat", b.EncryptionPublicKey())
	require.NoError(t, err)
	plain, err := b.DecryptString(enc, "chat", a.EncryptionPublicKey(), FailureError)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", plain)

	_, err = b.DecryptString("not base64", "chat", a.EncryptionPublicKey(), FailureError)
	assert.ErrorIs(t, err, ErrDecryption)
	plain, err = b.DecryptString("not base64", "chat", a.EncryptionPublicKey(), FailureVoid)
	assert.NoError(t, err)
	assert.Empty(t, plain)
}

func TestPublicKeyEncoding(t *testing.T) {
	a, _ := newPair(t)
	// DER SPKI of a 32-byte key is 44 bytes, 60 base64 characters.
	assert.Len(t, a.SignaturePublicKey(), 60)
	assert.Len(t, a.EncryptionPublicKey(), 60)
	assert.NotEqual(t, a.SignaturePublicKey(), a.EncryptionPublicKey())
}

func TestPersistedIdentityIsReloaded(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := NewEntity(Path(dir))
	require.NoError(t, err)

	for _, name := range []string{signingKeyFile, encryptionKeyFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	second, err := NewEntity(Path(dir))
	require.NoError(t, err)
	assert.Equal(t, first.SignaturePublicKey(), second.SignaturePublicKey())
	assert.Equal(t, first.EncryptionPublicKey(), second.EncryptionPublicKey())

	// the reloaded identity can read what the first one's peer sealed
	peer, err := NewEntity(Ephemeral())
	require.NoError(t, err)
	blob, err := peer.Encrypt([]byte("persisted"), "chat", first.EncryptionPublicKey())
	require.NoError(t, err)
	plain, err := second.Decrypt(blob, "chat", peer.EncryptionPublicKey(), FailureError)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(plain))
}

func TestCorruptKeyFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, signingKeyFile), []byte("junk"), 0o600))

	_, err := NewEntity(Path(dir))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), signingKeyFile))
}

func TestEphemeralIdentityTouchesNoFiles(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)
	e, err := NewEntity(Ephemeral())
	require.NoError(t, err)
	assert.True(t, e.Location().IsEphemeral())

	entries, err := os.ReadDir(wd)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, e.Purge())
}

func TestPurgeDeletesFilesAndDemotes(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEntity(Path(dir), WithKeyCache(4))
	require.NoError(t, err)
	peer, err := NewEntity(Ephemeral())
	require.NoError(t, err)

	_, err = e.Encrypt([]byte("x"), "chat", peer.EncryptionPublicKey())
	require.NoError(t, err)
	require.Equal(t, 1, e.CachedKeys())

	signPub := e.SignaturePublicKey()
	require.NoError(t, e.Purge())

	for _, name := range []string{signingKeyFile, encryptionKeyFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should be gone", name)
	}
	assert.True(t, e.Location().IsEphemeral())
	assert.Equal(t, 0, e.CachedKeys())
	assert.Equal(t, signPub, e.SignaturePublicKey(), "in-memory identity survives purge")

	// a second purge is a no-op
	assert.NoError(t, e.Purge())
}

func TestPurgeKeyCacheKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEntity(Path(dir), WithKeyCache(4))
	require.NoError(t, err)
	peer, err := NewEntity(Ephemeral())
	require.NoError(t, err)

	_, err = e.Encrypt([]byte("x"), "chat", peer.EncryptionPublicKey())
	require.NoError(t, err)
	e.PurgeKeyCache()

	assert.Equal(t, 0, e.CachedKeys())
	assert.False(t, e.Location().IsEphemeral())
	_, err = os.Stat(filepath.Join(dir, signingKeyFile))
	assert.NoError(t, err)
}

func TestNegativeCacheCapacityRejected(t *testing.T) {
	_, err := NewEntity(Ephemeral(), WithKeyCache(-1))
	assert.Error(t, err)
}

func TestConcurrentEncrypt(t *testing.T) {
	a, _ := newPair(t, WithKeyCache(2))
	peers := make([]*Entity, 4)
	for i := range peers {
		p, err := NewEntity(Ephemeral())
		require.NoError(t, err)
		peers[i] = p
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := peers[i%len(peers)]
			blob, err := a.Encrypt([]byte("msg"), "chat", p.EncryptionPublicKey())
			if !assert.NoError(t, err) {
				return
			}
			plain, err := p.Decrypt(blob, "chat", a.EncryptionPublicKey(), FailureError)
			assert.NoError(t, err)
			assert.Equal(t, "msg", string(plain))
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, a.CachedKeys(), 2)
}
