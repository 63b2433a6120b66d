package crypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	signingKeyFile    = "ed25519-private.key"
	encryptionKeyFile = "x25519-private.key"
)

// keyFileStore persists unencrypted PKCS#8 DER private keys in a directory.
type keyFileStore struct {
	dir string
}

func (s keyFileStore) read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

// write stores der atomically with owner-only permissions.
func (s keyFileStore) write(name string, der []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmpFile := filepath.Join(s.dir, name+".tmp")
	finalFile := filepath.Join(s.dir, name)

	if err := os.WriteFile(tmpFile, der, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpFile, finalFile); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// destroy overwrites the file with zeros before unlinking it. A missing file
// is not an error.
func (s keyFileStore) destroy(name string) error {
	filePath := filepath.Join(s.dir, name)

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat key file: %w", err)
	}

	zeros := make([]byte, info.Size())
	if err := os.WriteFile(filePath, zeros, 0o600); err != nil {
		return os.Remove(filePath)
	}

	return os.Remove(filePath)
}

// loadOrGenerate reads name from the store. If the file does not exist a new
// key is produced by generate and persisted before being returned. Any other
// read or parse failure is returned as is.
func (s keyFileStore) loadOrGenerate(name string, generate func() (any, error)) (any, error) {
	logger := NewLogger("loadOrGenerate").WithField("file", name)

	der, err := s.read(name)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("Key file missing, generating new key")

		key, err := generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to encode key: %w", err)
		}
		defer ZeroBytes(der)

		if err := s.write(name, der); err != nil {
			return nil, err
		}
		return key, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", name, err)
	}
	defer ZeroBytes(der)

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", name, err)
	}
	logger.Debug("Loaded key from disk")
	return key, nil
}

func generateSigningKey() (any, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

func generateEncryptionKey() (any, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

func loadSigningKey(s keyFileStore) (ed25519.PrivateKey, error) {
	key, err := s.loadOrGenerate(signingKeyFile, generateSigningKey)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not hold an Ed25519 key (got %T)", signingKeyFile, key)
	}
	return priv, nil
}

func loadEncryptionKey(s keyFileStore) (*ecdh.PrivateKey, error) {
	key, err := s.loadOrGenerate(encryptionKeyFile, generateEncryptionKey)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*ecdh.PrivateKey)
	if !ok || priv.Curve() != ecdh.X25519() {
		return nil, fmt.Errorf("%s does not hold an X25519 key (got %T)", encryptionKeyFile, key)
	}
	return priv, nil
}
