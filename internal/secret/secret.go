// Package secret encrypts gateway credentials for storage in the config
// file. Values are encrypted with an age x25519 identity kept in a local
// key file and stored as base64 ciphertext behind an "enc:" marker, so
// legacy plaintext values remain readable. age ciphertext is authenticated:
// a corrupted value or a mismatched key fails decryption rather than
// returning garbage.
package secret

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

// Marker prefixes encrypted values in the config file, distinguishing them
// from legacy plaintext.
const Marker = "enc:"

var (
	// ErrKeyMissing means the key file does not exist, so marked values
	// cannot be decrypted. Callers surface this once at startup as a
	// degraded-security condition, not a crash.
	ErrKeyMissing = errors.New("secret key file missing")

	// ErrDecryptFailure means the ciphertext is malformed or was encrypted
	// with a different key.
	ErrDecryptFailure = errors.New("decrypt failure")
)

// Store encrypts and decrypts credential strings with a symmetric-feel API
// backed by an age identity read from keyPath. The only implicit side
// effect is generating the key file on first Encrypt.
type Store struct {
	keyPath string

	mu       sync.Mutex
	identity *age.X25519Identity
}

func NewStore(keyPath string) *Store {
	return &Store{keyPath: keyPath}
}

// KeyPath returns the key file location.
func (s *Store) KeyPath() string {
	return s.keyPath
}

// KeyExists reports whether the key file is present.
func (s *Store) KeyExists() bool {
	_, err := os.Stat(s.keyPath)
	return err == nil
}

// IsEncrypted reports whether value carries the encrypted marker.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, Marker)
}

// Encrypt returns the marked ciphertext for plain. On first use a fresh
// key is generated and written to the key file with 0600 permissions.
func (s *Store) Encrypt(plain string) (string, error) {
	id, err := s.loadOrCreateIdentity()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, id.Recipient())
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if _, err := io.WriteString(w, plain); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	return Marker + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt. Unmarked values pass through unchanged — a
// migration affordance for configs written before encryption existed.
func (s *Store) Decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	id, err := s.loadIdentity()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Marker))
	if err != nil {
		return "", fmt.Errorf("%w: bad base64: %v", ErrDecryptFailure, err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	return string(plain), nil
}

func (s *Store) loadIdentity() (*age.X25519Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.identity != nil {
		return s.identity, nil
	}

	raw, err := os.ReadFile(s.keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	id, err := age.ParseX25519Identity(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid key file: %v", ErrDecryptFailure, err)
	}
	s.identity = id
	return id, nil
}

func (s *Store) loadOrCreateIdentity() (*age.X25519Identity, error) {
	id, err := s.loadIdentity()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrKeyMissing) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err = age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(s.keyPath, []byte(id.String()+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	s.identity = id
	return id, nil
}
