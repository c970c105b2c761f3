package secret

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// File layout: magic | salt | nonce | sealed key.
var fileMagic = []byte("BRS1")

const (
	saltSize = 16
	kdfInfo  = "bleremote secret v1"
)

// FileStore keeps the secret sealed with XChaCha20-Poly1305 under a key
// derived from the host fingerprint, so a copied file is useless on
// another machine.
type FileStore struct {
	path        string
	fingerprint func() (string, error)

	mu sync.Mutex
}

// NewFileStore returns a FileStore at path bound to HostFingerprint.
func NewFileStore(path string) *FileStore {
	return NewFileStoreWithFingerprint(path, HostFingerprint)
}

// NewFileStoreWithFingerprint returns a FileStore using fp to identify the
// host.
func NewFileStoreWithFingerprint(path string, fp func() (string, error)) *FileStore {
	return &FileStore{path: path, fingerprint: fp}
}

// Path returns the sealed file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Bytes() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSecret
	}
	if err != nil {
		return nil, fmt.Errorf("secret: read %s: %w", s.path, err)
	}
	return s.open(data)
}

func (s *FileStore) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	return err == nil && info.Size() > 0
}

func (s *FileStore) Set(value string) error {
	key, err := ParseProvisioningSecret(value)
	if err != nil {
		return err
	}
	defer clear(key)

	sealed, err := s.seal(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("secret: create directory: %w", err)
	}
	// Write to a temp file and rename so a crash never leaves a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("secret: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("secret: install %s: %w", s.path, err)
	}
	slog.Info("[SECRET] provisioned", "path", s.path)
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("secret: remove %s: %w", s.path, err)
	}
	slog.Info("[SECRET] cleared", "path", s.path)
	return nil
}

func (s *FileStore) deriveKey(salt []byte) ([]byte, error) {
	fp, err := s.fingerprint()
	if err != nil {
		return nil, fmt.Errorf("secret: host fingerprint: %w", err)
	}
	kdf := hkdf.New(sha256.New, []byte(fp), salt, []byte(kdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secret: derive key: %w", err)
	}
	return key, nil
}

func (s *FileStore) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("secret: salt: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret: cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secret: nonce: %w", err)
	}

	out := make([]byte, 0, len(fileMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, fileMagic), nil
}

func (s *FileStore) open(data []byte) ([]byte, error) {
	header := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(data) < header+chacha20poly1305.Overhead || !bytes.HasPrefix(data, fileMagic) {
		return nil, fmt.Errorf("secret: %s is not a sealed secret file", s.path)
	}
	salt := data[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := data[len(fileMagic)+saltSize : header]

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("secret: cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, data[header:], fileMagic)
	if err != nil {
		return nil, fmt.Errorf("secret: unseal %s (provisioned on another host?): %w", s.path, err)
	}
	return plain, nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*memoryStore)(nil)
)
