package secret

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fixedFingerprint(id string) func() (string, error) {
	return func() (string, error) { return id, nil }
}

func TestParseProvisioningSecret(t *testing.T) {
	want, _ := hex.DecodeString("4fafc2011fb5459e8fccc5c9c331914b")
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"hyphenated", "4fafc201-1fb5-459e-8fcc-c5c9c331914b", false},
		{"no hyphens", "4fafc2011fb5459e8fccc5c9c331914b", false},
		{"uppercase", "4FAFC201-1FB5-459E-8FCC-C5C9C331914B", false},
		{"surrounding whitespace", "  4fafc201-1fb5-459e-8fcc-c5c9c331914b\n", false},
		{"empty", "", true},
		{"too short", "4fafc201-1fb5", true},
		{"not hex", "zzzzzzzz-1fb5-459e-8fcc-c5c9c331914b", true},
		{"nil uuid", "00000000-0000-0000-0000-000000000000", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProvisioningSecret(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSecret) {
					t.Fatalf("error = %v, want ErrInvalidSecret", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("key = %x, want %x", got, want)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	if s.Exists() {
		t.Fatal("new store should be empty")
	}
	if _, err := s.Bytes(); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Bytes() error = %v, want ErrNoSecret", err)
	}

	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !s.Exists() {
		t.Fatal("Exists() = false after Set")
	}

	a, _ := s.Bytes()
	clear(a)
	b, err := s.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	if b[0] != 0x4f {
		t.Error("zeroing a returned copy changed the stored secret")
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if s.Exists() {
		t.Error("Exists() = true after Clear")
	}
}

func TestMemoryStoreRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Set("not-a-uuid"); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("Set() error = %v, want ErrInvalidSecret", err)
	}
	if s.Exists() {
		t.Error("invalid Set should not store anything")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.bin")
	s := NewFileStoreWithFingerprint(path, fixedFingerprint("host-a"))

	if s.Exists() {
		t.Fatal("Exists() = true before Set")
	}
	if _, err := s.Bytes(); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Bytes() error = %v, want ErrNoSecret", err)
	}

	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	want, _ := hex.DecodeString("4fafc2011fb5459e8fccc5c9c331914b")
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %x, want %x", got, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	raw, _ := os.ReadFile(path)
	if bytes.Contains(raw, want) {
		t.Error("secret stored in plaintext")
	}
}

func TestFileStoreOtherHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.bin")
	if err := NewFileStoreWithFingerprint(path, fixedFingerprint("host-a")).Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	other := NewFileStoreWithFingerprint(path, fixedFingerprint("host-b"))
	if _, err := other.Bytes(); err == nil {
		t.Fatal("expected unseal failure on a different host")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.bin")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFileStoreWithFingerprint(path, fixedFingerprint("host-a"))
	if _, err := s.Bytes(); err == nil || errors.Is(err, ErrNoSecret) {
		t.Fatalf("Bytes() error = %v, want a corruption error", err)
	}
}

func TestFileStoreFingerprintError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.bin")
	s := NewFileStoreWithFingerprint(path, func() (string, error) {
		return "", errors.New("no machine id")
	})
	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err == nil {
		t.Fatal("Set() should fail without a fingerprint")
	}
	if s.Exists() {
		t.Error("failed Set left a file behind")
	}
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.bin")
	s := NewFileStoreWithFingerprint(path, fixedFingerprint("host-a"))

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() on empty store error = %v", err)
	}
	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if s.Exists() {
		t.Error("Exists() = true after Clear")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
}

func TestFileStoreResealsWithFreshSalt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.bin")
	s := NewFileStoreWithFingerprint(path, fixedFingerprint("host-a"))

	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)
	if err := s.Set("4fafc201-1fb5-459e-8fcc-c5c9c331914b"); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if bytes.Equal(first, second) {
		t.Error("two provisions produced identical files")
	}
}
