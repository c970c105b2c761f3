package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestComputeAuthTagDeterministic(t *testing.T) {
	key := make([]byte, 16)
	key[0] = 0x42

	tag1, err := ComputeAuthTag([]byte("CmdOpen|deadbeef"), key)
	if err != nil {
		t.Fatalf("ComputeAuthTag() error = %v", err)
	}
	if len(tag1) != AuthTagSize {
		t.Errorf("tag length = %d, want %d", len(tag1), AuthTagSize)
	}

	tag2, err := ComputeAuthTag([]byte("CmdOpen|deadbeef"), key)
	if err != nil {
		t.Fatalf("ComputeAuthTag() second call error = %v", err)
	}
	if !bytes.Equal(tag1, tag2) {
		t.Error("ComputeAuthTag is not deterministic")
	}
}

func TestCommandAuthTagGoldenVectors(t *testing.T) {
	key := make([]byte, 16)

	tests := []struct {
		command string
		nonce   string
		want    string
	}{
		{"CmdOpen", "deadbeef", "40b477e7b7c7b4ea"},
		{"CmdClose", "deadbeef", "f6846498686497f5"},
		{"CmdOpen", "00112233445566778899aabbccddeeff", "d63d2175f90cd41f"},
	}

	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.nonce, func(t *testing.T) {
			got, err := CommandAuthTag(tt.command, tt.nonce, key)
			if err != nil {
				t.Fatalf("CommandAuthTag() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CommandAuthTag(%q, %q) = %q, want %q", tt.command, tt.nonce, got, tt.want)
			}
		})
	}
}

func TestComputeAuthTagDifferentKeys(t *testing.T) {
	msg := []byte("CmdOpen|deadbeef")
	a, _ := ComputeAuthTag(msg, []byte{0x01})
	b, _ := ComputeAuthTag(msg, []byte{0x02})
	if bytes.Equal(a, b) {
		t.Error("different keys produced the same tag")
	}
}

func TestComputeAuthTagEmptyKey(t *testing.T) {
	_, err := ComputeAuthTag([]byte("CmdOpen|deadbeef"), nil)
	if !errors.Is(err, ErrEmptyKey) {
		t.Errorf("ComputeAuthTag(nil key) error = %v, want ErrEmptyKey", err)
	}
	if _, err := CommandAuthTag("CmdOpen", "deadbeef", []byte{}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("CommandAuthTag(empty key) error = %v, want ErrEmptyKey", err)
	}
}

func TestHexRoundTrip(t *testing.T) {
	for _, s := range []string{"", "00", "deadbeef", "0123456789abcdef", "ff00ff00ff00ff00ff"} {
		b, err := DecodeHex(s)
		if err != nil {
			t.Fatalf("DecodeHex(%q) error = %v", s, err)
		}
		if got := EncodeHex(b); got != s {
			t.Errorf("EncodeHex(DecodeHex(%q)) = %q", s, got)
		}
	}
}

func TestEncodeHexLowercase(t *testing.T) {
	if got := EncodeHex([]byte{0xAB, 0xCD}); got != "abcd" {
		t.Errorf("EncodeHex() = %q, want %q", got, "abcd")
	}
}

func TestDecodeHexOddLength(t *testing.T) {
	b, err := DecodeHex("abc")
	if !errors.Is(err, ErrOddLength) {
		t.Fatalf("DecodeHex(odd) error = %v, want ErrOddLength", err)
	}
	if b != nil {
		t.Errorf("DecodeHex(odd) returned %x, want nil", b)
	}
}

func TestDecodeHexInvalidChars(t *testing.T) {
	_, err := DecodeHex("zz")
	if !errors.Is(err, ErrInvalidHex) {
		t.Errorf("DecodeHex(\"zz\") error = %v, want ErrInvalidHex", err)
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("Zero() left %v", b)
	}
}
