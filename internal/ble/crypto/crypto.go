// Package crypto provides the authentication primitives for the remote
// control BLE protocol: a truncated HMAC-SHA256 tag over a command and the
// peripheral's nonce, and strict lowercase hex codecs.
//
// The tag is truncated to 8 bytes so a complete command frame fits in a
// single ATT write. Peers must reproduce the truncation byte for byte.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// AuthTagSize is the number of HMAC bytes kept on the wire.
const AuthTagSize = 8

var (
	// ErrEmptyKey is returned when a tag is requested with no key material.
	ErrEmptyKey = errors.New("ble/crypto: empty key")
	// ErrOddLength is returned when decoding hex with an odd number of digits.
	ErrOddLength = errors.New("ble/crypto: odd-length hex")
	// ErrInvalidHex is returned when decoding a string with non-hex characters.
	ErrInvalidHex = errors.New("ble/crypto: invalid hex")
)

// ComputeAuthTag returns the first AuthTagSize bytes of HMAC-SHA256(key, message).
func ComputeAuthTag(message, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	full := mac.Sum(nil)
	tag := make([]byte, AuthTagSize)
	copy(tag, full[:AuthTagSize])
	clear(full)
	return tag, nil
}

// CommandAuthTag computes the hex tag for a command frame. The MAC input is
// the exact string "<command>|<nonceHex>".
func CommandAuthTag(command, nonceHex string, key []byte) (string, error) {
	tag, err := ComputeAuthTag([]byte(command+"|"+nonceHex), key)
	if err != nil {
		return "", err
	}
	return EncodeHex(tag), nil
}

// EncodeHex renders b as lowercase hex.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex parses a hex string. Odd-length input fails instead of dropping
// the trailing nibble.
func DecodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: %d digits", ErrOddLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return b, nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	clear(b)
}
