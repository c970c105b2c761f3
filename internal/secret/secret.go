// Package secret stores the HMAC key shared with the remote peripheral.
//
// The key is provisioned as a UUID string (the form printed on the device
// label) and used as its 16 raw bytes.
package secret

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNoSecret is returned when no secret has been provisioned.
	ErrNoSecret = errors.New("secret: not provisioned")
	// ErrInvalidSecret is returned for provisioning input that is not a UUID.
	ErrInvalidSecret = errors.New("secret: invalid provisioning value")
)

// Provider hands out copies of the secret. Callers own the returned slice
// and should zero it after use.
type Provider interface {
	Bytes() ([]byte, error)
	Exists() bool
}

// Store is a Provider that can be provisioned and cleared.
type Store interface {
	Provider
	// Set parses a UUID string and persists its 16 bytes.
	Set(value string) error
	// Clear removes the secret. Clearing an empty store is not an error.
	Clear() error
}

// ParseProvisioningSecret converts a UUID string, with or without hyphens,
// into the 16-byte key.
func ParseProvisioningSecret(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: nil UUID", ErrInvalidSecret)
	}
	key := make([]byte, len(id))
	copy(key, id[:])
	return key, nil
}
