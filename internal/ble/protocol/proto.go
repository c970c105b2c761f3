// Package protocol implements the text wire format spoken with the remote
// control peripheral: authenticated command frames written to the write
// characteristic and nonce notifications received on the notify
// characteristic.
//
// Command frame (ASCII, pipe-delimited):
//
//	F|<command>|<nonce-hex>|<mac-hex>
//
// The nonce request sentinel is the literal "GET_NONCE".
package protocol

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	blecrypto "github.com/chaz8081/bleremote/internal/ble/crypto"
)

// Command is one of the fixed physical actions the peripheral accepts.
type Command string

const (
	CommandOpen  Command = "CmdOpen"
	CommandClose Command = "CmdClose"
)

// Commands lists every supported command.
var Commands = []Command{CommandOpen, CommandClose}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandOpen, CommandClose:
		return true
	}
	return false
}

// ParseCommand maps user-facing names ("open", "close") and wire names
// ("CmdOpen", "CmdClose") to a Command.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "cmdopen":
		return CommandOpen, nil
	case "close", "cmdclose":
		return CommandClose, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

const (
	// FrameRoleTag is the first field of every command frame.
	FrameRoleTag = "F"
	// NonceRequest asks the peripheral to notify a fresh nonce.
	NonceRequest = "GET_NONCE"

	frameSeparator = "|"
	macHexLen      = blecrypto.AuthTagSize * 2
)

var (
	ErrUnknownCommand = errors.New("protocol: unknown command")
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	ErrEmptyNonce     = errors.New("protocol: empty nonce")
	ErrMalformedNonce = errors.New("protocol: malformed nonce")
)

// CommandFrame is an authenticated command ready for the wire.
type CommandFrame struct {
	Command  Command
	NonceHex string
	MACHex   string
}

// NewCommandFrame authenticates command against nonceHex with key.
// The caller owns key and is responsible for zeroing it.
func NewCommandFrame(command Command, nonceHex string, key []byte) (CommandFrame, error) {
	if !command.Valid() {
		return CommandFrame{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	if err := ValidateNonce(nonceHex); err != nil {
		return CommandFrame{}, err
	}
	mac, err := blecrypto.CommandAuthTag(string(command), nonceHex, key)
	if err != nil {
		return CommandFrame{}, fmt.Errorf("protocol: auth tag: %w", err)
	}
	return CommandFrame{Command: command, NonceHex: nonceHex, MACHex: mac}, nil
}

// String renders the frame in wire form.
func (f CommandFrame) String() string {
	return strings.Join([]string{FrameRoleTag, string(f.Command), f.NonceHex, f.MACHex}, frameSeparator)
}

// Marshal returns the UTF-8 wire bytes of the frame.
func (f CommandFrame) Marshal() []byte {
	return []byte(f.String())
}

// Verify recomputes the tag with key and compares it in constant time.
func (f CommandFrame) Verify(key []byte) (bool, error) {
	want, err := blecrypto.CommandAuthTag(string(f.Command), f.NonceHex, key)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(f.MACHex)) == 1, nil
}

// ParseCommandFrame decodes a frame written by a client. It is used by the
// peripheral simulator and tests.
func ParseCommandFrame(data []byte) (CommandFrame, error) {
	parts := strings.Split(string(data), frameSeparator)
	if len(parts) != 4 {
		return CommandFrame{}, fmt.Errorf("%w: %d fields, want 4", ErrMalformedFrame, len(parts))
	}
	if parts[0] != FrameRoleTag {
		return CommandFrame{}, fmt.Errorf("%w: role tag %q", ErrMalformedFrame, parts[0])
	}
	cmd := Command(parts[1])
	if !cmd.Valid() {
		return CommandFrame{}, fmt.Errorf("%w: %q", ErrUnknownCommand, parts[1])
	}
	if err := ValidateNonce(parts[2]); err != nil {
		return CommandFrame{}, err
	}
	if len(parts[3]) != macHexLen || strings.ToLower(parts[3]) != parts[3] {
		return CommandFrame{}, fmt.Errorf("%w: mac must be %d lowercase hex chars", ErrMalformedFrame, macHexLen)
	}
	if _, err := blecrypto.DecodeHex(parts[3]); err != nil {
		return CommandFrame{}, fmt.Errorf("%w: mac: %v", ErrMalformedFrame, err)
	}
	return CommandFrame{Command: cmd, NonceHex: parts[2], MACHex: parts[3]}, nil
}

// ParseNonce extracts a nonce from a notification payload. The payload is
// cut at the first NUL, decoded as UTF-8 and trimmed of whitespace.
func ParseNonce(payload []byte) (string, error) {
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: not UTF-8", ErrMalformedNonce)
	}
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return "", ErrEmptyNonce
	}
	if err := ValidateNonce(s); err != nil {
		return "", err
	}
	return s, nil
}

// ValidateNonce checks that s is a non-empty, even-length hex string.
func ValidateNonce(s string) error {
	if s == "" {
		return ErrEmptyNonce
	}
	if _, err := blecrypto.DecodeHex(s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNonce, err)
	}
	return nil
}
