package ble

import (
	"errors"
	"fmt"
)

// FaultCode distinguishes transport faults.
type FaultCode int

const (
	FaultLinkDisabled FaultCode = iota + 1
	FaultScan
	FaultConnect
	FaultMTU
	FaultDiscovery
	FaultEndpointsMissing
	FaultSubscribe
	FaultWrite
)

var faultNames = map[FaultCode]string{
	FaultLinkDisabled:     "link_disabled",
	FaultScan:             "scan",
	FaultConnect:          "connect",
	FaultMTU:              "mtu",
	FaultDiscovery:        "discovery",
	FaultEndpointsMissing: "endpoints_missing",
	FaultSubscribe:        "subscribe",
	FaultWrite:            "write",
}

func (c FaultCode) String() string {
	if s, ok := faultNames[c]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", int(c))
}

// Fault is a transport failure surfaced to the error sink.
type Fault struct {
	Code FaultCode
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("ble: %s: %v", f.Msg, f.Err)
	}
	return "ble: " + f.Msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Retryable reports whether re-issuing Start may succeed. A peer without
// the required endpoints will not grow them on a retry.
func (f *Fault) Retryable() bool {
	return f.Code != FaultEndpointsMissing
}

func newFault(code FaultCode, msg string, err error) *Fault {
	return &Fault{Code: code, Msg: msg, Err: err}
}

// FaultCodeOf returns the fault code carried by err, or 0.
func FaultCodeOf(err error) FaultCode {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return 0
}

// Protocol faults. They are non-fatal; the caller may retry.
var (
	ErrNotConnected  = errors.New("ble: not connected")
	ErrNoFreshNonce  = errors.New("ble: no fresh nonce yet")
	ErrSecretMissing = errors.New("ble: secret key missing, provision a secret first")
	ErrClosed        = errors.New("ble: session closed")
)
