package ble

import "fmt"

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateNegotiatingLink
	StateDiscoveringServices
	StateSubscribing
	StateAwaitingChallenge
	StateReady
	StateSending
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:                "idle",
	StateScanning:            "scanning",
	StateConnecting:          "connecting",
	StateNegotiatingLink:     "negotiating_link",
	StateDiscoveringServices: "discovering_services",
	StateSubscribing:         "subscribing",
	StateAwaitingChallenge:   "awaiting_challenge",
	StateReady:               "ready",
	StateSending:             "sending",
	StateDisconnected:        "disconnected",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// connected reports whether a link exists in this state.
func (s State) connected() bool {
	return s >= StateNegotiatingLink && s <= StateSending
}
