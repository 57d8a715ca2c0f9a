// Package protocol holds the text-level conversation the bridge has with a
// network client: the greeting, the status lines reporting the serial
// device, the termination keyword and the per-session state machine.
//
// Everything else on the wire is raw device traffic and is relayed verbatim.
package protocol

import (
	"bytes"
	"fmt"
)

// Version is reported in the greeting line.
const Version = "1.0"

// DefaultKeyword ends a session when a received chunk starts with it.
const DefaultKeyword = "logout"

// Session connection states.
type State uint8

const (
	WaitingForClient State = iota
	Connected
	WaitingForDevice
	Relaying
	Closed
)

func (s State) String() string {
	switch s {
	case WaitingForClient:
		return "waiting-for-client"
	case Connected:
		return "connected"
	case WaitingForDevice:
		return "waiting-for-device"
	case Relaying:
		return "relaying"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// CanTransition reports whether a session may move from one state to another.
// Closed is terminal for a session object; the listener starts over with a
// fresh one in WaitingForClient.
func CanTransition(from, to State) bool {
	switch from {
	case WaitingForClient:
		return to == Connected
	case Connected:
		return to == WaitingForDevice || to == Relaying || to == Closed
	case WaitingForDevice:
		return to == Relaying || to == Closed
	case Relaying:
		return to == WaitingForDevice || to == Closed
	}
	return false
}

// IsTermination reports whether chunk is the termination command.
// Only the leading bytes of a chunk are considered, so "logout\r\n" and
// "logoutXYZ" both end the session while "xlogout" is relayed.
func IsTermination(chunk []byte, keyword string) bool {
	if keyword == "" {
		return false
	}
	return bytes.HasPrefix(chunk, []byte(keyword))
}

// Greeting is sent once to every accepted client. The disconnect hint is
// left out when there is no keyword.
func Greeting(name, keyword string) []byte {
	if keyword == "" {
		return []byte(fmt.Sprintf("g'day from %s %s\r\n", name, Version))
	}
	return []byte(fmt.Sprintf("g'day from %s %s -- type '%s' to disconnect\r\n", name, Version, keyword))
}

// Status lines written to the attached session.
var (
	MsgConnected    = []byte("connected.\r\n")
	MsgFailed       = []byte("failed.\r\n")
	MsgWaiting      = []byte("Waiting for device...\r\n")
	MsgDisconnected = []byte("Disconnected.\r\n")
)

// Connecting precedes an open attempt; MsgConnected or MsgFailed completes the line.
func Connecting(path string) []byte {
	return []byte("Connecting to " + path + "... ")
}

// Closing is written before the serial handle is released.
func Closing(path string) []byte {
	return []byte("Closing " + path + "\r\n")
}
