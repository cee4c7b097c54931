// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared enumerations: transport connection state and event kinds.

package api

import "fmt"

// TCPState is the protocol state reported by a Handle.
type TCPState int

const (
	TCPStateClosed TCPState = iota
	TCPStateListen
	TCPStateSynSent
	TCPStateSynRcvd
	TCPStateEstablished
	TCPStateFinWait1
	TCPStateFinWait2
	TCPStateCloseWait
	TCPStateClosing
	TCPStateLastAck
	TCPStateTimeWait
)

var tcpStateNames = [...]string{
	"CLOSED", "LISTEN", "SYN_SENT", "SYN_RCVD", "ESTABLISHED",
	"FIN_WAIT_1", "FIN_WAIT_2", "CLOSE_WAIT", "CLOSING", "LAST_ACK", "TIME_WAIT",
}

func (s TCPState) String() string {
	if s >= 0 && int(s) < len(tcpStateNames) {
		return tcpStateNames[s]
	}
	return fmt.Sprintf("TCPState(%d)", int(s))
}

// EventKind identifies an application-visible connection event.
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventSent
	EventError
	EventReceived
	EventTimeout
	EventPoll
	EventRecycle
	EventClose // internal: deferred recycle after Close
)

var eventKindNames = [...]string{
	"connected", "disconnected", "sent", "error", "received",
	"timeout", "poll", "recycle", "close",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}
