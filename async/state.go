// File: async/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package async

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateClosing
	StatePooled

	// stateReleasing is held by the single goroutine that won recycle. It is
	// reported as StateClosing.
	stateReleasing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosing, stateReleasing:
		return "closing"
	case StatePooled:
		return "pooled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// transitions lists every legal lifecycle move.
var transitions = map[State][]State{
	StateUninitialized: {StateActive},
	StatePooled:        {StateActive},
	StateActive:        {StateClosing},
	StateClosing:       {stateReleasing},
	stateReleasing:     {StatePooled, StateUninitialized},
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() State {
	return State(l.v.Load())
}

// transition moves from -> to atomically. Illegal moves always fail.
func (l *lifecycle) transition(from, to State) bool {
	if !legal(from, to) {
		return false
	}
	return l.v.CompareAndSwap(int32(from), int32(to))
}

// SendState tracks whether a flush is awaiting acknowledgment.
type SendState int32

const (
	SendDisabled SendState = iota
	SendReady
	SendInFlight
)

func (s SendState) String() string {
	switch s {
	case SendDisabled:
		return "disabled"
	case SendReady:
		return "ready"
	case SendInFlight:
		return "in-flight"
	default:
		return fmt.Sprintf("send(%d)", int32(s))
	}
}
