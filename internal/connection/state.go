// Package connection implements the client-originated TDS session: PRELOGIN
// negotiation, LOGIN7/FEDAUTH authentication, request dispatch and the
// response token stream, plus the connection state machine of SPEC_FULL §4.4.
package connection

import (
	"fmt"

	"go.uber.org/atomic"
)

// State is one of the Connection lifecycle states (SPEC_FULL §3.2).
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateIdle
	StateExecuting
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// stateBox wraps an atomic.Int32 to give Connection compare-and-swap state
// transitions, the way the teacher's pool uses go.uber.org/atomic counters
// instead of hand-rolling a sync/atomic.Value CAS loop.
type stateBox struct {
	v atomic.Int32
}

func (b *stateBox) Load() State { return State(b.v.Load()) }

func (b *stateBox) Store(s State) { b.v.Store(int32(s)) }

// CAS transitions the state from 'from' to 'to', returning false if the
// current state did not match 'from'. Prefer CASAllowed at call sites that
// represent a state-machine edge; CAS itself is used directly only where
// 'from' isn't a single fixed state (there is none of those currently, but
// the distinction matters for future callers).
func (b *stateBox) CAS(from, to State) bool {
	return b.v.CompareAndSwap(int32(from), int32(to))
}

// CASAllowed is CAS guarded by allowedTransitions: the (from, to) edge must
// be a legal transition of the state machine below, or it panics rather
// than silently attempting an edge the machine doesn't define. Every
// Connection call site that drives the state machine goes through this
// instead of raw CAS, so allowedTransitions is actually load-bearing
// instead of sitting next to the machine unconsulted.
func (b *stateBox) CASAllowed(from, to State) bool {
	if !isAllowed(from, to) {
		panic(fmt.Sprintf("connection: illegal state transition %s -> %s", from, to))
	}
	return b.v.CompareAndSwap(int32(from), int32(to))
}

// allowedTransitions enumerates the legal edges of the state machine; any
// transition not listed here is a programming error in this package, not a
// runtime condition callers need to check.
var allowedTransitions = map[State][]State{
	StateDisconnected:   {StateAuthenticating},
	StateAuthenticating: {StateIdle, StateDisconnected},
	StateIdle:           {StateExecuting, StateDisconnected},
	StateExecuting:      {StateIdle, StateCancelling, StateDisconnected},
	StateCancelling:     {StateIdle, StateDisconnected},
}

func isAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
