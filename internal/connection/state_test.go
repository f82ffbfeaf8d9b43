package connection

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:   "disconnected",
		StateAuthenticating: "authenticating",
		StateIdle:           "idle",
		StateExecuting:      "executing",
		StateCancelling:     "cancelling",
		State(99):           "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestStateBoxCAS(t *testing.T) {
	var b stateBox
	b.Store(StateIdle)

	if !b.CAS(StateIdle, StateExecuting) {
		t.Fatal("expected CAS from Idle to Executing to succeed")
	}
	if b.Load() != StateExecuting {
		t.Errorf("got state %s, want executing", b.Load())
	}
	if b.CAS(StateIdle, StateCancelling) {
		t.Error("expected CAS from a non-matching state to fail")
	}
	if b.Load() != StateExecuting {
		t.Error("expected state to be unchanged after a failed CAS")
	}
}

func TestStateBoxCASAllowed(t *testing.T) {
	var b stateBox
	b.Store(StateIdle)

	if !b.CASAllowed(StateIdle, StateExecuting) {
		t.Fatal("expected CASAllowed from Idle to Executing to succeed")
	}
	if b.Load() != StateExecuting {
		t.Errorf("got state %s, want executing", b.Load())
	}
	if b.CASAllowed(StateIdle, StateDisconnected) {
		t.Error("expected CASAllowed to fail when the current state doesn't match 'from', even on a legal edge")
	}
	if b.Load() != StateExecuting {
		t.Error("expected state to be unchanged after a failed CASAllowed")
	}
}

func TestStateBoxCASAllowedPanicsOnIllegalEdge(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected CASAllowed to panic on an edge absent from allowedTransitions")
		}
	}()
	var b stateBox
	b.Store(StateIdle)
	b.CASAllowed(StateIdle, StateCancelling)
}

func TestIsAllowedTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateAuthenticating, true},
		{StateDisconnected, StateIdle, false},
		{StateIdle, StateExecuting, true},
		{StateIdle, StateCancelling, false},
		{StateExecuting, StateIdle, true},
		{StateExecuting, StateCancelling, true},
		{StateCancelling, StateIdle, true},
		{StateCancelling, StateExecuting, false},
	}
	for _, tc := range cases {
		if got := isAllowed(tc.from, tc.to); got != tc.want {
			t.Errorf("isAllowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
