package pool

import (
	"testing"
	"time"
)

func TestPooledConnPinUnpin(t *testing.T) {
	c := newPooledConn(1, "warehouse", nil)
	if c.IsPinned() {
		t.Fatal("expected a fresh connection to not be pinned")
	}
	if c.PinReason() != PinNone {
		t.Errorf("got PinReason %q, want empty", c.PinReason())
	}

	c.Pin(PinTransaction)
	if !c.IsPinned() {
		t.Error("expected connection to be pinned after Pin")
	}
	if c.PinReason() != PinTransaction {
		t.Errorf("got PinReason %q, want %q", c.PinReason(), PinTransaction)
	}

	time.Sleep(time.Millisecond)
	dur := c.Unpin()
	if dur <= 0 {
		t.Error("expected Unpin to report a positive pinned duration")
	}
	if c.IsPinned() {
		t.Error("expected connection to not be pinned after Unpin")
	}
	if c.PinReason() != PinNone {
		t.Errorf("got PinReason %q after Unpin, want empty", c.PinReason())
	}
}

func TestPooledConnUnpinWithoutPinIsZero(t *testing.T) {
	c := newPooledConn(1, "warehouse", nil)
	if dur := c.Unpin(); dur != 0 {
		t.Errorf("got duration %v unpinning a never-pinned connection, want 0", dur)
	}
}

func TestPooledConnMarkStateTransitions(t *testing.T) {
	c := newPooledConn(1, "warehouse", nil)
	if c.State() != ConnStateIdle {
		t.Fatalf("got initial state %v, want ConnStateIdle", c.State())
	}

	c.markAcquired()
	if c.State() != ConnStateActive {
		t.Errorf("got state %v after markAcquired, want ConnStateActive", c.State())
	}
	if c.useCount != 1 {
		t.Errorf("got useCount %d, want 1", c.useCount)
	}

	c.markIdle()
	if c.State() != ConnStateIdle {
		t.Errorf("got state %v after markIdle, want ConnStateIdle", c.State())
	}

	c.markClosed()
	if c.State() != ConnStateClosed {
		t.Errorf("got state %v after markClosed, want ConnStateClosed", c.State())
	}
}

func TestPooledConnIdentity(t *testing.T) {
	c := newPooledConn(42, "warehouse", nil)
	if c.ID() != 42 {
		t.Errorf("got ID %d, want 42", c.ID())
	}
	if c.ContextName() != "warehouse" {
		t.Errorf("got ContextName %q, want warehouse", c.ContextName())
	}
}
