package coordinator

import (
	"context"
	"testing"
	"time"
)

// TestHeartbeatStartStop exercises the goroutine lifecycle only: Start must
// not block, and Stop must return promptly without requiring the interval
// ticker to ever fire (an interval of an hour keeps the ticker well outside
// the test's window, the way this test observes the loop's exit path on
// stopCh rather than its periodic body).
func TestHeartbeatStartStop(t *testing.T) {
	hb := NewHeartbeat(nil, time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		hb.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start blocked instead of launching the loop in a goroutine")
	}

	stopped := make(chan struct{})
	go func() {
		hb.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}
}
