package redis

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestHeartbeatRefreshesUntilStopped(t *testing.T) {
	var refreshes atomic.Int32
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		heartbeat(5*time.Millisecond, stop, func() {
			refreshes.Add(1)
		})
	}()

	deadline := time.After(time.Second)
	for refreshes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("heartbeat never refreshed twice")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop after close")
	}

	after := refreshes.Load()
	time.Sleep(30 * time.Millisecond)
	if got := refreshes.Load(); got != after {
		t.Errorf("refreshes after stop = %d, want %d", got, after)
	}
}
