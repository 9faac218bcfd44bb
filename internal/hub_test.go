package internal

import (
	"testing"
	"time"
)

func newBareHub(t *testing.T, multiDevice bool) *Hub {
	t.Helper()
	hub := NewHub(NewSpaceRegistry(), NewMetrics(), NewPresenceTracker(), multiDevice)
	t.Cleanup(hub.Stop)
	return hub
}

func waitForHubCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", want, hub.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowConnectionDroppedNotBlocking(t *testing.T) {
	hub := newBareHub(t, false)
	stalled := newConn(hub, nil, "11111", "alice")
	healthy := newConn(hub, nil, "22222", "bob")
	hub.register <- stalled
	hub.register <- healthy
	waitForHubCount(t, hub, 2)

	// saturate the outbound queue so the next delivery cannot be buffered
	for i := 0; i < cap(stalled.send); i++ {
		stalled.send <- []byte("backlog")
	}

	frame, err := EncodeChat(Message{Author: "bob", Text: "keep moving", Timestamp: "10:00:00"})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	hub.events <- dispatchEvent{kind: KindChat, payload: frame}

	select {
	case payload := <-healthy.send:
		if string(payload) != string(frame) {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("healthy connection never received the frame")
	}

	waitForHubCount(t, hub, 1)
	if got := hub.metrics.Snapshot()["dropped_sends_total"].(uint64); got != 1 {
		t.Fatalf("dropped_sends_total = %d, want 1", got)
	}
}

func TestDetachAfterStopDoesNotBlock(t *testing.T) {
	hub := newBareHub(t, false)
	conn := newConn(hub, nil, "11111", "alice")
	hub.register <- conn
	waitForHubCount(t, hub, 1)
	hub.Stop()

	done := make(chan struct{})
	go func() {
		conn.forward(dispatchEvent{kind: KindChat, payload: []byte("{}")})
		conn.detach()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection handoff blocked after hub stop")
	}
}

func TestHubStopIsIdempotent(t *testing.T) {
	hub := NewHub(NewSpaceRegistry(), NewMetrics(), NewPresenceTracker(), false)
	hub.Stop()
	hub.Stop()
}
