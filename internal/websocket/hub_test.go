package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBroadcastScopedToFamily(t *testing.T) {
	hub := testHub()

	a := NewClient(hub, nil, 1)
	b := NewClient(hub, nil, 1)
	other := NewClient(hub, nil, 2)
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	hub.Broadcast(1, NewMessage("task", "approved", 42, nil))

	for _, c := range []*Client{a, b} {
		select {
		case data := <-c.send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal broadcast: %v", err)
			}
			if msg.Type != "task_approved" || msg.ID != 42 {
				t.Errorf("message = %+v, want task_approved/42", msg)
			}
		default:
			t.Fatal("expected a message for a family 1 client")
		}
	}

	select {
	case <-other.send:
		t.Error("family 2 client received family 1 broadcast")
	default:
	}
}

func TestUnregisterClosesClient(t *testing.T) {
	hub := testHub()
	c := NewClient(hub, nil, 1)
	hub.Register(c)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}

	hub.Unregister(c)
	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("client count = %d, want 0", got)
	}
	if _, open := <-c.send; open {
		t.Error("expected send channel to be closed")
	}

	// A second unregister of the same client is harmless.
	hub.Unregister(c)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := testHub()
	c := NewClient(hub, nil, 1)
	hub.Register(c)

	for i := 0; i < sendBufferSize+5; i++ {
		hub.Broadcast(1, NewMessage("ledger", "updated", int64(i), nil))
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered messages = %d, want %d", got, sendBufferSize)
	}
}
