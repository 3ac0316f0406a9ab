package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent fails if ch yields anything within a short window.
func mustNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// startHub runs h until the test ends.
func startHub(t *testing.T, h Hub) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
}

// connect registers a client and consumes its handshake confirmation.
func connect(t *testing.T, h Hub, id, userID, username string) *Client {
	t.Helper()

	c := NewClient(id, Identity{UserID: userID, Username: username})
	h.RegisterClient(c)
	mustEvent(t, c.Events, EventAuthenticated)
	return c
}

func join(t *testing.T, c *Client, documentID string) *Event {
	t.Helper()

	c.Commands <- &Command{Kind: CommandJoinRoom, DocumentID: documentID}
	return mustEvent(t, c.Events, EventJoinAck)
}
