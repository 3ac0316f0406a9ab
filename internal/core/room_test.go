package core

import "testing"

func TestRoomMembership(t *testing.T) {
	room := NewRoom("doc")
	a := NewClient("c1", Identity{UserID: "u1"})
	b := NewClient("c2", Identity{UserID: "u2"})

	if !room.AddClient(a) || !room.AddClient(b) {
		t.Fatalf("expected both clients to be added")
	}
	if room.AddClient(a) {
		t.Fatalf("re-adding a client should report false")
	}
	if room.Len() != 2 {
		t.Fatalf("expected 2 local clients, got %d", room.Len())
	}

	if !room.RemoveClient(a) || room.RemoveClient(a) {
		t.Fatalf("remove should succeed exactly once")
	}
	if room.Len() != 1 || room.Empty() {
		t.Fatalf("expected one client left, got %d", room.Len())
	}
	room.RemoveClient(b)
	if !room.Empty() {
		t.Fatalf("room should be empty")
	}
}
