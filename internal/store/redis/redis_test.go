package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vovakirdan/mindsync/internal/store"
	"github.com/vovakirdan/mindsync/internal/store/storetest"
)

func newTestStore(t *testing.T) (*RosterStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := Connect(context.Background(), Options{Addr: mr.Addr(), KeyPrefix: "mindsync:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRosterStore(t *testing.T) {
	storetest.RunRosterStore(t, func(t *testing.T) store.RosterStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestRoomKeyLayout(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddParticipant(ctx, "doc-1", store.Participant{ConnID: "c1", UserID: "u1", JoinedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !mr.Exists("mindsync:room:doc-1") {
		t.Fatalf("expected hash at mindsync:room:doc-1, keys=%v", mr.Keys())
	}

	if _, _, err := s.RemoveParticipant(ctx, "doc-1", "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if mr.Exists("mindsync:room:doc-1") {
		t.Fatalf("empty room hash should be gone")
	}
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Connect(ctx, Options{Addr: addr}); err == nil {
		t.Fatalf("expected connect to fail against a closed server")
	}
}
