// Package storetest holds behaviour checks shared by every RosterStore backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/mindsync/internal/store"
)

// RunRosterStore exercises a RosterStore implementation. newStore must return
// an empty store.
func RunRosterStore(t *testing.T, newStore func(t *testing.T) store.RosterStore) {
	t.Run("AddAndRoster", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Unix(1700000000, 0).UTC()

		if _, err := s.AddParticipant(ctx, "doc", participant("c2", "u2", base.Add(time.Second))); err != nil {
			t.Fatalf("add c2: %v", err)
		}
		roster, err := s.AddParticipant(ctx, "doc", participant("c1", "u1", base))
		if err != nil {
			t.Fatalf("add c1: %v", err)
		}
		if len(roster) != 2 || roster[0].ConnID != "c1" || roster[1].ConnID != "c2" {
			t.Fatalf("expected roster ordered by join time, got %+v", roster)
		}

		// Re-adding the same connection replaces its record.
		roster, err = s.AddParticipant(ctx, "doc", participant("c1", "u1", base))
		if err != nil {
			t.Fatalf("re-add c1: %v", err)
		}
		if len(roster) != 2 {
			t.Fatalf("expected re-add to be idempotent, got %d entries", len(roster))
		}

		other, err := s.Roster(ctx, "other")
		if err != nil {
			t.Fatalf("roster other: %v", err)
		}
		if len(other) != 0 {
			t.Fatalf("rooms leaked into each other: %+v", other)
		}
	})

	t.Run("RemoveDropsEmptyRoom", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		if _, err := s.AddParticipant(ctx, "doc", participant("c1", "u1", now)); err != nil {
			t.Fatalf("add: %v", err)
		}

		removed, remaining, err := s.RemoveParticipant(ctx, "doc", "missing")
		if err != nil {
			t.Fatalf("remove missing: %v", err)
		}
		if removed || len(remaining) != 1 {
			t.Fatalf("unexpected result for unknown conn: removed=%v remaining=%+v", removed, remaining)
		}

		removed, remaining, err = s.RemoveParticipant(ctx, "doc", "c1")
		if err != nil {
			t.Fatalf("remove: %v", err)
		}
		if !removed || len(remaining) != 0 {
			t.Fatalf("expected empty room, removed=%v remaining=%+v", removed, remaining)
		}

		removed, _, err = s.RemoveParticipant(ctx, "doc", "c1")
		if err != nil {
			t.Fatalf("second remove: %v", err)
		}
		if removed {
			t.Fatalf("second remove should find nothing")
		}
	})

	t.Run("UpdateCursor", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.UpdateCursor(ctx, "doc", "c1", store.Cursor{X: 1, Y: 2}); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for absent conn, got %v", err)
		}

		if _, err := s.AddParticipant(ctx, "doc", participant("c1", "u1", time.Now().UTC())); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := s.UpdateCursor(ctx, "doc", "c1", store.Cursor{X: 10, Y: 20}); err != nil {
			t.Fatalf("update cursor: %v", err)
		}

		roster, err := s.Roster(ctx, "doc")
		if err != nil {
			t.Fatalf("roster: %v", err)
		}
		if len(roster) != 1 || roster[0].Cursor == nil || roster[0].Cursor.X != 10 || roster[0].Cursor.Y != 20 {
			t.Fatalf("cursor not stored: %+v", roster)
		}
	})
}

func participant(connID, userID string, joined time.Time) store.Participant {
	return store.Participant{
		ConnID:   connID,
		UserID:   userID,
		Username: "name-" + userID,
		JoinedAt: joined,
	}
}
