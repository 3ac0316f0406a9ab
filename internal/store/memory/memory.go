// Package memory keeps document rosters in process memory.
package memory

import (
	"context"
	"maps"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/vovakirdan/mindsync/internal/store"
)

// RosterStore implements store.RosterStore on a concurrent map. Each room
// value is replaced copy-on-write so readers never observe a partial update.
type RosterStore struct {
	rooms *xsync.MapOf[string, map[string]store.Participant]
}

// New creates an empty in-memory roster store.
func New() *RosterStore {
	return &RosterStore{rooms: xsync.NewMapOf[string, map[string]store.Participant]()}
}

// AddParticipant inserts or replaces p in the room roster.
func (s *RosterStore) AddParticipant(_ context.Context, documentID string, p store.Participant) ([]store.Participant, error) {
	room, _ := s.rooms.Compute(documentID, func(old map[string]store.Participant, _ bool) (map[string]store.Participant, bool) {
		next := maps.Clone(old)
		if next == nil {
			next = make(map[string]store.Participant, 1)
		}
		next[p.ConnID] = p
		return next, false
	})
	return snapshot(room), nil
}

// RemoveParticipant deletes connID from the room and drops empty rooms.
func (s *RosterStore) RemoveParticipant(_ context.Context, documentID, connID string) (bool, []store.Participant, error) {
	removed, emptied := false, false
	room, _ := s.rooms.Compute(documentID, func(old map[string]store.Participant, loaded bool) (map[string]store.Participant, bool) {
		if !loaded {
			emptied = true
			return old, true
		}
		if _, ok := old[connID]; !ok {
			return old, false
		}
		removed = true
		next := maps.Clone(old)
		delete(next, connID)
		emptied = len(next) == 0
		return next, emptied
	})
	// Compute hands back the previous value when the entry is deleted.
	if emptied {
		return removed, []store.Participant{}, nil
	}
	return removed, snapshot(room), nil
}

// UpdateCursor stores the latest cursor position of connID.
func (s *RosterStore) UpdateCursor(_ context.Context, documentID, connID string, cursor store.Cursor) error {
	found := false
	s.rooms.Compute(documentID, func(old map[string]store.Participant, loaded bool) (map[string]store.Participant, bool) {
		if !loaded {
			return old, true
		}
		p, ok := old[connID]
		if !ok {
			return old, false
		}
		found = true
		c := cursor
		p.Cursor = &c
		next := maps.Clone(old)
		next[connID] = p
		return next, false
	})
	if !found {
		return store.ErrNotFound
	}
	return nil
}

// Roster lists the participants of a room.
func (s *RosterStore) Roster(_ context.Context, documentID string) ([]store.Participant, error) {
	room, _ := s.rooms.Load(documentID)
	return snapshot(room), nil
}

// Rooms returns the number of live rooms.
func (s *RosterStore) Rooms() int {
	return s.rooms.Size()
}

// Close is a no-op.
func (s *RosterStore) Close() error {
	return nil
}

func snapshot(room map[string]store.Participant) []store.Participant {
	out := make([]store.Participant, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	store.SortParticipants(out)
	return out
}
