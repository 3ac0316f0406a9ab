package core

import (
	"context"
	"fmt"
	"time"

	"github.com/vovakirdan/mindsync/internal/store"
)

// Registry maps document ids to rooms. Roster records live in the injected
// RosterStore; the local fan-out sets live here. Not safe for concurrent use:
// the hub goroutine owns it.
type Registry struct {
	store store.RosterStore
	rooms map[string]*Room
	now   func() time.Time
}

// NewRegistry creates a registry backed by st.
func NewRegistry(st store.RosterStore) *Registry {
	return &Registry{
		store: st,
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

// Room returns the local room of a document, if any local client is in it.
func (r *Registry) Room(documentID string) (*Room, bool) {
	room, ok := r.rooms[documentID]
	return room, ok
}

// Join records c in the document roster and adds it to the local fan-out
// set. It returns the roster after the insert.
func (r *Registry) Join(ctx context.Context, documentID string, c *Client) ([]store.Participant, *Room, error) {
	roster, err := r.store.AddParticipant(ctx, documentID, store.Participant{
		ConnID:   c.ID,
		UserID:   c.Identity.UserID,
		Username: c.Identity.Username,
		Avatar:   c.Identity.Avatar,
		JoinedAt: r.now().UTC(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("add participant: %w", err)
	}

	room, ok := r.rooms[documentID]
	if !ok {
		room = NewRoom(documentID)
		r.rooms[documentID] = room
	}
	room.AddClient(c)
	return roster, room, nil
}

// Leave removes c from the document. The local room is discarded once empty.
// The remaining roster is returned even when the store call fails so callers
// can still notify local members.
func (r *Registry) Leave(ctx context.Context, documentID string, c *Client) ([]store.Participant, *Room, error) {
	room, ok := r.rooms[documentID]
	if ok {
		room.RemoveClient(c)
		if room.Empty() {
			delete(r.rooms, documentID)
		}
	}

	_, remaining, err := r.store.RemoveParticipant(ctx, documentID, c.ID)
	if err != nil {
		return nil, room, fmt.Errorf("remove participant: %w", err)
	}
	return remaining, room, nil
}

// Roster lists the participants of a document room.
func (r *Registry) Roster(ctx context.Context, documentID string) ([]store.Participant, error) {
	return r.store.Roster(ctx, documentID)
}

// MoveCursor stores the latest cursor of c.
func (r *Registry) MoveCursor(ctx context.Context, documentID string, c *Client, cursor Cursor) error {
	return r.store.UpdateCursor(ctx, documentID, c.ID, store.Cursor{X: cursor.X, Y: cursor.Y})
}

// hasUser reports whether any roster entry belongs to userID.
func hasUser(roster []store.Participant, userID string) bool {
	for _, p := range roster {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// countUser counts the roster entries of userID.
func countUser(roster []store.Participant, userID string) int {
	n := 0
	for _, p := range roster {
		if p.UserID == userID {
			n++
		}
	}
	return n
}
