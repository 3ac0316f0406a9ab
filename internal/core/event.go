package core

import (
	"encoding/json"
	"time"

	"github.com/vovakirdan/mindsync/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventAuthenticated confirms the handshake to a newly registered client.
	EventAuthenticated EventKind = iota
	// EventJoinAck answers a join with the room roster.
	EventJoinAck
	// EventParticipantJoined notifies room members about a user joining.
	EventParticipantJoined
	// EventParticipantLeft notifies room members about a user leaving.
	EventParticipantLeft
	// EventChange relays a structural change batch.
	EventChange
	// EventCursor relays a pointer move.
	EventCursor
	// EventSelection relays a selection change.
	EventSelection
	// EventError notifies a single client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind       EventKind
	DocumentID string
	// User is the subject of the event: the joiner, the leaver, or the origin
	// of a relayed change.
	User Identity

	Participants []store.Participant // EventJoinAck

	ChangeType string          // EventChange
	Payload    json.RawMessage // EventChange
	Timestamp  time.Time       // EventChange

	Cursor  Cursor   // EventCursor
	NodeIDs []string // EventSelection

	Error *CoreError
}
