package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a document room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a document room.
	CommandLeaveRoom
	// CommandBroadcastChange relays a structural change batch.
	CommandBroadcastChange
	// CommandMoveCursor relays and records the client's pointer.
	CommandMoveCursor
	// CommandUpdateSelection relays the client's selected nodes.
	CommandUpdateSelection
)

// Command represents an action requested by a client.
type Command struct {
	Kind       CommandKind
	DocumentID string

	// CommandBroadcastChange
	ChangeType string
	Payload    json.RawMessage

	// CommandMoveCursor
	Cursor Cursor

	// CommandUpdateSelection
	NodeIDs []string
}

// Cursor is a pointer position on the canvas.
type Cursor struct {
	X float64
	Y float64
}
