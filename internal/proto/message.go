package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	// Client to server message types.
	InboundTypeJoinRoom        = "join-room"
	InboundTypeLeaveRoom       = "leave-room"
	InboundTypeChangeBroadcast = "change-broadcast"
	InboundTypeCursorMove      = "cursor-move"
	InboundTypeSelectionUpdate = "selection-update"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	// Server to client event names.
	EventAuthenticated      = "authenticated"
	EventJoinRoomAck        = "join-room-ack"
	EventParticipantJoined  = "participant-joined"
	EventParticipantLeft    = "participant-left"
	EventChangeBroadcast    = "change-broadcast"
	EventCursorUpdate       = "cursor-update"
	EventSelectionBroadcast = "selection-broadcast"
	EventRoomError          = "room-error"
)

// RoomData addresses a document room. Used by join-room and leave-room.
type RoomData struct {
	DocumentID string `json:"documentId"`
}

// ChangeData is a structural change batch published by a client. Payload is
// relayed untouched.
type ChangeData struct {
	DocumentID string          `json:"documentId"`
	ChangeType string          `json:"changeType"`
	Payload    json.RawMessage `json:"payload"`
}

// Cursor is a pointer position on the canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CursorMoveData reports the sender's pointer.
type CursorMoveData struct {
	DocumentID string `json:"documentId"`
	Cursor     Cursor `json:"cursor"`
}

// SelectionData reports the sender's selected nodes.
type SelectionData struct {
	DocumentID string   `json:"documentId"`
	NodeIDs    []string `json:"nodeIds"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Frame is Outbound as seen by a reader, with the payload left raw.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Authenticated confirms the handshake and echoes the resolved identity.
type Authenticated struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Protocol int    `json:"protocol"`
}

// Participant is one user in a room roster.
type Participant struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Avatar   string  `json:"avatar,omitempty"`
	Cursor   *Cursor `json:"cursor,omitempty"`
}

// JoinRoomAck answers join-room with the full roster.
type JoinRoomAck struct {
	DocumentID         string        `json:"documentId"`
	ActiveParticipants []Participant `json:"activeParticipants"`
}

// ParticipantJoined notifies room members about a new user.
type ParticipantJoined struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Avatar     string `json:"avatar,omitempty"`
}

// ParticipantLeft notifies room members that a user is gone.
type ParticipantLeft struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
}

// ChangeBroadcast is a relayed change batch stamped with its origin.
type ChangeBroadcast struct {
	DocumentID   string          `json:"documentId"`
	OriginUserID string          `json:"originUserId"`
	ChangeType   string          `json:"changeType"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    int64           `json:"timestamp"`
}

// CursorUpdate relays another user's pointer.
type CursorUpdate struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Cursor     Cursor `json:"cursor"`
}

// SelectionBroadcast relays another user's selection.
type SelectionBroadcast struct {
	DocumentID string   `json:"documentId"`
	UserID     string   `json:"userId"`
	Username   string   `json:"username"`
	NodeIDs    []string `json:"nodeIds"`
}

// RoomError is the data part of a room-error frame.
type RoomError struct {
	DocumentID string `json:"documentId,omitempty"`
	Code       string `json:"code"`
	Reason     string `json:"reason"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
