package core

import "github.com/rs/zerolog"

// Room is the local fan-out set of a document room: the connections this
// process delivers events to.
type Room struct {
	DocumentID string
	clients    map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(documentID string) *Room {
	return &Room{
		DocumentID: documentID,
		clients:    make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to every client in the room except the given one.
func (r *Room) Broadcast(event *Event, except *Client, log *zerolog.Logger) {
	for client := range r.clients {
		if client == except {
			continue
		}
		deliver(client, event, log)
	}
}

// Len returns the number of local clients.
func (r *Room) Len() int {
	return len(r.clients)
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// deliver queues ev for c without blocking the hub.
func deliver(c *Client, ev *Event, log *zerolog.Logger) {
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer.
		log.Warn().
			Str("conn_id", c.ID).
			Str("document_id", ev.DocumentID).
			Int("event", int(ev.Kind)).
			Msg("event dropped for slow consumer")
	}
}
