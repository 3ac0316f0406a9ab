package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/mindmap"
	"github.com/vovakirdan/mindsync/internal/store"
	"github.com/vovakirdan/mindsync/internal/store/memory"
)

// Hub coordinates connections and document rooms.
type Hub interface {
	// Run processes commands until ctx is cancelled.
	Run(ctx context.Context)
	// RegisterClient admits an authenticated connection.
	RegisterClient(c *Client)
	// UnregisterClient releases a connection and leaves all of its rooms.
	UnregisterClient(c *Client)
	// Roster lists the participants of a document room.
	Roster(ctx context.Context, documentID string) ([]store.Participant, error)
}

const storeTimeout = 2 * time.Second

type inbound struct {
	client *Client
	cmd    *Command
}

type hub struct {
	registry *Registry
	roster   store.RosterStore
	log      *zerolog.Logger

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbox      chan inbound
	done       chan struct{}
}

// NewHub creates a hub. A nil roster store keeps rosters in memory; a nil
// logger discards logs.
func NewHub(roster store.RosterStore, logger *zerolog.Logger) Hub {
	if roster == nil {
		roster = memory.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &hub{
		registry:   NewRegistry(roster),
		roster:     roster,
		log:        logger,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbox:      make(chan inbound, 256),
		done:       make(chan struct{}),
	}
}

func (h *hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.done)
		close(c.Events)
	}
}

func (h *hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) Roster(ctx context.Context, documentID string) ([]store.Participant, error) {
	return h.roster.Roster(ctx, documentID)
}

func (h *hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(ctx, c)
		case in := <-h.inbox:
			if _, ok := h.clients[in.client]; !ok {
				// Late command from a released connection.
				continue
			}
			h.handleCommand(ctx, in.client, in.cmd)
		case <-ctx.Done():
			return
		}
	}
}

// pump forwards a client's commands into the hub inbox in order.
func (h *hub) pump(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- inbound{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.done:
				return
			}
		case <-c.done:
			return
		case <-h.done:
			return
		}
	}
}

func (h *hub) handleRegister(c *Client) {
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = struct{}{}
	go h.pump(c)

	h.log.Debug().
		Str("conn_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Msg("client registered")
	deliver(c, &Event{Kind: EventAuthenticated, User: c.Identity}, h.log)
}

func (h *hub) handleUnregister(ctx context.Context, c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	for documentID := range c.rooms {
		h.leave(ctx, c, documentID)
	}
	delete(h.clients, c)
	close(c.done)
	close(c.Events)

	h.log.Debug().Str("conn_id", c.ID).Msg("client unregistered")
}

// shutdown drops every roster record this process owns and releases clients.
func (h *hub) shutdown() {
	close(h.done)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	for c := range h.clients {
		for documentID := range c.rooms {
			if _, _, err := h.roster.RemoveParticipant(ctx, documentID, c.ID); err != nil {
				h.log.Warn().Err(err).Str("conn_id", c.ID).Str("document_id", documentID).Msg("drop roster record")
			}
		}
		delete(h.clients, c)
		close(c.done)
		close(c.Events)
	}
}

func (h *hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	if cmd.DocumentID == "" {
		h.sendError(c, "", coreError(ErrCodeBadRequest, "documentId is required"))
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		h.join(ctx, c, cmd.DocumentID)
	case CommandLeaveRoom:
		if _, ok := c.rooms[cmd.DocumentID]; !ok {
			if _, exists := h.registry.Room(cmd.DocumentID); exists {
				h.sendError(c, cmd.DocumentID, coreError(ErrCodeNotInRoom, ErrNotInRoom.Error()))
			} else {
				h.sendError(c, cmd.DocumentID, coreError(ErrCodeRoomNotFound, ErrRoomNotFound.Error()))
			}
			return
		}
		h.leave(ctx, c, cmd.DocumentID)
	case CommandBroadcastChange:
		h.broadcastChange(c, cmd)
	case CommandMoveCursor:
		h.moveCursor(ctx, c, cmd)
	case CommandUpdateSelection:
		h.updateSelection(c, cmd)
	default:
		h.sendError(c, cmd.DocumentID, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *hub) join(ctx context.Context, c *Client, documentID string) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if _, ok := c.rooms[documentID]; ok {
		// Repeated join: answer with the current roster, notify nobody.
		roster, err := h.registry.Roster(sctx, documentID)
		if err != nil {
			h.log.Error().Err(err).Str("document_id", documentID).Msg("load roster")
			h.sendError(c, documentID, coreError(ErrCodeInternal, "roster unavailable"))
			return
		}
		deliver(c, &Event{Kind: EventJoinAck, DocumentID: documentID, Participants: roster}, h.log)
		return
	}

	roster, room, err := h.registry.Join(sctx, documentID, c)
	if err != nil {
		h.log.Error().Err(err).Str("conn_id", c.ID).Str("document_id", documentID).Msg("join room")
		h.sendError(c, documentID, coreError(ErrCodeInternal, "join failed"))
		return
	}
	c.rooms[documentID] = struct{}{}

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Str("document_id", documentID).
		Int("participants", len(roster)).
		Int("local_connections", room.Len()).
		Msg("joined room")

	deliver(c, &Event{Kind: EventJoinAck, DocumentID: documentID, Participants: roster}, h.log)

	// A second tab of the same user is not a new participant.
	if countUser(roster, c.Identity.UserID) == 1 {
		room.Broadcast(&Event{Kind: EventParticipantJoined, DocumentID: documentID, User: c.Identity}, c, h.log)
	}
}

func (h *hub) leave(ctx context.Context, c *Client, documentID string) {
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	delete(c.rooms, documentID)
	remaining, room, err := h.registry.Leave(sctx, documentID, c)
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", c.ID).Str("document_id", documentID).Msg("leave room")
	}

	h.log.Info().
		Str("conn_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Str("document_id", documentID).
		Msg("left room")

	if room == nil || room.Empty() {
		return
	}
	if err == nil && hasUser(remaining, c.Identity.UserID) {
		return
	}
	room.Broadcast(&Event{Kind: EventParticipantLeft, DocumentID: documentID, User: c.Identity}, nil, h.log)
}

func (h *hub) broadcastChange(c *Client, cmd *Command) {
	if _, ok := c.rooms[cmd.DocumentID]; !ok {
		h.sendError(c, cmd.DocumentID, coreError(ErrCodeNotInRoom, "join the document before publishing changes"))
		return
	}
	if !mindmap.ChangeType(cmd.ChangeType).Valid() {
		h.sendError(c, cmd.DocumentID, coreError(ErrCodeBadRequest, "unknown changeType "+cmd.ChangeType))
		return
	}

	room, ok := h.registry.Room(cmd.DocumentID)
	if !ok {
		return
	}
	room.Broadcast(&Event{
		Kind:       EventChange,
		DocumentID: cmd.DocumentID,
		User:       c.Identity,
		ChangeType: cmd.ChangeType,
		Payload:    cmd.Payload,
		Timestamp:  time.Now(),
	}, c, h.log)
}

func (h *hub) moveCursor(ctx context.Context, c *Client, cmd *Command) {
	if _, ok := c.rooms[cmd.DocumentID]; !ok {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.registry.MoveCursor(sctx, cmd.DocumentID, c, cmd.Cursor); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Warn().Err(err).Str("conn_id", c.ID).Str("document_id", cmd.DocumentID).Msg("store cursor")
	}

	if room, ok := h.registry.Room(cmd.DocumentID); ok {
		room.Broadcast(&Event{Kind: EventCursor, DocumentID: cmd.DocumentID, User: c.Identity, Cursor: cmd.Cursor}, c, h.log)
	}
}

func (h *hub) updateSelection(c *Client, cmd *Command) {
	if _, ok := c.rooms[cmd.DocumentID]; !ok {
		return
	}
	if room, ok := h.registry.Room(cmd.DocumentID); ok {
		room.Broadcast(&Event{Kind: EventSelection, DocumentID: cmd.DocumentID, User: c.Identity, NodeIDs: cmd.NodeIDs}, c, h.log)
	}
}

func (h *hub) sendError(c *Client, documentID string, err *CoreError) {
	deliver(c, &Event{Kind: EventError, DocumentID: documentID, Error: err}, h.log)
}
