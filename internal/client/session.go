package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/mindmap"
	"github.com/vovakirdan/mindsync/internal/proto"
)

// sendTimeout bounds fire-and-forget presence sends.
const sendTimeout = 2 * time.Second

type joinResult struct {
	roster []mindmap.Participant
	err    error
}

type pendingJoin struct {
	documentID string
	done       chan joinResult
}

// Session tracks membership in at most one document over a Conn and
// publishes into it.
type Session struct {
	conn  *Conn
	opts  Options
	log   zerolog.Logger
	clock clock.Clock

	mu         sync.Mutex
	documentID string
	joined     bool
	pending    *pendingJoin
	presence   mindmap.Presence

	changes  listeners[mindmap.Envelope]
	presents listeners[mindmap.Presence]
	errs     listeners[error]
	offs     []func()
}

// NewSession binds a session to conn. Listeners are removed by Close or when
// conn is closed.
func NewSession(conn *Conn) *Session {
	s := &Session{
		conn:  conn,
		opts:  conn.opts,
		log:   conn.log.With().Str("component", "session").Logger(),
		clock: conn.clock,
	}
	s.offs = []func(){
		conn.On(proto.EventJoinRoomAck, s.onAck),
		conn.On(proto.EventParticipantJoined, s.onJoined),
		conn.On(proto.EventParticipantLeft, s.onLeft),
		conn.On(proto.EventCursorUpdate, s.onCursor),
		conn.On(proto.EventSelectionBroadcast, s.onSelection),
		conn.On(proto.EventChangeBroadcast, s.onChange),
		conn.On(proto.EventRoomError, s.onError),
		conn.OnStatus(s.onStatus),
	}
	return s
}

// Join makes documentID the joined document and returns its roster. Joining
// the document already joined returns the cached roster without traffic; a
// different document is left first.
//
// Without an acknowledgement within JoinGrace on a healthy connection the
// join is assumed to have succeeded and a nil roster is returned; a late
// acknowledgement still updates presence. ErrJoinTimeout is returned after
// JoinTimeout otherwise. A join replaced by a newer Join or cancelled by
// Leave before it settles fails with ErrJoinSuperseded.
func (s *Session) Join(ctx context.Context, documentID string) ([]mindmap.Participant, error) {
	if documentID == "" {
		return nil, errors.New("document id is required")
	}

	s.mu.Lock()
	if s.joined && s.documentID == documentID {
		roster := s.presence.Participants
		s.mu.Unlock()
		return roster, nil
	}
	// A join still waiting for its ack already put the connection in that
	// room on the server.
	prev := ""
	switch {
	case s.joined:
		prev = s.documentID
	case s.pending != nil && s.pending.documentID != documentID:
		prev = s.pending.documentID
	}
	s.mu.Unlock()

	if !s.conn.Healthy() {
		return nil, ErrNotConnected
	}
	if prev != "" {
		if err := s.Leave(ctx, prev); err != nil {
			return nil, fmt.Errorf("leave %s: %w", prev, err)
		}
	}

	p := &pendingJoin{documentID: documentID, done: make(chan joinResult, 1)}
	s.mu.Lock()
	if s.pending != nil {
		s.resolveLocked(joinResult{err: ErrJoinSuperseded})
	}
	s.pending = p
	s.mu.Unlock()

	if err := s.conn.Send(ctx, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: documentID}); err != nil {
		s.clearPending(p)
		return nil, err
	}

	grace := s.clock.Timer(s.opts.JoinGrace)
	defer grace.Stop()
	hard := s.clock.Timer(s.opts.JoinTimeout)
	defer hard.Stop()

	for {
		select {
		case res := <-p.done:
			return res.roster, res.err
		case <-grace.C:
			if !s.conn.Healthy() {
				continue
			}
			s.mu.Lock()
			if s.pending != p {
				s.mu.Unlock()
				// Resolved meanwhile by an ack, an error or a newer join.
				res := <-p.done
				return res.roster, res.err
			}
			s.pending = nil
			s.joined = true
			s.documentID = documentID
			s.presence = mindmap.Presence{}
			s.mu.Unlock()
			s.log.Debug().Str("document_id", documentID).Msg("join assumed after grace period")
			return nil, nil
		case <-hard.C:
			s.clearPending(p)
			return nil, ErrJoinTimeout
		case <-ctx.Done():
			s.clearPending(p)
			return nil, ctx.Err()
		}
	}
}

func (s *Session) clearPending(p *pendingJoin) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
	}
	s.mu.Unlock()
}

// resolveLocked hands res to the pending join and forgets it. The pending
// join is cleared and signalled under one lock so its waiter never sees a
// cleared join without a result.
func (s *Session) resolveLocked(res joinResult) {
	p := s.pending
	s.pending = nil
	p.done <- res
}

// Leave leaves documentID. A join of documentID still waiting for its ack
// fails with ErrJoinSuperseded. It returns ErrNotJoined when documentID is
// neither joined nor being joined.
func (s *Session) Leave(ctx context.Context, documentID string) error {
	s.mu.Lock()
	switch {
	case s.joined && s.documentID == documentID:
		s.resetLocked()
	case s.pending != nil && s.pending.documentID == documentID:
		s.resolveLocked(joinResult{err: ErrJoinSuperseded})
	default:
		s.mu.Unlock()
		return ErrNotJoined
	}
	s.mu.Unlock()

	return s.conn.Send(ctx, proto.InboundTypeLeaveRoom, proto.RoomData{DocumentID: documentID})
}

func (s *Session) resetLocked() {
	s.joined = false
	s.documentID = ""
	s.presence = mindmap.Presence{}
}

// Document returns the joined document id.
func (s *Session) Document() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID, s.joined
}

// Presence returns the remote presence of the joined document.
func (s *Session) Presence() mindmap.Presence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence
}

// PublishChange broadcasts a structural change batch to the joined
// document. Send failures are retried a bounded number of times.
func (s *Session) PublishChange(ctx context.Context, changeType mindmap.ChangeType, changes mindmap.Changes) error {
	documentID, ok := s.Document()
	if !ok {
		return ErrNotJoined
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	data := proto.ChangeData{
		DocumentID: documentID,
		ChangeType: string(changeType),
		Payload:    payload,
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.PublishRetryDelay), uint64(max(s.opts.PublishRetries, 0))),
		ctx,
	)
	err = backoff.RetryNotify(func() error {
		return s.conn.Send(ctx, proto.InboundTypeChangeBroadcast, data)
	}, policy, func(err error, next time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", next).Str("document_id", documentID).Msg("publish failed")
	})
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// PublishCursor shares the local pointer. It is a no-op when no document is
// joined and never reports send failures.
func (s *Session) PublishCursor(ctx context.Context, x, y float64) {
	documentID, ok := s.Document()
	if !ok {
		return
	}
	s.bestEffort(ctx, proto.InboundTypeCursorMove, proto.CursorMoveData{
		DocumentID: documentID,
		Cursor:     proto.Cursor{X: x, Y: y},
	})
}

// PublishSelection shares the local node selection, with the same delivery
// rules as PublishCursor.
func (s *Session) PublishSelection(ctx context.Context, nodeIDs []string) {
	documentID, ok := s.Document()
	if !ok {
		return
	}
	if nodeIDs == nil {
		nodeIDs = []string{}
	}
	s.bestEffort(ctx, proto.InboundTypeSelectionUpdate, proto.SelectionData{
		DocumentID: documentID,
		NodeIDs:    nodeIDs,
	})
}

func (s *Session) bestEffort(ctx context.Context, typ string, data any) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, typ, data); err != nil {
		s.log.Debug().Err(err).Str("type", typ).Msg("presence update dropped")
	}
}

// OnChange registers a listener for remote change batches of the joined
// document.
func (s *Session) OnChange(fn func(mindmap.Envelope)) (off func()) {
	return s.changes.add(fn)
}

// OnPresence registers a listener called with the presence after every
// roster, cursor or selection update.
func (s *Session) OnPresence(fn func(mindmap.Presence)) (off func()) {
	return s.presents.add(fn)
}

// OnError registers a listener for asynchronous server errors such as a
// rejected change.
func (s *Session) OnError(fn func(error)) (off func()) {
	return s.errs.add(fn)
}

// Close detaches the session from its connection and forgets membership.
func (s *Session) Close() {
	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	if s.pending != nil {
		s.resolveLocked(joinResult{err: ErrClosed})
	}
	s.resetLocked()
	s.mu.Unlock()

	for _, off := range offs {
		off()
	}
	s.changes.clear()
	s.presents.clear()
	s.errs.clear()
}

func (s *Session) onStatus(change StatusChange) {
	if change.Status == StatusConnected {
		return
	}
	// The server drops membership with the transport.
	s.mu.Lock()
	wasJoined := s.joined
	s.resetLocked()
	s.mu.Unlock()

	if wasJoined {
		s.presents.emit(mindmap.Presence{})
	}
	if change.Status == StatusClosed {
		s.Close()
	}
}

func (s *Session) onAck(f proto.Frame) {
	var ack proto.JoinRoomAck
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		s.log.Warn().Err(err).Msg("malformed join-room-ack")
		return
	}
	roster := participantsFromProto(ack.ActiveParticipants)

	s.mu.Lock()
	resolve := false
	switch {
	case s.pending != nil && s.pending.documentID == ack.DocumentID:
		resolve = true
	case s.joined && s.documentID == ack.DocumentID:
	default:
		expected := s.documentID
		if s.pending != nil {
			expected = s.pending.documentID
		}
		s.mu.Unlock()
		s.log.Debug().Str("document_id", ack.DocumentID).Str("expected", expected).Msg("roster correlation mismatch")
		return
	}
	s.joined = true
	s.documentID = ack.DocumentID
	s.presence = mindmap.SetRoster(s.presence, roster)
	presence := s.presence
	if resolve {
		s.resolveLocked(joinResult{roster: presence.Participants})
	}
	s.mu.Unlock()

	s.presents.emit(presence)
}

// update applies fn to the presence when the frame addresses the joined
// document.
func (s *Session) update(documentID string, fn func(mindmap.Presence) mindmap.Presence) {
	s.mu.Lock()
	if !s.joined || s.documentID != documentID {
		s.mu.Unlock()
		return
	}
	s.presence = fn(s.presence)
	presence := s.presence
	s.mu.Unlock()

	s.presents.emit(presence)
}

func (s *Session) onJoined(f proto.Frame) {
	var data proto.ParticipantJoined
	if err := json.Unmarshal(f.Data, &data); err != nil {
		s.log.Warn().Err(err).Msg("malformed participant-joined")
		return
	}
	s.update(data.DocumentID, func(p mindmap.Presence) mindmap.Presence {
		return mindmap.AddParticipant(p, mindmap.Participant{
			UserID:   data.UserID,
			Username: data.Username,
			Avatar:   data.Avatar,
		})
	})
}

func (s *Session) onLeft(f proto.Frame) {
	var data proto.ParticipantLeft
	if err := json.Unmarshal(f.Data, &data); err != nil {
		s.log.Warn().Err(err).Msg("malformed participant-left")
		return
	}
	s.update(data.DocumentID, func(p mindmap.Presence) mindmap.Presence {
		return mindmap.RemoveParticipant(p, data.UserID)
	})
}

func (s *Session) onCursor(f proto.Frame) {
	var data proto.CursorUpdate
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return
	}
	s.update(data.DocumentID, func(p mindmap.Presence) mindmap.Presence {
		return mindmap.UpdateCursor(p, data.UserID, data.Username, mindmap.Cursor{X: data.Cursor.X, Y: data.Cursor.Y})
	})
}

func (s *Session) onSelection(f proto.Frame) {
	var data proto.SelectionBroadcast
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return
	}
	s.update(data.DocumentID, func(p mindmap.Presence) mindmap.Presence {
		return mindmap.UpdateSelection(p, data.UserID, data.Username, data.NodeIDs)
	})
}

func (s *Session) onChange(f proto.Frame) {
	var data proto.ChangeBroadcast
	if err := json.Unmarshal(f.Data, &data); err != nil {
		s.log.Warn().Err(err).Msg("malformed change-broadcast")
		return
	}
	if current, ok := s.Document(); !ok || current != data.DocumentID {
		return
	}

	var changes mindmap.Changes
	if len(data.Payload) > 0 {
		if err := json.Unmarshal(data.Payload, &changes); err != nil {
			s.log.Warn().Err(err).Str("document_id", data.DocumentID).Msg("dropping undecodable change payload")
			return
		}
	}
	s.changes.emit(mindmap.Envelope{
		DocumentID:   data.DocumentID,
		OriginUserID: data.OriginUserID,
		ChangeType:   mindmap.ChangeType(data.ChangeType),
		Changes:      changes,
		Timestamp:    time.UnixMilli(data.Timestamp),
	})
}

func (s *Session) onError(f proto.Frame) {
	rerr := &RoomError{Code: "unknown", Reason: "unknown error"}
	var data proto.RoomError
	if err := json.Unmarshal(f.Data, &data); err == nil && data.Code != "" {
		rerr.DocumentID, rerr.Code, rerr.Reason = data.DocumentID, data.Code, data.Reason
	} else if f.Error != nil {
		rerr.Code, rerr.Reason = f.Error.Code, f.Error.Msg
	}

	s.mu.Lock()
	if s.pending != nil && s.pending.documentID == rerr.DocumentID {
		s.resolveLocked(joinResult{err: rerr})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.log.Debug().Str("code", rerr.Code).Str("reason", rerr.Reason).Msg("room error")
	s.errs.emit(rerr)
}

func participantsFromProto(in []proto.Participant) []mindmap.Participant {
	out := make([]mindmap.Participant, 0, len(in))
	for _, p := range in {
		part := mindmap.Participant{UserID: p.UserID, Username: p.Username, Avatar: p.Avatar}
		if p.Cursor != nil {
			part.Cursor = &mindmap.Cursor{X: p.Cursor.X, Y: p.Cursor.Y}
		}
		out = append(out, part)
	}
	return out
}
