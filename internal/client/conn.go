// Package client is the collaborating side of the mindsync protocol: one
// websocket connection, document membership, publishing and a local replica.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/proto"
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	// StatusUnavailable is terminal: reconnection gave up.
	StatusUnavailable
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusUnavailable:
		return "unavailable"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StatusChange is delivered to OnStatus listeners.
type StatusChange struct {
	Status Status
	Err    error
}

// Identity is the user the server resolved during the handshake.
type Identity struct {
	UserID   string
	Username string
	Avatar   string
}

// Conn is a single authenticated websocket connection with bounded automatic
// reconnection. Reconnecting never re-joins documents.
type Conn struct {
	opts  Options
	log   zerolog.Logger
	clock clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ws       *websocket.Conn
	status   Status
	identity Identity
	closed   bool
	handlers map[string]*listeners[proto.Frame]

	statusListeners    listeners[StatusChange]
	reconnectListeners listeners[Identity]
}

// New creates an unconnected Conn.
func New(opts Options) *Conn {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		opts:     opts,
		log:      opts.Logger.With().Str("component", "client").Logger(),
		clock:    opts.Clock,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]*listeners[proto.Frame]),
	}
}

// Dial creates a Conn and connects it.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	c := New(opts)
	if err := c.Connect(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Connect dials the server and returns once the server confirmed the
// identity. It fails with ErrConnectionTimeout when no confirmation arrives
// within AuthTimeout.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting, nil)
	ws, identity, err := c.handshake(ctx)
	if err != nil {
		c.setStatus(StatusDisconnected, err)
		return err
	}
	if !c.install(ws, identity) {
		ws.Close(websocket.StatusNormalClosure, "closed")
		return ErrClosed
	}
	c.log.Info().Str("user_id", identity.UserID).Msg("connected")
	return nil
}

func (c *Conn) handshake(ctx context.Context) (*websocket.Conn, Identity, error) {
	u, err := c.opts.dialURL()
	if err != nil {
		return nil, Identity{}, err
	}

	hctx, cancel := context.WithTimeout(ctx, c.opts.AuthTimeout)
	defer cancel()

	timedOut := func() bool { return hctx.Err() != nil && ctx.Err() == nil }

	ws, _, err := websocket.Dial(hctx, u, &websocket.DialOptions{HTTPHeader: c.opts.HTTPHeader})
	if err != nil {
		if timedOut() {
			return nil, Identity{}, ErrConnectionTimeout
		}
		return nil, Identity{}, fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	ws.SetReadLimit(c.opts.MaxMessageBytes)

	var frame proto.Frame
	if err := wsjson.Read(hctx, ws, &frame); err != nil {
		ws.CloseNow()
		if timedOut() {
			return nil, Identity{}, ErrConnectionTimeout
		}
		return nil, Identity{}, fmt.Errorf("%w: read handshake: %w", ErrTransport, err)
	}

	if frame.Type == proto.OutboundTypeError {
		ws.CloseNow()
		rej := &RejectedError{Code: "unknown", Reason: "rejected"}
		if frame.Error != nil {
			rej.Code, rej.Reason = frame.Error.Code, frame.Error.Msg
		}
		return nil, Identity{}, rej
	}
	if frame.Event != proto.EventAuthenticated {
		ws.CloseNow()
		return nil, Identity{}, fmt.Errorf("%w: expected %s, got %q", ErrTransport, proto.EventAuthenticated, frame.Event)
	}

	var auth proto.Authenticated
	if err := json.Unmarshal(frame.Data, &auth); err != nil {
		ws.CloseNow()
		return nil, Identity{}, fmt.Errorf("%w: decode handshake: %w", ErrTransport, err)
	}
	return ws, Identity{UserID: auth.UserID, Username: auth.Username, Avatar: auth.Avatar}, nil
}

// install makes ws the live transport and starts its reader. It reports
// false when the Conn was closed meanwhile.
func (c *Conn) install(ws *websocket.Conn, identity Identity) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.ws = ws
	c.identity = identity
	c.mu.Unlock()

	c.setStatus(StatusConnected, nil)
	go c.readLoop(ws)
	return true
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var frame proto.Frame
		if err := wsjson.Read(c.ctx, ws, &frame); err != nil {
			c.dropped(ws, err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame proto.Frame) {
	name := frame.Event
	if name == "" && frame.Type == proto.OutboundTypeError {
		name = proto.EventRoomError
	}

	c.mu.Lock()
	l := c.handlers[name]
	c.mu.Unlock()

	if l == nil {
		c.log.Debug().Str("event", name).Msg("unhandled event")
		return
	}
	l.emit(frame)
}

func (c *Conn) dropped(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.mu.Unlock()

	ws.CloseNow()
	c.log.Warn().Err(err).Msg("connection lost")

	if c.opts.MaxReconnectAttempts < 0 {
		c.setStatus(StatusUnavailable, ErrCollaborationUnavailable)
		return
	}
	c.setStatus(StatusReconnecting, fmt.Errorf("%w: %w", ErrTransport, err))
	go c.reconnect()
}

// reconnect retries the handshake with exponential backoff. Exhausting the
// attempts leaves the connection in StatusUnavailable.
func (c *Conn) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialReconnectDelay
	b.MaxInterval = c.opts.MaxReconnectDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxReconnectAttempts)), c.ctx)
	policy.Reset()

	for attempt := 1; ; attempt++ {
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-c.ctx.Done():
			return
		case <-c.clock.After(delay):
		}

		ws, identity, err := c.handshake(c.ctx)
		if err == nil {
			if !c.install(ws, identity) {
				ws.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			c.log.Info().Int("attempt", attempt).Msg("reconnected")
			c.reconnectListeners.emit(identity)
			return
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
		if errors.Is(err, ErrHandshakeRejected) {
			break
		}
	}

	if c.ctx.Err() != nil {
		return
	}
	c.log.Error().Msg("collaboration unavailable")
	c.setStatus(StatusUnavailable, ErrCollaborationUnavailable)
}

func (c *Conn) setStatus(s Status, err error) {
	c.mu.Lock()
	if c.status == s && err == nil {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	c.statusListeners.emit(StatusChange{Status: s, Err: err})
}

// Send writes one inbound envelope. It fails with ErrNotConnected while no
// transport is live.
func (c *Conn) Send(ctx context.Context, typ string, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, ws, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrTransport, typ, err)
	}
	return nil
}

// On registers handler for a server event name and returns a function that
// removes it. Handlers run on the reader goroutine in arrival order.
func (c *Conn) On(event string, handler func(proto.Frame)) (off func()) {
	c.mu.Lock()
	l := c.handlers[event]
	if l == nil {
		l = &listeners[proto.Frame]{}
		c.handlers[event] = l
	}
	c.mu.Unlock()
	return l.add(handler)
}

// OnStatus registers a lifecycle listener.
func (c *Conn) OnStatus(fn func(StatusChange)) (off func()) {
	return c.statusListeners.add(fn)
}

// OnReconnect registers a listener called after a successful automatic
// reconnection. Documents must be joined again explicitly.
func (c *Conn) OnReconnect(fn func(Identity)) (off func()) {
	return c.reconnectListeners.add(fn)
}

// Status returns the current lifecycle state.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Healthy reports whether a confirmed transport is live.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil && c.status == StatusConnected
}

// Identity returns the identity confirmed by the last handshake.
func (c *Conn) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Close tears the transport down, stops reconnection and removes every
// listener. Status listeners see StatusClosed before they are removed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
	}
	c.cancel()

	c.setStatus(StatusClosed, nil)

	c.mu.Lock()
	c.handlers = make(map[string]*listeners[proto.Frame])
	c.mu.Unlock()
	c.statusListeners.clear()
	c.reconnectListeners.clear()
	return nil
}
