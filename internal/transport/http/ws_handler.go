package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/proto"
)

const handshakeWriteTimeout = 5 * time.Second

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub       core.Hub
	validator TokenValidator
	cfg       *config.Config
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. validator may be nil, in which
// case only guest handshakes are possible.
func NewWSHandler(hub core.Hub, validator TokenValidator, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, validator: validator, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	identity, perr := h.handshake(r)
	if perr != nil {
		h.log.Debug().Str("code", perr.Code).Str("reason", perr.Msg).Msg("ws handshake rejected")
		wctx, cancel := context.WithTimeout(ctx, handshakeWriteTimeout)
		_ = wsjson.Write(wctx, conn, roomError("", perr))
		cancel()
		conn.Close(websocket.StatusPolicyViolation, perr.Code)
		return
	}

	client := core.NewClient(uuid.NewString(), identity)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	h.log.Info().
		Str("conn_id", client.ID).
		Str("user_id", identity.UserID).
		Bool("guest", identity.IsGuest).
		Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("conn_id", client.ID).Msg("ws disconnected")
	conn.Close(status, reason)
}

// handshake resolves the connection identity from the upgrade request.
// Tokens come from the Authorization header or the token query parameter;
// without a token a guest identity is built from the user parameter unless
// tokens are required.
func (h *WSHandler) handshake(r *stdhttp.Request) (core.Identity, *proto.Error) {
	query := r.URL.Query()

	if raw := query.Get("protocol"); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version != proto.ProtocolVersion {
			return core.Identity{}, &proto.Error{
				Code: core.ErrCodeUnsupportedVersion,
				Msg:  "server speaks protocol " + strconv.Itoa(proto.ProtocolVersion),
			}
		}
	}

	token := query.Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		if t, ok := bearerToken(header); ok {
			token = t
		}
	}

	if token != "" {
		if h.validator == nil {
			return core.Identity{}, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "token authentication is not configured"}
		}
		claims, err := h.validator.ValidateToken(token)
		if err != nil {
			return core.Identity{}, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "invalid token"}
		}
		return core.Identity{
			UserID:   claims.UserID,
			Username: claims.Username,
			Avatar:   claims.Avatar,
			IsGuest:  claims.IsGuest,
		}, nil
	}

	if h.cfg.JWTRequired {
		return core.Identity{}, &proto.Error{Code: core.ErrCodeUnauthorized, Msg: "token required"}
	}

	name := strings.TrimSpace(query.Get("user"))
	if name == "" {
		name = "guest_" + uuid.NewString()[:8]
	}
	return core.Identity{UserID: name, Username: name, IsGuest: true}, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("read ws inbound")
			}
			return err
		}

		if !limiter.allow() {
			if err := wsjson.Write(ctx, conn, roomError("", &proto.Error{
				Code: core.ErrCodeRateLimited,
				Msg:  "too many messages",
			})); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			if err := wsjson.Write(ctx, conn, roomError("", protoErr)); err != nil {
				return err
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
