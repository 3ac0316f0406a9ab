package http

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/mindsync/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startServer(t, testConfig(), nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketGuestHandshake(t *testing.T) {
	ts, _ := startServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(ctx, t, wsURL(ts, url.Values{"user": {"alice"}}))
	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventAuthenticated {
		t.Fatalf("expected authenticated first, got %+v", frame)
	}
	hello := decode[proto.Authenticated](t, frame)
	if hello.UserID != "alice" || hello.Protocol != proto.ProtocolVersion {
		t.Fatalf("unexpected identity: %+v", hello)
	}
}

// Two users join one document and see each other.
func TestWebSocketJoinAndRoster(t *testing.T) {
	ts, _ := startServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u1 := dialGuest(ctx, t, ts, "u1")
	u2 := dialGuest(ctx, t, ts, "u2")

	send(ctx, t, u1, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	ack := decode[proto.JoinRoomAck](t, readEvent(ctx, t, u1, proto.EventJoinRoomAck))
	if ack.DocumentID != "42" || len(ack.ActiveParticipants) != 1 {
		t.Fatalf("unexpected first ack: %+v", ack)
	}

	send(ctx, t, u2, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	ack = decode[proto.JoinRoomAck](t, readEvent(ctx, t, u2, proto.EventJoinRoomAck))
	if len(ack.ActiveParticipants) != 2 || ack.ActiveParticipants[0].UserID != "u1" || ack.ActiveParticipants[1].UserID != "u2" {
		t.Fatalf("unexpected second ack: %+v", ack)
	}

	joined := decode[proto.ParticipantJoined](t, readEvent(ctx, t, u1, proto.EventParticipantJoined))
	if joined.UserID != "u2" || joined.DocumentID != "42" {
		t.Fatalf("unexpected participant-joined: %+v", joined)
	}
}

func TestWebSocketChangeRelay(t *testing.T) {
	ts, _ := startServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u1 := dialGuest(ctx, t, ts, "u1")
	u2 := dialGuest(ctx, t, ts, "u2")
	send(ctx, t, u1, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	readEvent(ctx, t, u1, proto.EventJoinRoomAck)
	send(ctx, t, u2, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	readEvent(ctx, t, u2, proto.EventJoinRoomAck)
	readEvent(ctx, t, u1, proto.EventParticipantJoined)

	payload := json.RawMessage(`{"nodes":[{"id":"5","data":{"label":"Hello"}}]}`)
	send(ctx, t, u1, proto.InboundTypeChangeBroadcast, proto.ChangeData{
		DocumentID: "42",
		ChangeType: "nodes",
		Payload:    payload,
	})

	change := decode[proto.ChangeBroadcast](t, readEvent(ctx, t, u2, proto.EventChangeBroadcast))
	if change.OriginUserID != "u1" || change.ChangeType != "nodes" || change.Timestamp == 0 {
		t.Fatalf("unexpected change: %+v", change)
	}
	var got, want any
	_ = json.Unmarshal(change.Payload, &got)
	_ = json.Unmarshal(payload, &want)
	if gotJSON, _ := json.Marshal(got); string(gotJSON) != mustJSON(want) {
		t.Fatalf("payload altered in relay: %s", change.Payload)
	}

	// The sender sees the next thing addressed to it, not its own change.
	send(ctx, t, u2, proto.InboundTypeCursorMove, proto.CursorMoveData{DocumentID: "42", Cursor: proto.Cursor{X: 3, Y: 4}})
	frame := readFrame(ctx, t, u1)
	if frame.Event != proto.EventCursorUpdate {
		t.Fatalf("sender received %q before the cursor update", frame.Event)
	}
	cursor := decode[proto.CursorUpdate](t, frame)
	if cursor.UserID != "u2" || cursor.Cursor.X != 3 {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// A dropped connection is an implicit leave.
func TestWebSocketDisconnectNotifiesRoom(t *testing.T) {
	ts, hub := startServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u1 := dialGuest(ctx, t, ts, "u1")
	u2 := dialGuest(ctx, t, ts, "u2")
	send(ctx, t, u1, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	readEvent(ctx, t, u1, proto.EventJoinRoomAck)
	send(ctx, t, u2, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	readEvent(ctx, t, u2, proto.EventJoinRoomAck)

	u2.Close(websocket.StatusGoingAway, "tab closed")

	left := decode[proto.ParticipantLeft](t, readEvent(ctx, t, u1, proto.EventParticipantLeft))
	if left.UserID != "u2" || left.DocumentID != "42" {
		t.Fatalf("unexpected participant-left: %+v", left)
	}

	roster, err := hub.Roster(ctx, "42")
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "u1" {
		t.Fatalf("roster still lists departed user: %+v", roster)
	}
}

func TestWebSocketProtocolErrors(t *testing.T) {
	ts, _ := startServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialGuest(ctx, t, ts, "u1")

	tests := []struct {
		name string
		typ  string
		data any
		code string
	}{
		{name: "unknown type", typ: "shout", data: map[string]string{}, code: "bad_request"},
		{name: "join without document", typ: proto.InboundTypeJoinRoom, data: proto.RoomData{}, code: "bad_request"},
		{name: "change before join", typ: proto.InboundTypeChangeBroadcast, data: proto.ChangeData{DocumentID: "42", ChangeType: "nodes"}, code: "not_in_room"},
		{name: "leave unknown room", typ: proto.InboundTypeLeaveRoom, data: proto.RoomData{DocumentID: "nope"}, code: "room_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(ctx, t, conn, tt.typ, tt.data)
			frame := readEvent(ctx, t, conn, proto.EventRoomError)
			if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != tt.code {
				t.Fatalf("expected %s error, got %+v", tt.code, frame)
			}
			data := decode[proto.RoomError](t, frame)
			if data.Code != tt.code || data.Reason == "" {
				t.Fatalf("room-error data incomplete: %+v", data)
			}
		})
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 2
	ts, _ := startServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialGuest(ctx, t, ts, "u1")
	for i := 0; i < 3; i++ {
		send(ctx, t, conn, proto.InboundTypeSelectionUpdate, proto.SelectionData{DocumentID: "42"})
	}

	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Error == nil || frame.Error.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", frame)
	}
}

// The upgrade must go through the server handler untouched by the REST
// router and its middlewares, which stay mounted next to it.
func TestWebSocketUpgradeBesideRESTRoutes(t *testing.T) {
	authService := createTestAuthService(t, createTestStore(t), "test-secret")
	ts, _ := startServer(t, testConfig(), authService)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL(ts, url.Values{"user": {"alice"}}), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	if resp.StatusCode != 101 {
		t.Fatalf("expected 101 switching protocols, got %d", resp.StatusCode)
	}
	if frame := readFrame(ctx, t, conn); frame.Event != proto.EventAuthenticated {
		t.Fatalf("expected authenticated, got %+v", frame)
	}

	missing, err := ts.Client().Get(ts.URL + "/api/unknown")
	if err != nil {
		t.Fatalf("rest request: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != 404 {
		t.Fatalf("expected 404 from the router, got %d", missing.StatusCode)
	}
}
