package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/auth"
	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/proto"
	"github.com/vovakirdan/mindsync/internal/store"
	"github.com/vovakirdan/mindsync/internal/store/sqlite"
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

func testConfig() config.Config {
	return config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MaxMessageBytes:   1 << 20,
	}
}

// startServer runs a hub and an httptest server for the duration of the test.
func startServer(t *testing.T, cfg config.Config, authService *auth.Service) (*httptest.Server, core.Hub) {
	t.Helper()

	hub := core.NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	disabledLogger := zerolog.New(nil)
	server := NewServer(hub, authService, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts, hub
}

func wsURL(ts *httptest.Server, params url.Values) string {
	u := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func dial(ctx context.Context, t *testing.T, u string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// dialGuest opens a guest connection and waits for the handshake.
func dialGuest(ctx context.Context, t *testing.T, ts *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	conn := dial(ctx, t, wsURL(ts, url.Values{"user": {user}}))
	readEvent(ctx, t, conn, proto.EventAuthenticated)
	return conn
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readEvent reads frames until one with the given event name arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) proto.Frame {
	t.Helper()

	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}

// readFrame reads exactly one frame.
func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) proto.Frame {
	t.Helper()

	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func decode[T any](t *testing.T, frame proto.Frame) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(frame.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", frame.Event, err)
	}
	return v
}
