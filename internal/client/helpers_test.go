package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/config"
	"github.com/vovakirdan/mindsync/internal/core"
	"github.com/vovakirdan/mindsync/internal/proto"
	transporthttp "github.com/vovakirdan/mindsync/internal/transport/http"
)

// startServer runs the real hub and websocket endpoint.
func startServer(t *testing.T) string {
	t.Helper()

	hub := core.NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	cfg := config.Config{
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MaxMessageBytes:   1 << 20,
	}
	logger := zerolog.Nop()
	server := transporthttp.NewServer(hub, nil, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

// fakeServer accepts websocket connections and hands each to handle together
// with its 1-based sequence number.
func fakeServer(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn, n int)) string {
	t.Helper()

	var count atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		handle(r.Context(), conn, int(count.Add(1)))
	}))
	t.Cleanup(ts.Close)
	return strings.Replace(ts.URL, "http", "ws", 1)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	return wsjson.Write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeEvent, Event: event, Data: data})
}

func authenticate(ctx context.Context, conn *websocket.Conn, userID string) error {
	return writeEvent(ctx, conn, proto.EventAuthenticated, proto.Authenticated{
		UserID:   userID,
		Username: userID,
		Protocol: proto.ProtocolVersion,
	})
}

func readInbound(ctx context.Context, conn *websocket.Conn) (proto.Inbound, error) {
	var in proto.Inbound
	err := wsjson.Read(ctx, conn, &in)
	return in, err
}

func roomID(in proto.Inbound) string {
	var data proto.RoomData
	_ = json.Unmarshal(in.Data, &data)
	return data.DocumentID
}

// waitClosed blocks until the peer goes away.
func waitClosed(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func testOptions(url, user string) Options {
	return Options{
		URL:                   url,
		User:                  user,
		AuthTimeout:           2 * time.Second,
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     50 * time.Millisecond,
		JoinGrace:             2 * time.Second,
		JoinTimeout:           3 * time.Second,
		PublishRetryDelay:     10 * time.Millisecond,
	}
}

func dialT(t *testing.T, opts Options) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
