package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/vovakirdan/mindsync/internal/proto"
)

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestRegisterLoginAndGuest(t *testing.T) {
	testStore := createTestStore(t)
	authService := createTestAuthService(t, testStore, "test-secret")
	ts, _ := startServer(t, testConfig(), authService)
	handler := ts.Config.Handler

	resp := postJSON(t, handler, "/api/register", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = postJSON(t, handler, "/api/register", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.Code)
	}

	resp = postJSON(t, handler, "/api/register", `{"username":"al","password":"password123"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("short username: expected 400, got %d", resp.Code)
	}

	resp = postJSON(t, handler, "/api/login", `{"username":"alice","password":"nope-nope"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.Code)
	}

	resp = postJSON(t, handler, "/api/login", `{"username":"alice","password":"password123"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var login AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &login); err != nil || login.Token == "" {
		t.Fatalf("login response: %v %s", err, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/guest", nil)
	guest := httptest.NewRecorder()
	handler.ServeHTTP(guest, req)
	if guest.Code != http.StatusOK {
		t.Fatalf("guest: expected 200, got %d: %s", guest.Code, guest.Body.String())
	}
}

func TestParticipantsEndpoint(t *testing.T) {
	testStore := createTestStore(t)
	authService := createTestAuthService(t, testStore, "test-secret")
	ts, _ := startServer(t, testConfig(), authService)

	token, err := authService.Register(context.Background(), "testuser", "password123", "")
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}

	// Without a token the roster is not readable.
	req := httptest.NewRequest(http.MethodGet, "/api/documents/42/participants", nil)
	resp := httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(ctx, t, wsURL(ts, url.Values{"token": {token}}))
	readEvent(ctx, t, conn, proto.EventAuthenticated)
	send(ctx, t, conn, proto.InboundTypeJoinRoom, proto.RoomData{DocumentID: "42"})
	readEvent(ctx, t, conn, proto.EventJoinRoomAck)

	req = httptest.NewRequest(http.MethodGet, "/api/documents/42/participants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body ParticipantsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DocumentID != "42" || len(body.Participants) != 1 || body.Participants[0].Username != "testuser" {
		t.Fatalf("unexpected participants: %+v", body)
	}
}

func TestMeEndpoint(t *testing.T) {
	testStore := createTestStore(t)
	authService := createTestAuthService(t, testStore, "test-secret")
	ts, _ := startServer(t, testConfig(), authService)

	token, err := authService.Register(context.Background(), "carol", "password123", "https://example.com/c.png")
	if err != nil {
		t.Fatalf("failed to register user: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var me UserResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me.Username != "carol" || me.Avatar != "https://example.com/c.png" || me.IsGuest || me.ID == "" {
		t.Fatalf("unexpected profile: %+v", me)
	}
}
