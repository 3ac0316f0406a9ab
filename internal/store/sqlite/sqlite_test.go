package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/vovakirdan/mindsync/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLookupUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "alice", "hash", "https://example.com/a.png")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if u.ID == "" || u.IsGuest {
		t.Fatalf("unexpected user: %+v", u)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if byName.ID != u.ID || byName.Avatar != "https://example.com/a.png" {
		t.Fatalf("lookup mismatch: %+v vs %+v", byName, u)
	}

	if _, err := s.CreateUser(ctx, "alice", "hash", ""); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestGuestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		prefix   string
	}{
		{name: "named guest", username: "visitor", prefix: "visitor"},
		{name: "generated name", username: "", prefix: "guest_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := s.CreateGuestUser(ctx, tt.username)
			if err != nil {
				t.Fatalf("CreateGuestUser failed: %v", err)
			}
			if !u.IsGuest || !strings.HasPrefix(u.Username, tt.prefix) {
				t.Fatalf("unexpected guest: %+v", u)
			}

			// Guests cannot be found for password login.
			if _, err := s.GetUserByUsername(ctx, u.Username); !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for guest lookup, got %v", err)
			}
			if _, err := s.GetUserByID(ctx, u.ID); err != nil {
				t.Fatalf("GetUserByID failed: %v", err)
			}
		})
	}
}

func TestNewWithSetupSeeds(t *testing.T) {
	s, err := NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO users (id, username, password_hash) VALUES ('u-1', 'seeded', 'x')`)
		return err
	})
	if err != nil {
		t.Fatalf("NewWithSetup failed: %v", err)
	}
	defer s.Close()

	u, err := s.GetUserByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("seeded user missing: %v", err)
	}
	if u.Username != "seeded" {
		t.Fatalf("unexpected username %q", u.Username)
	}

	if _, err := s.GetUserByID(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
