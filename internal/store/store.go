package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is an identity known to the built-in identity provider.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Avatar       string
	IsGuest      bool
	CreatedAt    time.Time
}

// Cursor is a pointer position on the shared canvas.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is a connection's presence record inside a document room.
type Participant struct {
	ConnID   string    `json:"conn_id"`
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}

// UserStore handles identity persistence.
type UserStore interface {
	// CreateUser creates a registered user with a hashed password.
	CreateUser(ctx context.Context, username, passwordHash, avatar string) (*User, error)

	// CreateGuestUser creates a guest identity without credentials.
	CreateGuestUser(ctx context.Context, username string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// RosterStore holds the participant roster of every live document room.
// A room exists exactly while its roster is non-empty.
//
// Implementations must be safe for concurrent use. Sharing one backend between
// several server processes shares the roster records only; event fan-out is
// still local to the process that owns the connections.
type RosterStore interface {
	// AddParticipant inserts or replaces p (keyed by ConnID) and returns the
	// roster after the insert.
	AddParticipant(ctx context.Context, documentID string, p Participant) ([]Participant, error)

	// RemoveParticipant deletes the record of connID. It reports whether a
	// record was removed and returns the remaining roster. The room record is
	// discarded once the roster is empty.
	RemoveParticipant(ctx context.Context, documentID, connID string) (bool, []Participant, error)

	// UpdateCursor stores the latest cursor of connID. Returns ErrNotFound if
	// the connection is not in the room.
	UpdateCursor(ctx context.Context, documentID, connID string, cursor Cursor) error

	// Roster lists the participants of a room, oldest join first.
	Roster(ctx context.Context, documentID string) ([]Participant, error)

	// Close releases backend resources.
	Close() error
}

// Store aggregates the persistent stores.
type Store interface {
	UserStore

	// Close closes the underlying database connection.
	Close() error
}

// SortParticipants orders a roster by join time, then connection id.
func SortParticipants(ps []Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ConnID < ps[j].ConnID
	})
}
