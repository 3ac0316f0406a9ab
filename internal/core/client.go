package core

// Identity is who a connection acts as. Resolved once at handshake time.
type Identity struct {
	UserID   string
	Username string
	Avatar   string
	IsGuest  bool
}

// Client is a live connection as seen by the core layer.
type Client struct {
	ID       string
	Identity Identity
	Commands chan *Command
	Events   chan *Event

	// Owned by the hub goroutine.
	rooms map[string]struct{}
	done  chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, identity Identity) *Client {
	if identity.Username == "" {
		identity.Username = identity.UserID
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Commands: make(chan *Command, 16),
		Events:   make(chan *Event, 64),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has released the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
