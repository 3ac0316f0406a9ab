package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/debounce"
	"github.com/vovakirdan/mindsync/internal/mindmap"
)

// ChangePublisher sends structural change batches. *Session implements it.
type ChangePublisher interface {
	PublishChange(ctx context.Context, changeType mindmap.ChangeType, changes mindmap.Changes) error
}

// Editor runs one text edit session at a time on a replica node. Keystrokes
// update the replica at once and reach peers after DebounceDelay of idle
// time; Commit sends the final value immediately.
type Editor struct {
	replica   *Replica
	publisher ChangePublisher
	debouncer *debounce.Debouncer
	delay     time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	nodeID   string
	lastSent string

	// sendMu serializes timer sends with Commit.
	sendMu sync.Mutex
}

// NewEditor creates an editor. Delay, clock and logger come from opts.
func NewEditor(replica *Replica, publisher ChangePublisher, opts Options) *Editor {
	opts = opts.withDefaults()
	return &Editor{
		replica:   replica,
		publisher: publisher,
		debouncer: debounce.New(opts.Clock),
		delay:     opts.DebounceDelay,
		log:       opts.Logger.With().Str("component", "editor").Logger(),
	}
}

// Begin starts editing nodeID and locks it against remote overwrites. A
// session on another node is committed first.
func (e *Editor) Begin(ctx context.Context, nodeID string) error {
	e.mu.Lock()
	active := e.nodeID
	e.mu.Unlock()
	if active == nodeID {
		return nil
	}
	if active != "" {
		if err := e.Commit(ctx); err != nil {
			return err
		}
	}

	n, ok := e.replica.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	e.replica.Lock(nodeID)

	e.mu.Lock()
	e.nodeID = nodeID
	e.lastSent = n.Data.Label
	e.mu.Unlock()
	return nil
}

// Active returns the node being edited, or "".
func (e *Editor) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodeID
}

// Type sets the label of the edited node and schedules its broadcast.
func (e *Editor) Type(text string) error {
	e.mu.Lock()
	nodeID := e.nodeID
	e.mu.Unlock()
	if nodeID == "" {
		return ErrNotEditing
	}
	if !e.replica.SetLabel(nodeID, text) {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	e.debouncer.Start(e.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := e.send(ctx, nodeID); err != nil {
			e.log.Warn().Err(err).Str("node_id", nodeID).Msg("debounced publish failed")
		}
	})
	return nil
}

// Commit ends the session. A pending broadcast is cancelled and the final
// label is sent at once when it differs from the last one sent.
func (e *Editor) Commit(ctx context.Context) error {
	e.mu.Lock()
	nodeID := e.nodeID
	e.mu.Unlock()
	if nodeID == "" {
		return nil
	}

	e.debouncer.Cancel()
	err := e.send(ctx, nodeID)

	e.mu.Lock()
	e.nodeID = ""
	e.mu.Unlock()
	e.replica.Unlock()
	return err
}

// Cancel ends the session without a final broadcast. The local label is
// restored to the last value peers received.
func (e *Editor) Cancel() {
	e.mu.Lock()
	nodeID, lastSent := e.nodeID, e.lastSent
	e.nodeID = ""
	e.mu.Unlock()
	if nodeID == "" {
		return
	}

	e.debouncer.Cancel()
	e.replica.SetLabel(nodeID, lastSent)
	e.replica.Unlock()
}

// send publishes the node when its label differs from the last value sent.
func (e *Editor) send(ctx context.Context, nodeID string) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	n, ok := e.replica.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	e.mu.Lock()
	if e.nodeID != nodeID || n.Data.Label == e.lastSent {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.publisher.PublishChange(ctx, mindmap.ChangeNodes, mindmap.Changes{Nodes: []mindmap.Node{n}}); err != nil {
		return err
	}

	e.mu.Lock()
	if e.nodeID == nodeID {
		e.lastSent = n.Data.Label
	}
	e.mu.Unlock()
	return nil
}
