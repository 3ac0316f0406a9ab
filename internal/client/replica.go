package client

import (
	"sync"

	"github.com/vovakirdan/mindsync/internal/mindmap"
)

// Replica holds the local document and applies remote batches to it through
// the mindmap reducers.
type Replica struct {
	mu    sync.Mutex
	state mindmap.State

	changed listeners[mindmap.Document]
}

// NewReplica starts a replica from a loaded document.
func NewReplica(doc mindmap.Document) *Replica {
	return &Replica{state: mindmap.NewState(doc)}
}

// Attach applies every remote change received by s and returns a function
// that stops it.
func (r *Replica) Attach(s *Session) (detach func()) {
	return s.OnChange(r.Apply)
}

// Apply merges a remote batch.
func (r *Replica) Apply(env mindmap.Envelope) {
	r.update(func(st mindmap.State) mindmap.State {
		return mindmap.ApplyRemoteChange(st, env)
	})
}

// Load replaces the document wholesale, e.g. after reloading it from
// persistence. The edit lock is released.
func (r *Replica) Load(doc mindmap.Document) {
	r.update(func(mindmap.State) mindmap.State {
		return mindmap.NewState(doc)
	})
}

// Document returns a copy of the current document.
func (r *Replica) Document() mindmap.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Doc.Clone()
}

// Node returns a copy of one node.
func (r *Replica) Node(id string) (mindmap.Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.state.Doc.Node(id)
	if !ok {
		return mindmap.Node{}, false
	}
	return n.Clone(), true
}

// Lock protects nodeID from remote overwrites, releasing any other node.
func (r *Replica) Lock(nodeID string) {
	r.mu.Lock()
	r.state = mindmap.LockNode(r.state, nodeID)
	r.mu.Unlock()
}

// Unlock releases the edit lock.
func (r *Replica) Unlock() {
	r.mu.Lock()
	r.state = mindmap.UnlockNode(r.state)
	r.mu.Unlock()
}

// Locked returns the locked node id, or "".
func (r *Replica) Locked() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Lock.NodeID()
}

// UpsertNode writes a local node.
func (r *Replica) UpsertNode(n mindmap.Node) {
	r.update(func(st mindmap.State) mindmap.State {
		return mindmap.UpsertNode(st, n)
	})
}

// UpsertEdge writes a local edge.
func (r *Replica) UpsertEdge(e mindmap.Edge) {
	r.update(func(st mindmap.State) mindmap.State {
		return mindmap.UpsertEdge(st, e)
	})
}

// SetLabel changes a node label locally. It reports false for an unknown
// node.
func (r *Replica) SetLabel(nodeID, label string) bool {
	var ok bool
	r.update(func(st mindmap.State) mindmap.State {
		var next mindmap.State
		next, ok = mindmap.SetLabel(st, nodeID, label)
		return next
	})
	return ok
}

// DeleteNodes removes nodes and their edges.
func (r *Replica) DeleteNodes(ids ...string) {
	r.update(func(st mindmap.State) mindmap.State {
		return mindmap.DeleteNodes(st, ids...)
	})
}

// OnChange registers a listener called with a copy of the document after
// every mutation.
func (r *Replica) OnChange(fn func(mindmap.Document)) (off func()) {
	return r.changed.add(fn)
}

func (r *Replica) update(fn func(mindmap.State) mindmap.State) {
	r.mu.Lock()
	r.state = fn(r.state)
	doc := r.state.Doc.Clone()
	r.mu.Unlock()

	r.changed.emit(doc)
}
