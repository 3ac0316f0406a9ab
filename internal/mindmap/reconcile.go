package mindmap

import "slices"

// State is the client-local document together with the edit lock that guards
// it against remote overwrites. Reducers never mutate their input.
type State struct {
	Doc  Document
	Lock EditLock
	// Version is the last synthetic version marker handed out.
	Version uint64
}

// NewState wraps a loaded document.
func NewState(doc Document) State {
	return State{Doc: doc.Clone()}
}

// ApplyRemoteChange merges an inbound batch into s.
//
// Nodes present locally and remotely take the remote primary attributes with
// a shallow-merged style and a fresh version marker, except the locked node
// which is left untouched. Remote nodes unknown locally are appended. Edges
// are a plain id-keyed union. Entities absent from the batch are never
// removed.
func ApplyRemoteChange(s State, env Envelope) State {
	next := s
	if env.ChangeType.HasNodes() {
		next.Doc.Nodes, next.Version = mergeNodes(s.Doc.Nodes, NormalizeNodes(env.Changes.Nodes), s.Lock, s.Version)
	}
	if env.ChangeType.HasEdges() {
		next.Doc.Edges = mergeEdges(s.Doc.Edges, NormalizeEdges(env.Changes.Edges))
	}
	return next
}

func mergeNodes(local, remote []Node, lock EditLock, version uint64) ([]Node, uint64) {
	byID := make(map[string]Node, len(remote))
	for _, n := range remote {
		byID[n.ID] = n
	}

	merged := make([]Node, 0, len(local)+len(remote))
	known := make(map[string]struct{}, len(local))
	for _, ln := range local {
		known[ln.ID] = struct{}{}
		if lock.Holds(ln.ID) {
			merged = append(merged, ln)
			continue
		}
		rn, ok := byID[ln.ID]
		if !ok {
			merged = append(merged, ln)
			continue
		}
		version++
		merged = append(merged, mergeNode(ln, rn, version))
	}

	for _, rn := range remote {
		if _, ok := known[rn.ID]; ok {
			continue
		}
		known[rn.ID] = struct{}{}
		merged = append(merged, byID[rn.ID])
	}
	return merged, version
}

func mergeNode(local, remote Node, version uint64) Node {
	out := remote.Clone()
	if out.Position == nil && local.Position != nil {
		p := *local.Position
		out.Position = &p
	}
	if len(local.Data.Style) > 0 || len(remote.Data.Style) > 0 {
		style := make(map[string]any, len(local.Data.Style)+len(remote.Data.Style))
		for k, v := range local.Data.Style {
			style[k] = v
		}
		for k, v := range remote.Data.Style {
			style[k] = v
		}
		out.Data.Style = style
	}
	out.Data.Version = version
	return out
}

func mergeEdges(local, remote []Edge) []Edge {
	merged := slices.Clone(local)
	index := make(map[string]int, len(local))
	for i, e := range merged {
		index[e.ID] = i
	}
	for _, e := range remote {
		if i, ok := index[e.ID]; ok {
			merged[i] = e
			continue
		}
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}
	return merged
}

// LockNode starts an edit session on nodeID.
func LockNode(s State, nodeID string) State {
	s.Lock = s.Lock.Lock(nodeID)
	return s
}

// UnlockNode ends the current edit session.
func UnlockNode(s State) State {
	s.Lock = s.Lock.Unlock()
	return s
}

// UpsertNode replaces the node with the same id or appends n. Local edits
// bypass the edit lock.
func UpsertNode(s State, n Node) State {
	n = n.Clone()
	if n.Type == "" {
		n.Type = DefaultNodeType
	}
	nodes := slices.Clone(s.Doc.Nodes)
	if i := slices.IndexFunc(nodes, func(x Node) bool { return x.ID == n.ID }); i >= 0 {
		nodes[i] = n
	} else {
		nodes = append(nodes, n)
	}
	s.Doc.Nodes = nodes
	return s
}

// SetLabel changes the label of nodeID. It reports false when the node does
// not exist.
func SetLabel(s State, nodeID, label string) (State, bool) {
	n, ok := s.Doc.Node(nodeID)
	if !ok {
		return s, false
	}
	n = n.Clone()
	n.Data.Label = label
	return UpsertNode(s, n), true
}

// UpsertEdge replaces the edge with the same id or appends e.
func UpsertEdge(s State, e Edge) State {
	s.Doc.Edges = mergeEdges(s.Doc.Edges, []Edge{e.Clone()})
	return s
}

// DeleteNodes removes the given nodes and every edge touching them. This is
// the only path that removes nodes from local state.
func DeleteNodes(s State, ids ...string) State {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.Doc.Nodes = slices.DeleteFunc(slices.Clone(s.Doc.Nodes), func(n Node) bool {
		_, ok := drop[n.ID]
		return ok
	})
	s.Doc.Edges = slices.DeleteFunc(slices.Clone(s.Doc.Edges), func(e Edge) bool {
		_, src := drop[e.Source]
		_, dst := drop[e.Target]
		return src || dst
	})
	if _, ok := drop[s.Lock.NodeID()]; ok {
		s.Lock = s.Lock.Unlock()
	}
	return s
}
