package mindmap

import (
	"fmt"
	"maps"
	"time"
)

// ChangeType names which collections a change batch carries.
type ChangeType string

const (
	ChangeNodes ChangeType = "nodes"
	ChangeEdges ChangeType = "edges"
	ChangeBoth  ChangeType = "both"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeNodes, ChangeEdges, ChangeBoth:
		return true
	default:
		return false
	}
}

// HasNodes reports whether a batch of this type carries nodes.
func (t ChangeType) HasNodes() bool { return t == ChangeNodes || t == ChangeBoth }

// HasEdges reports whether a batch of this type carries edges.
func (t ChangeType) HasEdges() bool { return t == ChangeEdges || t == ChangeBoth }

// DefaultNodeType is assigned to nodes arriving without a type.
const DefaultNodeType = "custom"

// DefaultEdgeType is assigned to edges arriving without a type.
const DefaultEdgeType = "default"

// Position is a node's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a mind map entity.
type Node struct {
	ID       string    `json:"id"`
	Type     string    `json:"type,omitempty"`
	Position *Position `json:"position,omitempty"`
	Data     NodeData  `json:"data"`
}

// NodeData holds the editable attributes of a node.
type NodeData struct {
	Label string         `json:"label"`
	Style map[string]any `json:"style,omitempty"`
	// Version is a synthetic marker bumped on every remote merge so that
	// identity-based change detection fires even for unchanged content.
	Version uint64 `json:"version,omitempty"`
}

// Edge connects two nodes.
type Edge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type,omitempty"`
	Label  string         `json:"label,omitempty"`
	Style  map[string]any `json:"style,omitempty"`
}

// Changes is the payload of a change-broadcast envelope.
type Changes struct {
	Nodes []Node `json:"nodes,omitempty"`
	Edges []Edge `json:"edges,omitempty"`
}

// Envelope is an inbound batch of remote mutations plus provenance.
type Envelope struct {
	DocumentID   string
	OriginUserID string
	ChangeType   ChangeType
	Changes      Changes
	Timestamp    time.Time
}

// Document is the local view of the shared graph.
type Document struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node looks a node up by id.
func (d Document) Node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge looks an edge up by id.
func (d Document) Edge(id string) (Edge, bool) {
	for _, e := range d.Edges {
		if e.ID == id {
			return e, true
		}
	}
	return Edge{}, false
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{
		Nodes: make([]Node, len(d.Nodes)),
		Edges: make([]Edge, len(d.Edges)),
	}
	for i, n := range d.Nodes {
		out.Nodes[i] = n.Clone()
	}
	for i, e := range d.Edges {
		out.Edges[i] = e.Clone()
	}
	return out
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	out := n
	if n.Position != nil {
		p := *n.Position
		out.Position = &p
	}
	out.Data.Style = maps.Clone(n.Data.Style)
	return out
}

// Clone returns a deep copy of e.
func (e Edge) Clone() Edge {
	out := e
	out.Style = maps.Clone(e.Style)
	return out
}

// NormalizeNodes fills defaults on a remote batch: missing ids become
// "node-<index>" and empty types become DefaultNodeType.
func NormalizeNodes(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for i, n := range nodes {
		n = n.Clone()
		if n.ID == "" {
			n.ID = fmt.Sprintf("node-%d", i)
		}
		if n.Type == "" {
			n.Type = DefaultNodeType
		}
		out = append(out, n)
	}
	return out
}

// NormalizeEdges fills defaults on a remote batch and drops edges that miss
// either endpoint.
func NormalizeEdges(edges []Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for i, e := range edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		e = e.Clone()
		if e.ID == "" {
			e.ID = fmt.Sprintf("edge-%d", i)
		}
		if e.Type == "" {
			e.Type = DefaultEdgeType
		}
		out = append(out, e)
	}
	return out
}
