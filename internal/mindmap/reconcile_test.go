package mindmap

import "testing"

func testDoc() Document {
	return Document{
		Nodes: []Node{
			{ID: "1", Type: "custom", Position: &Position{X: 1, Y: 2}, Data: NodeData{Label: "root", Style: map[string]any{"color": "#000", "width": 280}}},
			{ID: "5", Type: "custom", Position: &Position{X: 10, Y: 20}, Data: NodeData{Label: "local five"}},
		},
		Edges: []Edge{
			{ID: "e1-5", Source: "1", Target: "5", Type: "default"},
		},
	}
}

func nodesEnvelope(nodes ...Node) Envelope {
	return Envelope{DocumentID: "doc1", OriginUserID: "u2", ChangeType: ChangeNodes, Changes: Changes{Nodes: nodes}}
}

func TestApplyRemoteChangeReplacesAndMergesStyle(t *testing.T) {
	s := NewState(testDoc())

	next := ApplyRemoteChange(s, nodesEnvelope(Node{
		ID:   "1",
		Data: NodeData{Label: "renamed", Style: map[string]any{"color": "#fff"}},
	}))

	n, ok := next.Doc.Node("1")
	if !ok {
		t.Fatalf("node 1 missing after merge")
	}
	if n.Data.Label != "renamed" {
		t.Fatalf("expected remote label, got %q", n.Data.Label)
	}
	if n.Data.Style["color"] != "#fff" {
		t.Fatalf("expected remote style key to win, got %v", n.Data.Style["color"])
	}
	if n.Data.Style["width"] != 280 {
		t.Fatalf("expected local-only style key to be kept, got %v", n.Data.Style)
	}
	if n.Position == nil || n.Position.X != 1 || n.Position.Y != 2 {
		t.Fatalf("expected local position when remote has none, got %+v", n.Position)
	}
	if n.Data.Version == 0 {
		t.Fatalf("expected version marker to be stamped")
	}

	// The input state must be left alone.
	orig, _ := s.Doc.Node("1")
	if orig.Data.Label != "root" || orig.Data.Style["color"] != "#000" {
		t.Fatalf("input state was mutated: %+v", orig)
	}
}

func TestApplyRemoteChangeVersionIsMonotonic(t *testing.T) {
	s := NewState(testDoc())
	same := Node{ID: "1", Data: NodeData{Label: "root"}}

	s = ApplyRemoteChange(s, nodesEnvelope(same))
	first, _ := s.Doc.Node("1")
	s = ApplyRemoteChange(s, nodesEnvelope(same))
	second, _ := s.Doc.Node("1")

	if second.Data.Version <= first.Data.Version {
		t.Fatalf("expected version to grow on identical content: %d then %d", first.Data.Version, second.Data.Version)
	}
}

func TestApplyRemoteChangeSkipsLockedNode(t *testing.T) {
	s := LockNode(NewState(testDoc()), "5")

	s = ApplyRemoteChange(s, nodesEnvelope(
		Node{ID: "5", Data: NodeData{Label: "remote five"}},
		Node{ID: "1", Data: NodeData{Label: "remote root"}},
	))

	five, _ := s.Doc.Node("5")
	if five.Data.Label != "local five" || five.Data.Version != 0 {
		t.Fatalf("locked node changed: %+v", five)
	}
	root, _ := s.Doc.Node("1")
	if root.Data.Label != "remote root" {
		t.Fatalf("unlocked node should merge, got %q", root.Data.Label)
	}
}

func TestRemoteEditDuringLockIsLostAfterUnlock(t *testing.T) {
	s := NewState(testDoc())
	s = LockNode(s, "5")
	s, _ = SetLabel(s, "5", "Hello World")

	s = ApplyRemoteChange(s, nodesEnvelope(Node{ID: "5", Data: NodeData{Label: "from user2"}}))
	s = UnlockNode(s)

	five, _ := s.Doc.Node("5")
	if five.Data.Label != "Hello World" {
		t.Fatalf("expected local value to survive unlock, got %q", five.Data.Label)
	}
}

func TestApplyRemoteChangeAppendsUnknownNodesAndNeverDeletes(t *testing.T) {
	s := NewState(testDoc())

	s = ApplyRemoteChange(s, nodesEnvelope(Node{ID: "9", Data: NodeData{Label: "new"}}))

	if len(s.Doc.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(s.Doc.Nodes))
	}
	nine, ok := s.Doc.Node("9")
	if !ok || nine.Type != DefaultNodeType {
		t.Fatalf("expected appended node with default type, got %+v", nine)
	}
	if _, ok := s.Doc.Node("5"); !ok {
		t.Fatalf("node absent from batch must not be deleted")
	}
}

func TestApplyRemoteChangeEdgesUnion(t *testing.T) {
	s := LockNode(NewState(testDoc()), "5")

	s = ApplyRemoteChange(s, Envelope{
		ChangeType: ChangeEdges,
		Changes: Changes{
			Nodes: []Node{{ID: "1", Data: NodeData{Label: "ignored"}}},
			Edges: []Edge{
				{ID: "e1-5", Source: "1", Target: "5", Label: "relabelled"},
				{ID: "e5-9", Source: "5", Target: "9"},
				{ID: "broken", Source: "5"},
			},
		},
	})

	if len(s.Doc.Edges) != 2 {
		t.Fatalf("expected 2 edges, got %+v", s.Doc.Edges)
	}
	e, _ := s.Doc.Edge("e1-5")
	if e.Label != "relabelled" {
		t.Fatalf("expected edge replace, got %+v", e)
	}
	root, _ := s.Doc.Node("1")
	if root.Data.Label != "root" {
		t.Fatalf("edges-only batch touched nodes: %+v", root)
	}
}

func TestNormalizeNodesAssignsIDs(t *testing.T) {
	got := NormalizeNodes([]Node{{Data: NodeData{Label: "a"}}, {ID: "x", Type: "note"}})
	if got[0].ID != "node-0" || got[0].Type != DefaultNodeType {
		t.Fatalf("unexpected normalized node: %+v", got[0])
	}
	if got[1].ID != "x" || got[1].Type != "note" {
		t.Fatalf("existing fields overwritten: %+v", got[1])
	}
}

func TestDeleteNodesRemovesConnectedEdges(t *testing.T) {
	s := LockNode(NewState(testDoc()), "5")

	s = DeleteNodes(s, "5")

	if _, ok := s.Doc.Node("5"); ok {
		t.Fatalf("node 5 should be gone")
	}
	if len(s.Doc.Edges) != 0 {
		t.Fatalf("expected connected edge removed, got %+v", s.Doc.Edges)
	}
	if s.Lock.Locked() {
		t.Fatalf("deleting the locked node should release the lock")
	}
}

func TestEditLockSingleNode(t *testing.T) {
	var l EditLock
	if l.Locked() {
		t.Fatalf("zero lock must be unlocked")
	}
	l = l.Lock("a").Lock("b")
	if l.Holds("a") || !l.Holds("b") {
		t.Fatalf("locking b should release a: %+v", l)
	}
	if l.Unlock().Holds("b") {
		t.Fatalf("unlock should release b")
	}
}
