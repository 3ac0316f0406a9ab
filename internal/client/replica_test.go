package client

import (
	"testing"

	"github.com/vovakirdan/mindsync/internal/mindmap"
)

func TestReplicaDeleteNodesNotifies(t *testing.T) {
	r := NewReplica(mindmap.Document{
		Nodes: []mindmap.Node{{ID: "1"}, {ID: "2"}},
		Edges: []mindmap.Edge{{ID: "e", Source: "1", Target: "2"}},
	})

	var last mindmap.Document
	r.OnChange(func(doc mindmap.Document) { last = doc })

	r.DeleteNodes("2")
	if len(last.Nodes) != 1 || len(last.Edges) != 0 {
		t.Fatalf("unexpected document after delete: %+v", last)
	}
}

func TestReplicaAbsenceNeverDeletes(t *testing.T) {
	r := NewReplica(mindmap.Document{Nodes: []mindmap.Node{{ID: "1"}, {ID: "2"}}})

	r.Apply(mindmap.Envelope{
		ChangeType: mindmap.ChangeBoth,
		Changes:    mindmap.Changes{Nodes: []mindmap.Node{{ID: "3"}}},
	})

	doc := r.Document()
	if len(doc.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %+v", doc.Nodes)
	}
}

func TestReplicaDocumentIsACopy(t *testing.T) {
	r := NewReplica(mindmap.Document{Nodes: []mindmap.Node{{ID: "1", Data: mindmap.NodeData{Label: "a"}}}})

	doc := r.Document()
	doc.Nodes[0].Data.Label = "b"

	if n, _ := r.Node("1"); n.Data.Label != "a" {
		t.Fatalf("replica mutated through a returned copy")
	}
}
