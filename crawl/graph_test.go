package crawl

import (
	"context"
	"testing"
)

func newTestNode(t *testing.T, url string, depth int) *Node {
	t.Helper()
	return NewNode(context.Background(), url, depth)
}

func TestGraphAddNodeCollision(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/", 0)
	b := newTestNode(t, "https://example.com/", 0)

	got := g.AddNode(a, false)
	if got != a {
		t.Fatalf("expected first insert to return a")
	}
	got = g.AddNode(b, false)
	if got != a {
		t.Fatalf("expected collision without overwrite to keep existing node")
	}
	got = g.AddNode(b, true)
	if got != b {
		t.Fatalf("expected overwrite=true to replace node")
	}
	if g.NodeCount() != 1 {
		t.Fatalf("expected single node after collision, got %d", g.NodeCount())
	}
}

func TestGraphAddEdgeRequiresBothEndpoints(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 1)
	g.AddNode(a, false)

	if g.AddEdge(NewEdge(a.ID(), b.ID(), nil)) {
		t.Fatalf("expected edge to be rejected when target is absent")
	}
	g.AddNode(b, false)
	if !g.AddEdge(NewEdge(a.ID(), b.ID(), nil)) {
		t.Fatalf("expected edge to be admitted once both endpoints exist")
	}
	if g.AddEdge(NewEdge(a.ID(), b.ID(), nil)) {
		t.Fatalf("expected duplicate (source,target) edge to be rejected")
	}
}

func TestGraphRemoveNodeCascadesEdges(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 1)
	g.AddNode(a, false)
	g.AddNode(b, false)
	g.AddEdge(NewEdge(a.ID(), b.ID(), nil))

	if !g.RemoveNode(b.ID()) {
		t.Fatalf("expected RemoveNode to succeed")
	}
	if g.EdgeCount() != 0 {
		t.Fatalf("expected incident edges removed, got %d", g.EdgeCount())
	}
	if _, ok := g.GetNodeByURL("https://example.com/b"); ok {
		t.Fatalf("expected node to be gone")
	}
}

func TestGraphStats(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 2)
	a.MarkScanned()
	g.AddNode(a, false)
	g.AddNode(b, false)

	stats := g.Stats()
	if stats.TotalNodes != 2 || stats.ScannedNodes != 1 || stats.UnscannedNodes != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.MaxDepth != 2 {
		t.Fatalf("expected max depth 2, got %d", stats.MaxDepth)
	}
	if stats.AvgDepth != 1.0 {
		t.Fatalf("expected avg depth 1.0, got %v", stats.AvgDepth)
	}
}

func TestGraphUnionIdempotentUnderFirst(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 1)
	g.AddNode(a, false)
	g.AddNode(b, false)
	g.AddEdge(NewEdge(a.ID(), b.ID(), nil))

	merged := g.Union(g, MergeFirst)
	if merged.NodeCount() != g.NodeCount() || merged.EdgeCount() != g.EdgeCount() {
		t.Fatalf("expected G ∪ G == G, got nodes=%d edges=%d", merged.NodeCount(), merged.EdgeCount())
	}
}

func TestGraphDifferenceByNodeID(t *testing.T) {
	left := NewGraph()
	right := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 1)
	left.AddNode(a, false)
	left.AddNode(b, false)
	right.AddNode(a, false)

	diff := left.Difference(right)
	if diff.NodeCount() != 1 {
		t.Fatalf("expected one node remaining, got %d", diff.NodeCount())
	}
	if _, ok := diff.GetNodeByID(b.ID()); !ok {
		t.Fatalf("expected b to survive the difference")
	}
}

func TestGraphIntersectionMergeStrategy(t *testing.T) {
	left := NewGraph()
	right := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	left.AddNode(a, false)
	right.AddNode(a, false)

	inter := left.Intersection(right, MergeFirst)
	if inter.NodeCount() != 1 {
		t.Fatalf("expected shared node to survive intersection, got %d", inter.NodeCount())
	}
}

func TestGraphToDTORoundTrip(t *testing.T) {
	g := NewGraph()
	a := newTestNode(t, "https://example.com/a", 0)
	b := newTestNode(t, "https://example.com/b", 1)
	g.AddNode(a, false)
	g.AddNode(b, false)
	g.AddEdge(NewEdge(a.ID(), b.ID(), map[string]interface{}{"anchor": "b"}))

	dto := g.ToDTO()
	restored := GraphFromDTO(dto)
	if restored.NodeCount() != 2 || restored.EdgeCount() != 1 {
		t.Fatalf("round trip lost data: nodes=%d edges=%d", restored.NodeCount(), restored.EdgeCount())
	}
}
