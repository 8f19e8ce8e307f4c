package crawl

import (
	"context"
	"testing"
)

func newTestLinkProcessor(t *testing.T, opts ...LinkProcessorOption) (*LinkProcessor, *Graph, *Scheduler) {
	t.Helper()
	g := NewGraph()
	s := NewScheduler(0, nil)
	lp := NewLinkProcessor(g, s, opts...)
	return lp, g, s
}

func TestProcessLinksAdmitsNewNodes(t *testing.T) {
	lp, g, s := newTestLinkProcessor(t)
	parent := newTestNode(t, "https://example.com/", 0)
	g.AddNode(parent, false)

	admitted := lp.ProcessLinks(context.Background(), parent, []string{"/a", "/b", "/a"})
	if admitted != 2 {
		t.Fatalf("expected 2 distinct links admitted, got %d", admitted)
	}
	if g.NodeCount() != 3 {
		t.Fatalf("expected parent + 2 children in graph, got %d", g.NodeCount())
	}
	if s.Size() != 2 {
		t.Fatalf("expected 2 nodes queued, got %d", s.Size())
	}
}

func TestProcessLinksRespectsCanCreateEdges(t *testing.T) {
	lp, g, _ := newTestLinkProcessor(t)
	parent := newTestNode(t, "https://example.com/", 0)
	parent.SetCanCreateEdges(false)
	g.AddNode(parent, false)

	admitted := lp.ProcessLinks(context.Background(), parent, []string{"/a"})
	if admitted != 0 {
		t.Fatalf("expected no links admitted when can_create_edges=false")
	}
}

func TestProcessLinksDomainFilterRejects(t *testing.T) {
	domain := NewDomainFilter("example.com", []string{DomainSentinelBase}, nil)
	lp, g, s := newTestLinkProcessor(t, WithDomainFilter(domain))
	parent := newTestNode(t, "https://example.com/", 0)
	g.AddNode(parent, false)

	lp.ProcessLinks(context.Background(), parent, []string{"https://other.com/x"})
	if s.Size() != 0 {
		t.Fatalf("expected cross-domain link to be rejected by the domain filter")
	}
}

func TestProcessLinksEdgeStrategyNewOnly(t *testing.T) {
	lp, g, _ := newTestLinkProcessor(t, WithEdgeStrategy(EdgeStrategy{Kind: EdgeNewOnly}))
	parent := newTestNode(t, "https://example.com/", 0)
	g.AddNode(parent, false)

	lp.ProcessLinks(context.Background(), parent, []string{"/a"})
	if g.EdgeCount() != 1 {
		t.Fatalf("expected edge created for newly discovered node")
	}

	other := newTestNode(t, "https://example.com/other", 0)
	g.AddNode(other, false)
	lp.ProcessLinks(context.Background(), other, []string{"/a"})
	if g.EdgeCount() != 1 {
		t.Fatalf("expected NEW_ONLY to skip an edge to an already-existing node")
	}
}

func TestProcessLinksExplicitScanDecisionOverridesFilters(t *testing.T) {
	domain := NewDomainFilter("example.com", []string{DomainSentinelBase}, nil)
	lp, g, s := newTestLinkProcessor(t, WithDomainFilter(domain))
	parent := newTestNode(t, "https://example.com/", 0)
	parent.UserData()["explicit_scan_decisions"] = map[string]bool{"https://other.com/x": true}
	g.AddNode(parent, false)

	lp.ProcessLinks(context.Background(), parent, []string{"https://other.com/x"})
	if s.Size() != 1 {
		t.Fatalf("expected explicit_scan_decisions to override the domain filter")
	}
}
